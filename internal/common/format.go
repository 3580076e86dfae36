/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package common

import (
	"fmt"
	"io"
	"os"
	"strings"

	"trade-settlement-go/internal/models"

	"github.com/shopspring/decimal"
)

// DefaultWidth is the rule width of every CLI report.
const DefaultWidth = 80

// Report writes the boxed plain-text reports printed by the CLI tools.
type Report struct {
	w     io.Writer
	width int
}

func NewReport(w io.Writer) *Report {
	return &Report{w: w, width: DefaultWidth}
}

// Stdout returns a report on standard output.
func Stdout() *Report {
	return NewReport(os.Stdout)
}

func (r *Report) rule(char string) {
	fmt.Fprintln(r.w, strings.Repeat(char, r.width))
}

func (r *Report) Header(title string) {
	fmt.Fprintln(r.w)
	r.rule("=")
	fmt.Fprintln(r.w, title)
	r.rule("=")
}

func (r *Report) Footer(message string) {
	fmt.Fprintln(r.w)
	r.rule("=")
	fmt.Fprintln(r.w, message)
	r.rule("=")
	fmt.Fprintln(r.w)
}

// Divider separates two parts of the same report.
func (r *Report) Divider() {
	fmt.Fprintln(r.w)
	r.rule("-")
}

// Rule closes a block without a message.
func (r *Report) Rule() {
	r.rule("=")
}

// Section opens a titled group; the following Items are drawn inside its box.
func (r *Report) Section(title string, details ...string) {
	fmt.Fprintf(r.w, "\n┌─ %s\n", title)
	for _, d := range details {
		fmt.Fprintf(r.w, "│  %s\n", d)
	}
	fmt.Fprintln(r.w, "├"+strings.Repeat("─", r.width-2))
}

// Item prints one line of a section; the last item closes the box.
func (r *Report) Item(last bool, format string, args ...any) {
	prefix := "│  "
	if last {
		prefix = "└  "
	}
	fmt.Fprintf(r.w, prefix+format+"\n", args...)
}

// Field prints an aligned "label: value" line.
func (r *Report) Field(label string, value any) {
	fmt.Fprintf(r.w, "%-19s%v\n", label+":", value)
}

// Line prints free text.
func (r *Report) Line(format string, args ...any) {
	fmt.Fprintf(r.w, format+"\n", args...)
}

// Amount renders a value at the currency's precision, e.g. "0.05000000 BTC".
func Amount(currency models.Currency, amount decimal.Decimal) string {
	if !currency.Valid() {
		return amount.String() + " " + string(currency)
	}
	return amount.StringFixed(currency.Precision()) + " " + string(currency)
}
