// Package assignment picks the admin who will verify and settle a trade.
//
// Eligible admins are online and either cover the trade's country or every region
// (models.RegionAll). Among them the best rated wins, then the fastest to respond,
// then the least loaded. The admin id breaks any remaining tie so the choice is
// deterministic.
package assignment

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"trade-settlement-go/internal/models"

	"github.com/shopspring/decimal"
)

// Query describes the trade being assigned.
type Query struct {
	Region    string
	TradeType models.TradeType
	Amount    decimal.Decimal
}

// AdminLister is the read side the policy needs.
type AdminLister interface {
	ListAdmins(ctx context.Context, onlineOnly bool) ([]models.Admin, error)
}

type Policy struct {
	admins  AdminLister
	maxLoad int
}

// NewPolicy returns a policy reading from admins. maxLoad of zero disables the load cap.
func NewPolicy(admins AdminLister, maxLoad int) *Policy {
	return &Policy{admins: admins, maxLoad: maxLoad}
}

// PickAdmin returns the chosen admin id, or "" when nobody qualifies.
func (p *Policy) PickAdmin(ctx context.Context, q Query) (string, error) {
	admins, err := p.admins.ListAdmins(ctx, true)
	if err != nil {
		return "", fmt.Errorf("failed to list admins: %w", err)
	}
	return Pick(admins, q, p.maxLoad), nil
}

// Pick applies the policy to an in-memory candidate list.
func Pick(admins []models.Admin, q Query, maxLoad int) string {
	candidates := Eligible(admins, q.Region, maxLoad)
	if len(candidates) == 0 {
		return ""
	}
	Rank(candidates)
	return candidates[0].Id
}

// Eligible filters to online admins covering region and under maxLoad.
func Eligible(admins []models.Admin, region string, maxLoad int) []models.Admin {
	var out []models.Admin
	for _, a := range admins {
		if !a.IsOnline {
			continue
		}
		if !strings.EqualFold(a.Region, region) && !strings.EqualFold(a.Region, models.RegionAll) {
			continue
		}
		if maxLoad > 0 && a.CurrentLoad >= maxLoad {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Rank sorts admins best first.
func Rank(admins []models.Admin) {
	sort.SliceStable(admins, func(i, j int) bool {
		a, b := admins[i], admins[j]
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		if a.ResponseTimeSeconds != b.ResponseTimeSeconds {
			return a.ResponseTimeSeconds < b.ResponseTimeSeconds
		}
		if a.CurrentLoad != b.CurrentLoad {
			return a.CurrentLoad < b.CurrentLoad
		}
		return a.Id < b.Id
	})
}
