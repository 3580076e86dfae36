package formance

import (
	"fmt"
	"strings"

	"trade-settlement-go/internal/models"
)

// ---------------------------------------------------------------------------
// Numscript templates. User accounts may overdraw in the mirror because deposits
// and withdrawals are not mirrored; the platform escrow account may not.
// ---------------------------------------------------------------------------

const numscriptEscrow = `vars {
  asset $crypto
  number $crypto_amount
  account $user
  string $trade_id
}

send [$crypto $crypto_amount] (
  source = $user allowing unbounded overdraft
  destination = @platform:escrow
)

set_tx_meta("event_type", "trade_escrow")
set_tx_meta("trade_id", $trade_id)
`

const numscriptBuyCompleted = `vars {
  asset $crypto
  number $crypto_amount
  account $user
  string $trade_id
  string $settled_by
}

send [$crypto $crypto_amount] (
  source = @platform:settlement allowing unbounded overdraft
  destination = $user
)

set_tx_meta("event_type", "trade_settle")
set_tx_meta("trade_id", $trade_id)
set_tx_meta("settled_by", $settled_by)
`

const numscriptSellCompleted = `vars {
  asset $crypto
  number $crypto_amount
  asset $fiat
  number $fiat_amount
  account $user
  string $trade_id
  string $settled_by
}

send [$crypto $crypto_amount] (
  source = @platform:escrow
  destination = @platform:settlement
)

send [$fiat $fiat_amount] (
  source = @platform:settlement allowing unbounded overdraft
  destination = $user
)

set_tx_meta("event_type", "trade_settle")
set_tx_meta("trade_id", $trade_id)
set_tx_meta("settled_by", $settled_by)
`

// numscriptSellPaidOut records a sell whose fiat went straight to the payout
// provider instead of resting on the user's balance.
const numscriptSellPaidOut = `vars {
  asset $crypto
  number $crypto_amount
  asset $fiat
  number $fiat_amount
  string $trade_id
  string $settled_by
  string $provider_tx_id
}

send [$crypto $crypto_amount] (
  source = @platform:escrow
  destination = @platform:settlement
)

send [$fiat $fiat_amount] (
  source = @platform:settlement allowing unbounded overdraft
  destination = @platform:payouts
)

set_tx_meta("event_type", "trade_payout")
set_tx_meta("trade_id", $trade_id)
set_tx_meta("settled_by", $settled_by)
set_tx_meta("provider_tx_id", $provider_tx_id)
`

const numscriptRefund = `vars {
  asset $crypto
  number $crypto_amount
  account $user
  string $trade_id
  string $outcome
}

send [$crypto $crypto_amount] (
  source = @platform:escrow
  destination = $user
)

set_tx_meta("event_type", "trade_refund")
set_tx_meta("trade_id", $trade_id)
set_tx_meta("outcome", $outcome)
`

type posting struct {
	reference string
	script    string
	vars      map[string]string
}

// accountAddress maps a ledger owner to its Formance account address.
func accountAddress(userId string) string {
	if strings.HasPrefix(userId, "platform:") {
		return userId
	}
	return "users:" + userId
}

// postingFor returns the mirror transaction for an event, if the event moved money.
// References match the local ledger so replays collapse into one transaction.
func postingFor(event models.TradeEvent) (posting, bool) {
	switch event.Type {
	case models.EventTradeCreated, models.EventTradeCompleted, models.EventTradeRejected, models.EventTradeCancelled:
	default:
		return posting{}, false
	}
	t := event.Trade
	vars := map[string]string{
		"crypto":        formanceAsset(t.Crypto),
		"crypto_amount": smallestUnits(t.CryptoAmount, t.Crypto),
		"user":          accountAddress(t.UserId),
		"trade_id":      t.Id,
	}
	ref := func(step string) string { return fmt.Sprintf("trade:%s:%s", t.Id, step) }

	switch {
	case event.Type == models.EventTradeCreated && t.Type == models.TradeSell:
		return posting{reference: ref("escrow"), script: numscriptEscrow, vars: vars}, true

	case t.Status == models.TradeCompleted && t.Type == models.TradeBuy:
		vars["settled_by"] = t.SettledBy
		return posting{reference: ref("settle"), script: numscriptBuyCompleted, vars: vars}, true

	case t.Status == models.TradeCompleted && t.Type == models.TradeSell:
		vars["settled_by"] = t.SettledBy
		vars["fiat"] = formanceAsset(t.FiatCurrency)
		vars["fiat_amount"] = smallestUnits(t.FiatAmount, t.FiatCurrency)
		if t.ProviderTxId != "" {
			delete(vars, "user")
			vars["provider_tx_id"] = t.ProviderTxId
			return posting{reference: ref("payout"), script: numscriptSellPaidOut, vars: vars}, true
		}
		return posting{reference: ref("release"), script: numscriptSellCompleted, vars: vars}, true

	case (t.Status == models.TradeRejected || t.Status == models.TradeCancelled) && t.Type == models.TradeSell:
		vars["outcome"] = string(t.Status)
		return posting{reference: ref("refund"), script: numscriptRefund, vars: vars}, true
	}
	return posting{}, false
}
