package policy

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/teeline/settlement/internal/domain"
)

// PushPolicy decides how a push leg contributes to a winning parlay's payout.
type PushPolicy string

const (
	// PushReduceLegs drops push legs from the odds product.
	PushReduceLegs PushPolicy = "reduce_legs"
	// PushKeepOdds keeps a push leg's original odds in the product.
	PushKeepOdds PushPolicy = "keep_odds"
)

// DefaultPushPolicy returns the policy used when none is configured.
func DefaultPushPolicy() PushPolicy {
	return PushReduceLegs
}

// ParsePushPolicy validates a configured policy name.
func ParsePushPolicy(s string) (PushPolicy, error) {
	switch PushPolicy(s) {
	case PushReduceLegs, PushKeepOdds:
		return PushPolicy(s), nil
	case "":
		return DefaultPushPolicy(), nil
	}
	return "", fmt.Errorf("unknown push policy %q", s)
}

// Leg is a graded (or not yet graded) parlay leg.
type Leg struct {
	Outcome *domain.Outcome
	Odds    int
}

// ParlayEvaluation holds the aggregated outcome of a parlay.
type ParlayEvaluation struct {
	Settled bool            `json:"settled"`
	Outcome domain.Outcome  `json:"outcome,omitempty"`
	Payout  decimal.Decimal `json:"payout"`
}

// EvaluateParlay aggregates leg outcomes. The parlay is only settled once every leg
// has an outcome. Any loss loses the parlay and pays nothing. All pushes refund
// the stake. Otherwise it wins and pays stake times the odds product of its legs.
func EvaluateParlay(stake decimal.Decimal, legs []Leg, pushPolicy PushPolicy) (ParlayEvaluation, error) {
	if len(legs) == 0 {
		return ParlayEvaluation{}, fmt.Errorf("parlay has no legs")
	}

	wins, pushes := 0, 0
	for _, l := range legs {
		if l.Outcome == nil {
			return ParlayEvaluation{Settled: false}, nil
		}
		switch *l.Outcome {
		case domain.OutcomeWin:
			wins++
		case domain.OutcomePush:
			pushes++
		case domain.OutcomeLoss:
		default:
			return ParlayEvaluation{}, fmt.Errorf("unknown leg outcome %q", *l.Outcome)
		}
	}

	if wins+pushes < len(legs) {
		return ParlayEvaluation{Settled: true, Outcome: domain.OutcomeLoss, Payout: decimal.Zero}, nil
	}
	if wins == 0 {
		return ParlayEvaluation{Settled: true, Outcome: domain.OutcomePush, Payout: RoundPayout(stake)}, nil
	}

	mult := decimal.NewFromInt(1)
	for _, l := range legs {
		if *l.Outcome == domain.OutcomePush && pushPolicy != PushKeepOdds {
			continue
		}
		d, err := DecimalOdds(l.Odds)
		if err != nil {
			return ParlayEvaluation{}, err
		}
		mult = mult.Mul(d)
	}

	return ParlayEvaluation{
		Settled: true,
		Outcome: domain.OutcomeWin,
		Payout:  RoundPayout(stake.Mul(mult)),
	}, nil
}

// PickOutcome grades a single pick against its matchup result.
func PickOutcome(selectedPlayerID string, result domain.MatchupResult) domain.Outcome {
	if result.IsPush || result.WinnerID == nil {
		return domain.OutcomePush
	}
	if *result.WinnerID == selectedPlayerID {
		return domain.OutcomeWin
	}
	return domain.OutcomeLoss
}
