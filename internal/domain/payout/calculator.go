package payout

import (
	"time"

	"github.com/shopspring/decimal"
)

// RestaurantShareTable is the step function mapping an order total to the
// platform's variable share of the restaurant payout. Boundaries are
// inclusive on the lower tier: an order of exactly MediumOrderLimit still
// pays the medium share.
type RestaurantShareTable struct {
	SmallOrderLimit  decimal.Decimal // totals below this use SmallShare
	SmallShare       decimal.Decimal
	MediumOrderLimit decimal.Decimal // totals up to and including this use MediumShare
	MediumShare      decimal.Decimal
	LargeOrderLimit  decimal.Decimal // totals up to and including this use LargeShare
	LargeShare       decimal.Decimal
	BulkShare        decimal.Decimal // everything above LargeOrderLimit
}

// FeeSchedule holds every monetary constant of the payout calculation so a
// deployment can run with market-specific values instead of hardcoded ones.
type FeeSchedule struct {
	ProcessorRate    decimal.Decimal
	ProcessorFlatFee decimal.Decimal
	PlatformRate     decimal.Decimal

	RestaurantShares RestaurantShareTable

	AgentBaseFee   decimal.Decimal
	AgentBonusRate decimal.Decimal
	PrimeHourStart int // inclusive local clock-hour
	PrimeHourEnd   int // inclusive

	Currency string
	Country  string
}

// DefaultFeeSchedule returns the Danish-market schedule the service launched with.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		ProcessorRate:    decimal.NewFromFloat(0.015),
		ProcessorFlatFee: decimal.NewFromFloat(1.8),
		PlatformRate:     decimal.NewFromFloat(0.015),
		RestaurantShares: RestaurantShareTable{
			SmallOrderLimit:  decimal.NewFromInt(100),
			SmallShare:       decimal.NewFromFloat(0.08),
			MediumOrderLimit: decimal.NewFromInt(500),
			MediumShare:      decimal.NewFromFloat(0.06),
			LargeOrderLimit:  decimal.NewFromInt(1000),
			LargeShare:       decimal.NewFromFloat(0.04),
			BulkShare:        decimal.NewFromFloat(0.03),
		},
		AgentBaseFee:   decimal.NewFromInt(30),
		AgentBonusRate: decimal.NewFromFloat(0.1),
		PrimeHourStart: 17,
		PrimeHourEnd:   21,
		Currency:       "dkk",
		Country:        "DK",
	}
}

// Calculator computes the payout split for a completed order. Pure and
// deterministic; the only failure condition is a negative total.
type Calculator struct {
	schedule FeeSchedule
}

func NewCalculator(schedule FeeSchedule) *Calculator {
	return &Calculator{schedule: schedule}
}

func (c *Calculator) Schedule() FeeSchedule { return c.schedule }

// Compute derives the restaurant and delivery-agent payouts. The two are
// independent formulas: the restaurant payout scales with the order total
// after processor and platform fees, the agent payout is a flat base fee
// plus a prime-hour bonus derived from the delivery timestamp alone.
func (c *Calculator) Compute(total decimal.Decimal, deliveredAt time.Time) (PayoutResult, error) {
	if total.IsNegative() {
		return PayoutResult{}, ErrNegativeAmount
	}

	s := c.schedule
	one := decimal.NewFromInt(1)

	afterProcessorFees := total.Sub(total.Mul(s.ProcessorRate)).Sub(s.ProcessorFlatFee)
	afterPlatformFees := afterProcessorFees.Sub(afterProcessorFees.Mul(s.PlatformRate))

	restaurant := afterPlatformFees.Mul(one.Sub(c.variableShare(total))).Round(2)
	if restaurant.IsNegative() {
		// the flat processor fee can exceed tiny order totals
		restaurant = decimal.Zero
	}

	agent := s.AgentBaseFee
	if hour := deliveredAt.Hour(); hour >= s.PrimeHourStart && hour <= s.PrimeHourEnd {
		agent = agent.Add(agent.Mul(s.AgentBonusRate))
	}

	return PayoutResult{
		RestaurantPayout: restaurant,
		AgentPayout:      agent.Round(2),
	}, nil
}

func (c *Calculator) variableShare(total decimal.Decimal) decimal.Decimal {
	t := c.schedule.RestaurantShares
	switch {
	case total.LessThan(t.SmallOrderLimit):
		return t.SmallShare
	case total.LessThanOrEqual(t.MediumOrderLimit):
		return t.MediumShare
	case total.LessThanOrEqual(t.LargeOrderLimit):
		return t.LargeShare
	default:
		return t.BulkShare
	}
}
