package pricing

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medisync-labs/medisync-backend/pkg/config"
	"github.com/medisync-labs/medisync-backend/pkg/enums"
	pkgerrors "github.com/medisync-labs/medisync-backend/pkg/errors"
)

const monthsPerYear = 12

var (
	errPerDoctorPriceRequired = errors.New("per-doctor monthly price must be at least 1 paise")
	errNegativePercent        = errors.New("pricing percentages must not be negative")

	hundred = decimal.NewFromInt(100)
)

// VolumeTier grants a percentage discount once a hospital reaches MinDoctors.
type VolumeTier struct {
	MinDoctors      int
	DiscountPercent decimal.Decimal
}

// DefaultTiers is the standard volume ladder. Steps stay small enough at each
// boundary that adding a doctor never lowers the total.
func DefaultTiers() []VolumeTier {
	return []VolumeTier{
		{MinDoctors: 5, DiscountPercent: decimal.NewFromInt(5)},
		{MinDoctors: 10, DiscountPercent: decimal.NewFromInt(8)},
		{MinDoctors: 25, DiscountPercent: decimal.NewFromInt(10)},
		{MinDoctors: 50, DiscountPercent: decimal.NewFromInt(11)},
	}
}

// Policy carries every knob the calculator needs. Built from config once at
// startup so quotes stay deterministic for the life of the process.
type Policy struct {
	PerDoctorMonthlyPaise int64
	YearlyDiscountPercent decimal.Decimal
	PlatformFeePercent    decimal.Decimal
	GSTPercent            decimal.Decimal
	FeeOnNetPayable       bool
	Tiers                 []VolumeTier
}

// NewPolicy builds a Policy from the billing config with the default tiers.
func NewPolicy(cfg config.BillingConfig) Policy {
	return Policy{
		PerDoctorMonthlyPaise: cfg.PerDoctorMonthlyPaise,
		YearlyDiscountPercent: cfg.YearlyDiscountPercent,
		PlatformFeePercent:    cfg.PlatformFeePercent,
		GSTPercent:            cfg.GSTPercent,
		FeeOnNetPayable:       cfg.FeeOnNetPayable,
		Tiers:                 DefaultTiers(),
	}
}

// CurrentTerm describes the subscription term being replaced. Only used for
// the proration credit.
type CurrentTerm struct {
	PricePaise int64
	StartsAt   time.Time
	EndsAt     time.Time
}

// Inputs is everything a renewal quote depends on.
type Inputs struct {
	HospitalID  uuid.UUID
	DoctorCount int
	Cycle       enums.BillingCycle
	Current     *CurrentTerm
	Now         time.Time
}

// Quote is the full audit breakdown of a renewal price. All amounts are whole
// paise; PayablePaise is what the gateway order is created for.
type Quote struct {
	DoctorCount           int
	Cycle                 enums.BillingCycle
	BasePaise             int64
	VolumeDiscountPercent decimal.Decimal
	VolumeDiscountPaise   int64
	YearlyDiscountPaise   int64
	SubtotalPaise         int64
	ProrationCreditPaise  int64
	PlatformFeePaise      int64
	GSTPaise              int64
	PayablePaise          int64
	Currency              enums.Currency
}

// Calculator prices renewals. Pure and deterministic: same inputs, same quote.
type Calculator struct {
	policy Policy
}

// NewCalculator validates the policy and returns a calculator.
func NewCalculator(policy Policy) (*Calculator, error) {
	if policy.PerDoctorMonthlyPaise < 1 {
		return nil, errPerDoctorPriceRequired
	}
	for _, pct := range []decimal.Decimal{policy.YearlyDiscountPercent, policy.PlatformFeePercent, policy.GSTPercent} {
		if pct.IsNegative() {
			return nil, errNegativePercent
		}
	}
	for _, tier := range policy.Tiers {
		if tier.DiscountPercent.IsNegative() {
			return nil, errNegativePercent
		}
	}
	return &Calculator{policy: policy}, nil
}

// Calculate prices one renewal. The breakdown reconciles exactly in integer
// paise: Subtotal = Base - VolumeDiscount - YearlyDiscount and
// Payable = Subtotal - ProrationCredit + PlatformFee + GST, floored at 1 paise.
func (c *Calculator) Calculate(in Inputs) (*Quote, error) {
	if in.DoctorCount < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "doctor count must be at least 1")
	}
	if !in.Cycle.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown billing cycle")
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	months := int64(1)
	if in.Cycle == enums.BillingCycleYearly {
		months = monthsPerYear
	}

	monthlyBase := decimal.NewFromInt(int64(in.DoctorCount)).Mul(decimal.NewFromInt(c.policy.PerDoctorMonthlyPaise))
	base := monthlyBase.Mul(decimal.NewFromInt(months))
	basePaise := roundPaise(base)

	tier := c.selectTier(in.DoctorCount)
	volumePercent := decimal.Zero
	if tier != nil {
		volumePercent = tier.DiscountPercent
	}
	volumeDiscountPaise := roundPaise(base.Mul(volumePercent).Div(hundred))

	yearlyDiscountPaise := int64(0)
	if in.Cycle == enums.BillingCycleYearly {
		discounted := decimal.NewFromInt(basePaise - volumeDiscountPaise)
		yearlyDiscountPaise = roundPaise(discounted.Mul(c.policy.YearlyDiscountPercent).Div(hundred))
	}

	subtotalPaise := basePaise - volumeDiscountPaise - yearlyDiscountPaise
	creditPaise := roundPaise(prorationCredit(in.Current, now))

	feeBasePaise := subtotalPaise
	if c.policy.FeeOnNetPayable {
		feeBasePaise = subtotalPaise - creditPaise
		if feeBasePaise < 0 {
			feeBasePaise = 0
		}
	}
	feePaise := roundPaise(decimal.NewFromInt(feeBasePaise).Mul(c.policy.PlatformFeePercent).Div(hundred))
	gstPaise := roundPaise(decimal.NewFromInt(feePaise).Mul(c.policy.GSTPercent).Div(hundred))

	payablePaise := subtotalPaise - creditPaise + feePaise + gstPaise
	if payablePaise < 1 {
		payablePaise = 1
	}

	return &Quote{
		DoctorCount:           in.DoctorCount,
		Cycle:                 in.Cycle,
		BasePaise:             basePaise,
		VolumeDiscountPercent: volumePercent,
		VolumeDiscountPaise:   volumeDiscountPaise,
		YearlyDiscountPaise:   yearlyDiscountPaise,
		SubtotalPaise:         subtotalPaise,
		ProrationCreditPaise:  creditPaise,
		PlatformFeePaise:      feePaise,
		GSTPaise:              gstPaise,
		PayablePaise:          payablePaise,
		Currency:              enums.CurrencyINR,
	}, nil
}

// selectTier picks the single highest tier the doctor count qualifies for.
func (c *Calculator) selectTier(doctorCount int) *VolumeTier {
	var selected *VolumeTier
	for _, tier := range c.policy.Tiers {
		if tier.MinDoctors <= doctorCount {
			if selected == nil || tier.MinDoctors > selected.MinDoctors {
				copy := tier
				selected = &copy
			}
		}
	}
	return selected
}

// prorationCredit values the unused remainder of the current term: the term's
// daily rate times the whole days left. Expired or missing terms credit nothing.
func prorationCredit(current *CurrentTerm, now time.Time) decimal.Decimal {
	if current == nil || current.PricePaise <= 0 {
		return decimal.Zero
	}
	if !now.Before(current.EndsAt) {
		return decimal.Zero
	}
	termDays := wholeDays(current.EndsAt.Sub(current.StartsAt))
	if termDays <= 0 {
		return decimal.Zero
	}
	remainingDays := wholeDays(current.EndsAt.Sub(now))
	if remainingDays <= 0 {
		return decimal.Zero
	}
	if remainingDays > termDays {
		remainingDays = termDays
	}
	dailyRate := decimal.NewFromInt(current.PricePaise).Div(decimal.NewFromInt(termDays))
	return dailyRate.Mul(decimal.NewFromInt(remainingDays))
}

func wholeDays(d time.Duration) int64 {
	return int64(d / (24 * time.Hour))
}

// roundPaise rounds half-up to whole paise.
func roundPaise(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}
