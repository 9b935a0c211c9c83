package health

import "github.com/shopspring/decimal"

// Bucket is one health-factor band of the population distribution.
type Bucket struct {
	Label              string
	Low                decimal.Decimal
	High               decimal.Decimal // ignored when Unbounded
	Unbounded          bool
	Count              int
	TotalCollateralUSD decimal.Decimal
	TotalDebtUSD       decimal.Decimal
}

// The bucket scheme is the contract of a historical time-series chart that
// downstream consumers render directly; bands and labels must not change.
// Boundaries are closed-open (low ≤ hf < high) except the final band.
var bands = []struct {
	label     string
	low, high string
	unbounded bool
}{
	{label: "1.0-1.1", low: "1.0", high: "1.1"},
	{label: "1.1-1.25", low: "1.1", high: "1.25"},
	{label: "1.25-1.5", low: "1.25", high: "1.5"},
	{label: "1.5-2.0", low: "1.5", high: "2.0"},
	{label: "2.0-3.0", low: "2.0", high: "3.0"},
	{label: "3.0-5.0", low: "3.0", high: "5.0"},
	{label: "> 5.0", low: "5.0", unbounded: true},
}

// BuildDistribution partitions a population into the fixed health-factor
// bands. Users with no debt (nil health factor) appear in no bucket — the
// distribution describes only indebted users. Users with HF below the first
// band (should not exist in a filtered population) are likewise skipped.
func BuildDistribution(users map[string]*UserAggregate) []Bucket {
	buckets := make([]Bucket, len(bands))
	for i, b := range bands {
		buckets[i] = Bucket{
			Label:              b.label,
			Low:                decimal.RequireFromString(b.low),
			Unbounded:          b.unbounded,
			TotalCollateralUSD: decimal.Zero,
			TotalDebtUSD:       decimal.Zero,
		}
		if !b.unbounded {
			buckets[i].High = decimal.RequireFromString(b.high)
		}
	}

	for _, u := range users {
		hf := u.HealthFactor()
		if hf == nil {
			continue
		}
		for i := range buckets {
			if hf.LessThan(buckets[i].Low) {
				continue
			}
			if !buckets[i].Unbounded && hf.GreaterThanOrEqual(buckets[i].High) {
				continue
			}
			buckets[i].Count++
			buckets[i].TotalCollateralUSD = buckets[i].TotalCollateralUSD.Add(u.TotalCollateralUSD())
			buckets[i].TotalDebtUSD = buckets[i].TotalDebtUSD.Add(u.TotalDebtUSD())
			break
		}
	}

	return buckets
}
