// Package aql computes acceptance-sampling plans and verdicts for lot
// inspection under a general inspection level.
package aql

import (
	"math"

	"inspectline/internal/domain"
)

// bucket maps a maximum lot size to its single-sampling sample size.
type bucket struct {
	maxLot int
	sample int
}

var buckets = []bucket{
	{8, 2},
	{15, 3},
	{25, 5},
	{50, 8},
	{90, 13},
	{150, 20},
	{280, 32},
	{500, 50},
	{1200, 80},
	{3200, 125},
	{10000, 200},
	{35000, 315},
	{150000, 500},
	{500000, 800},
	{1000000000, 1250},
}

// Plan is the sampling prescription for one lot: how many units to inspect
// and how many defects of each severity the lot tolerates.
type Plan struct {
	LotSize         int     `json:"lot_size"`
	AQLLevel        float64 `json:"aql_level"`
	SampleSize      int     `json:"sample_size"`
	CriticalAllowed int     `json:"critical_defects_allowed"`
	MajorAllowed    int     `json:"major_defects_allowed"`
	MinorAllowed    int     `json:"minor_defects_allowed"`
}

// Compute derives the sampling plan for a lot. Minor defects are judged at
// 1.6x the stated quality level. Critical defects are never tolerated.
// Compute is total: out-of-range inputs are clamped (lot below 1 becomes 1,
// a negative level becomes 0) so a stored plan always exists.
func Compute(lotSize int, aqlLevel float64) Plan {
	if lotSize < 1 {
		lotSize = 1
	}
	if aqlLevel < 0 {
		aqlLevel = 0
	}
	sample := buckets[len(buckets)-1].sample
	for _, b := range buckets {
		if lotSize <= b.maxLot {
			sample = b.sample
			break
		}
	}
	n := float64(sample)
	return Plan{
		LotSize:         lotSize,
		AQLLevel:        aqlLevel,
		SampleSize:      sample,
		CriticalAllowed: 0,
		MajorAllowed:    int(math.Round(n * aqlLevel / 100)),
		MinorAllowed:    int(math.Round(n * aqlLevel * 1.6 / 100)),
	}
}

// Rejection reason codes, emitted in severity order.
const (
	ReasonCriticalExceeded = "CRITICAL_EXCEEDED"
	ReasonMajorExceeded    = "MAJOR_EXCEEDED"
	ReasonMinorExceeded    = "MINOR_EXCEEDED"
)

// Evaluate compares observed defect counts against the plan's allowances.
// The lot passes only when every severity is within its allowance.
func Evaluate(p Plan, counts domain.DefectCounts) domain.AQLOutcome {
	var reasons []string
	if counts.Critical > p.CriticalAllowed {
		reasons = append(reasons, ReasonCriticalExceeded)
	}
	if counts.Major > p.MajorAllowed {
		reasons = append(reasons, ReasonMajorExceeded)
	}
	if counts.Minor > p.MinorAllowed {
		reasons = append(reasons, ReasonMinorExceeded)
	}
	if reasons == nil {
		reasons = []string{}
	}
	return domain.AQLOutcome{
		DefectCounts:     counts,
		Passed:           len(reasons) == 0,
		RejectionReasons: reasons,
	}
}
