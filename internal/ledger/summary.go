// Package ledger reduces the satellite ledgers of an operation to summary
// metrics and classification signals.
package ledger

import (
	"math"

	"github.com/Zia971/opcopilotV4/internal/domain"
)

// Summary is the projected/realized reduction shared by the ledgers.
// RealizationPercentage is nil when there is nothing to measure.
type Summary struct {
	Records                 int      `json:"records"`
	TotalProjected          float64  `json:"total_projected"`
	TotalRealized           float64  `json:"total_realized"`
	TotalVariance           float64  `json:"total_variance"`
	AverageAbsoluteVariance float64  `json:"average_absolute_variance"`
	ZeroVarianceRecords     int      `json:"zero_variance_records"`
	RealizationPercentage   *float64 `json:"realization_percentage,omitempty"`
}

// Signal is a classification emitted by an aggregator.
type Signal struct {
	Severity domain.Severity `json:"severity"`
	Code     string          `json:"code"`
	Title    string          `json:"title"`
	Message  string          `json:"message"`
	Action   string          `json:"action,omitempty"`
	Value    float64         `json:"value"`
}

type pair struct {
	projected float64
	realized  float64
}

// reduce sums the pairs and averages |realized-projected| over the pairs
// whose variance is not zero. Zero-variance periods stay out of the
// denominator.
func reduce(pairs []pair) Summary {
	s := Summary{Records: len(pairs)}
	var absSum float64
	var discrepant int
	for _, p := range pairs {
		s.TotalProjected += p.projected
		s.TotalRealized += p.realized
		v := p.realized - p.projected
		s.TotalVariance += v
		if v != 0 {
			absSum += math.Abs(v)
			discrepant++
		} else {
			s.ZeroVarianceRecords++
		}
	}
	if discrepant > 0 {
		s.AverageAbsoluteVariance = absSum / float64(discrepant)
	}
	return s
}

// Ratio returns num/den*100, or ErrDivisionUndefined when den is zero.
func Ratio(num, den float64) (float64, error) {
	if den == 0 {
		return 0, domain.ErrDivisionUndefined
	}
	return num / den * 100, nil
}

func ratioPtr(num, den float64) *float64 {
	v, err := Ratio(num, den)
	if err != nil {
		return nil
	}
	return &v
}

func ptr(v float64) *float64 { return &v }
