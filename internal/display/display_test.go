package display

import (
	"strings"
	"testing"
	"time"
	"unicode"

	"github.com/stretchr/testify/assert"

	"github.com/Zia971/opcopilotV4/internal/domain"
)

func TestStatusStyleCoversEveryStatus(t *testing.T) {
	for _, s := range domain.AllPhaseStatuses() {
		st := StatusStyle(s)
		assert.NotEqual(t, DefaultColor, st.Color, s)
		assert.NotEmpty(t, st.Label, s)
	}
	assert.Equal(t, Style{Color: "#4CAF50", Label: "Validée"}, StatusStyle(domain.PhaseValidee))
	assert.Equal(t, "#E91E63", StatusStyle(domain.PhaseCritique).Color)

	unknown := StatusStyle("SUSPENDUE")
	assert.Equal(t, DefaultColor, unknown.Color)
	assert.Equal(t, "Suspendue", unknown.Label)
}

func TestProgressBucketBoundaries(t *testing.T) {
	cases := map[int]string{100: BucketGreen, 81: BucketGreen, 80: BucketYellow, 51: BucketYellow, 50: BucketRed, 0: BucketRed}
	for v, want := range cases {
		assert.Equal(t, want, ProgressBucket(v), v)
	}
	assert.Equal(t, "#4CAF50", BucketColor(BucketGreen))
	assert.Equal(t, DefaultColor, BucketColor("blue"))
	assert.Contains(t, Progress(65), "65%")
}

func digits(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == ',' {
			return r
		}
		return -1
	}, s)
}

func TestFrenchFormatting(t *testing.T) {
	m := Money(1234567)
	assert.Equal(t, "1234567", digits(m))
	assert.True(t, strings.HasSuffix(m, "€"))
	assert.NotEqual(t, "1234567 €", m, "grouping separator expected")

	assert.Equal(t, "2,50", digits(Number(2.5)))
	assert.Equal(t, "42", Number(42))
	assert.Equal(t, "n/a", Percent(nil))
	v := 12.34
	assert.Equal(t, "12,3", digits(Percent(&v)))
}

func TestDateAndBadges(t *testing.T) {
	assert.Equal(t, "05/03/2024", Date(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)))
	assert.Empty(t, Date(time.Time{}))
	assert.Contains(t, Badge(domain.PhaseRetard), "Retard")
	assert.Contains(t, SeverityBadge(domain.SeverityCritical), "CRITIQUE")
}
