// Package display owns the presentation policy shared by the CLI, the HTTP
// view-models and the planning export: status colours and labels, progress
// buckets and French number formatting.
package display

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/Zia971/opcopilotV4/internal/domain"
)

const DefaultColor = "#0066cc"

type Style struct {
	Color string `json:"color"`
	Label string `json:"label"`
}

var statusStyles = map[domain.PhaseStatus]Style{
	domain.PhaseValidee:           {Color: "#4CAF50", Label: "Validée"},
	domain.PhaseEnCours:           {Color: "#2196F3", Label: "En cours"},
	domain.PhaseEnAttente:         {Color: "#FFC107", Label: "En attente"},
	domain.PhaseRetard:            {Color: "#F44336", Label: "Retard"},
	domain.PhaseCritique:          {Color: "#E91E63", Label: "Critique"},
	domain.PhaseNonDemarree:       {Color: "#9E9E9E", Label: "Non démarrée"},
	domain.PhaseValidationRequise: {Color: "#FF9800", Label: "Validation requise"},
	domain.PhaseEnRevision:        {Color: "#673AB7", Label: "En révision"},
}

var frenchCaser = cases.Title(language.French)

// StatusStyle returns the colour and label of a phase status. Unknown
// statuses get the default colour and a title-cased label.
func StatusStyle(s domain.PhaseStatus) Style {
	if st, ok := statusStyles[s]; ok {
		return st
	}
	return Style{Color: DefaultColor, Label: frenchCaser.String(strings.ReplaceAll(strings.ToLower(string(s)), "_", " "))}
}

// Badge renders the status label in its colour for terminal output.
func Badge(s domain.PhaseStatus) string {
	st := StatusStyle(s)
	return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(st.Color)).Render(st.Label)
}

const (
	BucketGreen  = "green"
	BucketYellow = "yellow"
	BucketRed    = "red"
)

var bucketColors = map[string]string{
	BucketGreen:  "#4CAF50",
	BucketYellow: "#FFC107",
	BucketRed:    "#F44336",
}

// ProgressBucket classifies an avancement percentage: above 80 is green,
// above 50 yellow, anything else red.
func ProgressBucket(avancement int) string {
	switch {
	case avancement > 80:
		return BucketGreen
	case avancement > 50:
		return BucketYellow
	default:
		return BucketRed
	}
}

func BucketColor(bucket string) string {
	if c, ok := bucketColors[bucket]; ok {
		return c
	}
	return DefaultColor
}

// Progress renders "NN%" in the colour of its bucket.
func Progress(avancement int) string {
	color := BucketColor(ProgressBucket(avancement))
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(fmt.Sprintf("%d%%", avancement))
}

var severityColors = map[domain.Severity]string{
	domain.SeverityCritical: "#F44336",
	domain.SeverityWarning:  "#FF9800",
	domain.SeverityInfo:     "#2196F3",
}

var severityLabels = map[domain.Severity]string{
	domain.SeverityCritical: "CRITIQUE",
	domain.SeverityWarning:  "ATTENTION",
	domain.SeverityInfo:     "INFO",
}

func SeverityBadge(s domain.Severity) string {
	color, ok := severityColors[s]
	if !ok {
		color = DefaultColor
	}
	label, ok := severityLabels[s]
	if !ok {
		label = strings.ToUpper(string(s))
	}
	return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(color)).Render(label)
}

var printer = message.NewPrinter(language.French)

// Money formats an amount in euros with French grouping, no decimals.
func Money(v float64) string {
	return printer.Sprintf("%.0f €", v)
}

// Number formats v with French grouping and up to two decimals.
func Number(v float64) string {
	if v == float64(int64(v)) {
		return printer.Sprintf("%d", int64(v))
	}
	return printer.Sprintf("%.2f", v)
}

// Percent formats a ratio already expressed in percent; nil renders as "n/a".
func Percent(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return printer.Sprintf("%.1f %%", *v)
}

// Date renders a date the way the planning shows it; the zero time is blank.
func Date(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("02/01/2006")
}
