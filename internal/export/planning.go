// Package export writes the materialized timeline of an operation as an
// xlsx planning.
package export

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Zia971/opcopilotV4/internal/display"
	"github.com/Zia971/opcopilotV4/internal/domain"
	"github.com/Zia971/opcopilotV4/internal/timeline"
)

const SheetName = "Planning"

var planningHeaders = []string{"N°", "Phase", "Début prévu", "Fin prévue", "Statut", "Statut effectif", "Responsable", "Critique", "Frein", "Jours de retard"}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9À-ÿ_-]+`)

// Planning builds the workbook and its download name.
func Planning(op domain.Operation, tl timeline.Timeline, generatedAt time.Time) (*excelize.File, string, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, "", err
	}

	titleStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}})
	if err != nil {
		return nil, "", err
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return nil, "", err
	}

	f.SetCellValue(SheetName, "A1", fmt.Sprintf("%s (%s) - %s", op.Nom, op.Type, op.Commune))
	f.SetCellStyle(SheetName, "A1", "A1", titleStyle)
	f.SetCellValue(SheetName, "A2", "Généré le "+display.Date(generatedAt))

	const headerRow = 4
	for i, h := range planningHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := fmt.Sprintf("%s%d", col, headerRow)
		f.SetCellValue(SheetName, cell, h)
		f.SetCellStyle(SheetName, cell, cell, headerStyle)
	}

	statusStyles := map[domain.PhaseStatus]int{}
	for i, p := range tl.Phases {
		row := headerRow + 1 + i
		f.SetCellValue(SheetName, fmt.Sprintf("A%d", row), p.Sequence)
		f.SetCellValue(SheetName, fmt.Sprintf("B%d", row), p.Nom)
		f.SetCellValue(SheetName, fmt.Sprintf("C%d", row), display.Date(p.PlannedStart))
		f.SetCellValue(SheetName, fmt.Sprintf("D%d", row), display.Date(p.PlannedEnd))
		f.SetCellValue(SheetName, fmt.Sprintf("E%d", row), display.StatusStyle(p.Statut).Label)
		f.SetCellValue(SheetName, fmt.Sprintf("F%d", row), display.StatusStyle(p.EffectiveStatus).Label)
		f.SetCellValue(SheetName, fmt.Sprintf("G%d", row), p.Responsable)
		critical := "Non"
		if p.EstCritique {
			critical = "Oui"
		}
		f.SetCellValue(SheetName, fmt.Sprintf("H%d", row), critical)
		f.SetCellValue(SheetName, fmt.Sprintf("I%d", row), p.Frein)
		if p.DaysLate > 0 {
			f.SetCellValue(SheetName, fmt.Sprintf("J%d", row), p.DaysLate)
		}

		style, ok := statusStyles[p.EffectiveStatus]
		if !ok {
			style, err = f.NewStyle(&excelize.Style{
				Font: &excelize.Font{Bold: true, Color: "#FFFFFF"},
				Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{display.StatusStyle(p.EffectiveStatus).Color}},
			})
			if err != nil {
				return nil, "", err
			}
			statusStyles[p.EffectiveStatus] = style
		}
		cell := fmt.Sprintf("F%d", row)
		f.SetCellStyle(SheetName, cell, cell, style)
	}

	summaryRow := headerRow + len(tl.Phases) + 2
	summaryStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, "", err
	}
	f.SetCellValue(SheetName, fmt.Sprintf("A%d", summaryRow), "Synthèse")
	f.SetCellValue(SheetName, fmt.Sprintf("B%d", summaryRow), fmt.Sprintf("%d phases, %d validées, %d freins actifs, %d critiques",
		len(tl.Phases), tl.Validated, tl.ActiveBlockers, tl.CriticalBlockers))
	f.SetCellStyle(SheetName, fmt.Sprintf("A%d", summaryRow), fmt.Sprintf("J%d", summaryRow), summaryStyle)
	if tl.Warning != "" {
		f.SetCellValue(SheetName, fmt.Sprintf("B%d", summaryRow+1), tl.Warning)
	}

	colWidths := []float64{6, 36, 14, 14, 18, 18, 16, 10, 30, 14}
	for i, w := range colWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(SheetName, col, col, w)
	}

	return f, Filename(op, generatedAt), nil
}

// Filename is the download name of an operation planning.
func Filename(op domain.Operation, at time.Time) string {
	name := strings.Trim(unsafeName.ReplaceAllString(op.Nom, "_"), "_")
	if name == "" {
		name = fmt.Sprintf("operation_%d", op.ID)
	}
	return fmt.Sprintf("Planning_%s_%s.xlsx", name, at.Format("20060102"))
}

// WritePlanning streams the workbook to w and closes it.
func WritePlanning(w io.Writer, f *excelize.File) error {
	defer f.Close()
	_, err := f.WriteTo(w)
	return err
}
