package refdata

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Zia971/opcopilotV4/internal/domain"
)

// date decodes any layout domain.ParseDate accepts. null and "" stay zero.
type date struct{ time.Time }

func (d *date) UnmarshalJSON(b []byte) error {
	var s *string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	t, err := domain.ParseDate(*s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

func (d date) ptr() *time.Time {
	if d.IsZero() {
		return nil
	}
	t := d.Time
	return &t
}

type rawDataset struct {
	Operations []rawOperation                    `json:"operations_demo"`
	Phases     map[string][]rawPhase             `json:"phases_demo"`
	REM        map[string][]domain.REMEntry      `json:"rem_demo"`
	Amendments map[string][]rawAmendment         `json:"avenants_demo"`
	Notices    map[string][]rawNotice            `json:"med_demo"`
	Utilities  map[string]map[string]rawProvider `json:"concessionnaires_demo"`
	DGD        map[string]rawFinalAccount        `json:"dgd_demo"`
	Claims     map[string][]rawClaim             `json:"gpa_demo"`
	KPIs       *domain.KPIs                      `json:"kpis_aco_demo"`
	Activity   domain.MonthlyActivity            `json:"activite_mensuelle_demo"`
	Alerts     []rawAlert                        `json:"alertes_demo"`
}

type rawOperation struct {
	ID               int64   `json:"id"`
	Nom              string  `json:"nom"`
	Type             string  `json:"type_operation"`
	Commune          string  `json:"commune"`
	BudgetTotal      float64 `json:"budget_total"`
	NbLogementsTotal int     `json:"nb_logements_total"`
	ACOResponsable   string  `json:"aco_responsable"`
	Statut           string  `json:"statut"`
	Avancement       int     `json:"avancement"`
	FreinsActifs     int     `json:"freins_actifs"`
	Adresse          string  `json:"adresse"`
	Parcelle         string  `json:"parcelle"`
	DateCreation     date    `json:"date_creation"`
	DateDebutPrevue  date    `json:"date_debut_prevue"`
	DateFinPrevue    date    `json:"date_fin_prevue"`

	NbLLS        *int     `json:"nb_lls"`
	NbLTS        int      `json:"nb_lts"`
	NbPLS        int      `json:"nb_pls"`
	TypeLogement string   `json:"type_logement"`
	REMTotale    float64  `json:"rem_totale"`
	Financement  []string `json:"financement"`

	Promoteur            string  `json:"promoteur"`
	ContactPromoteur     string  `json:"contact_promoteur"`
	NomProgramme         string  `json:"nom_programme"`
	NbLogementsReserves  int     `json:"nb_logements_reserves"`
	PrixTotalReservation float64 `json:"prix_total_reservation"`
	GarantieFinanciere   float64 `json:"garantie_financiere"`
}

func (r rawOperation) operation() (domain.Operation, []string) {
	var diags []string
	op := domain.Operation{
		ID:               r.ID,
		Nom:              strings.TrimSpace(r.Nom),
		Type:             domain.OperationType(strings.ToUpper(strings.TrimSpace(r.Type))),
		Commune:          r.Commune,
		BudgetTotal:      r.BudgetTotal,
		NbLogementsTotal: r.NbLogementsTotal,
		ACOResponsable:   r.ACOResponsable,
		Avancement:       clampPercent(r.Avancement),
		FreinsActifs:     r.FreinsActifs,
		Adresse:          r.Adresse,
		Parcelle:         r.Parcelle,
		DateCreation:     r.DateCreation.Time,
		DateDebutPrevue:  r.DateDebutPrevue.ptr(),
		DateFinPrevue:    r.DateFinPrevue.Time,
	}
	if _, err := domain.ParseOperationType(r.Type); err != nil {
		diags = append(diags, fmt.Sprintf("operation %d: %v", r.ID, err))
	}
	st, err := domain.ParseOperationStatus(r.Statut)
	if err != nil {
		diags = append(diags, fmt.Sprintf("operation %d: %v, using %s", r.ID, err, domain.OperationEnMontage))
		st = domain.OperationEnMontage
	}
	op.Statut = st

	switch op.Type {
	case domain.TypeOPP:
		if r.NbLLS != nil || r.REMTotale != 0 {
			op.Details.OPP = &domain.OPPDetails{
				NbLTS:        r.NbLTS,
				NbPLS:        r.NbPLS,
				TypeLogement: r.TypeLogement,
				REMTotale:    r.REMTotale,
				Financement:  r.Financement,
			}
			if r.NbLLS != nil {
				op.Details.OPP.NbLLS = *r.NbLLS
			}
		}
	case domain.TypeVEFA:
		if r.Promoteur != "" {
			op.Details.VEFA = &domain.VEFADetails{
				Promoteur:            r.Promoteur,
				ContactPromoteur:     r.ContactPromoteur,
				NomProgramme:         r.NomProgramme,
				NbLogementsReserves:  r.NbLogementsReserves,
				PrixTotalReservation: r.PrixTotalReservation,
				GarantieFinanciere:   r.GarantieFinanciere,
			}
		}
	}
	return op, diags
}

func clampPercent(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

type rawPhase struct {
	Nom         string `json:"nom"`
	DateDebut   date   `json:"date_debut_prevue"`
	DateFin     date   `json:"date_fin_prevue"`
	Statut      string `json:"statut"`
	Responsable string `json:"responsable"`
	EstCritique bool   `json:"est_critique"`
	Frein       string `json:"frein"`
}

type rawAmendment struct {
	Numero       int     `json:"numero"`
	Date         date    `json:"date"`
	Motif        string  `json:"motif"`
	Description  string  `json:"description"`
	ImpactBudget float64 `json:"impact_budget"`
	ImpactDelai  int     `json:"impact_delai"`
	Statut       string  `json:"statut"`
}

type rawNotice struct {
	ID              string   `json:"id"`
	Reference       string   `json:"reference"`
	Type            string   `json:"type_med"`
	Destinataire    string   `json:"destinataire"`
	Motifs          []string `json:"motifs"`
	Details         string   `json:"details"`
	DateEnvoi       date     `json:"date_envoi"`
	DelaiConformite int      `json:"delai_conformite"`
	Statut          string   `json:"statut"`
}

type rawProvider struct {
	Etapes []struct {
		Nom    string `json:"nom"`
		Statut string `json:"statut"`
		Date   date   `json:"date"`
	} `json:"etapes"`
}

type rawFinalAccount struct {
	Lots []domain.FinalAccountLot `json:"lots"`
}

type rawClaim struct {
	ID                string `json:"id"`
	Date              date   `json:"date"`
	Logement          string `json:"logement"`
	Type              string `json:"type"`
	Description       string `json:"description"`
	Urgence           string `json:"urgence"`
	Statut            string `json:"statut"`
	DelaiIntervention int    `json:"delai_intervention"`
}

type rawAlert struct {
	Type          string `json:"type"`
	Operation     string `json:"operation"`
	Message       string `json:"message"`
	ActionRequise string `json:"action_requise"`
}

// operationKey parses the "operation_<id>" keys used by every per-operation
// section.
func operationKey(key string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(key, "operation_"), 10, 64)
	if err != nil || !strings.HasPrefix(key, "operation_") {
		return 0, fmt.Errorf("invalid operation key %q", key)
	}
	return id, nil
}
