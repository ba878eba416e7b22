package server

import (
	"strings"
	"time"

	"github.com/Zia971/opcopilotV4/internal/domain"
	"github.com/Zia971/opcopilotV4/internal/engine"
)

// Request payloads

type OPPRequest struct {
	NbLLS        int      `json:"nb_lls,omitempty" minimum:"0"`
	NbLTS        int      `json:"nb_lts,omitempty" minimum:"0"`
	NbPLS        int      `json:"nb_pls,omitempty" minimum:"0"`
	TypeLogement string   `json:"type_logement,omitempty"`
	REMTotale    float64  `json:"rem_totale,omitempty" minimum:"0"`
	Financement  []string `json:"financement,omitempty"`
}

type VEFARequest struct {
	Promoteur            string  `json:"promoteur"`
	ContactPromoteur     string  `json:"contact_promoteur,omitempty"`
	NomProgramme         string  `json:"nom_programme,omitempty"`
	NbLogementsReserves  int     `json:"nb_logements_reserves,omitempty" minimum:"0"`
	PrixTotalReservation float64 `json:"prix_total_reservation,omitempty" minimum:"0"`
	GarantieFinanciere   float64 `json:"garantie_financiere,omitempty" minimum:"0"`
}

type CreateOperationRequest struct {
	Nom              string       `json:"nom"`
	Type             string       `json:"type_operation" example:"OPP"`
	Commune          string       `json:"commune"`
	BudgetTotal      float64      `json:"budget_total,omitempty" minimum:"0"`
	NbLogementsTotal int          `json:"nb_logements_total,omitempty" minimum:"0"`
	ACOResponsable   string       `json:"aco_responsable,omitempty"`
	Adresse          string       `json:"adresse,omitempty"`
	Parcelle         string       `json:"parcelle,omitempty"`
	DateDebutPrevue  string       `json:"date_debut_prevue,omitempty" example:"2025-03-01"`
	DateFinPrevue    string       `json:"date_fin_prevue,omitempty" example:"2027-06-30"`
	OPP              *OPPRequest  `json:"opp,omitempty"`
	VEFA             *VEFARequest `json:"vefa,omitempty"`
}

func (r CreateOperationRequest) toInput(actorID string) (engine.OperationCreate, error) {
	in := engine.OperationCreate{
		Nom:              r.Nom,
		Type:             r.Type,
		Commune:          r.Commune,
		BudgetTotal:      r.BudgetTotal,
		NbLogementsTotal: r.NbLogementsTotal,
		ACOResponsable:   r.ACOResponsable,
		Adresse:          r.Adresse,
		Parcelle:         r.Parcelle,
		ActorID:          actorID,
	}
	var err error
	if in.DateDebutPrevue, err = optionalDate("date_debut_prevue", r.DateDebutPrevue); err != nil {
		return in, err
	}
	if in.DateFinPrevue, err = optionalDate("date_fin_prevue", r.DateFinPrevue); err != nil {
		return in, err
	}
	if r.OPP != nil {
		in.OPP = &domain.OPPDetails{
			NbLLS:        r.OPP.NbLLS,
			NbLTS:        r.OPP.NbLTS,
			NbPLS:        r.OPP.NbPLS,
			TypeLogement: r.OPP.TypeLogement,
			REMTotale:    r.OPP.REMTotale,
			Financement:  r.OPP.Financement,
		}
	}
	if r.VEFA != nil {
		in.VEFA = &domain.VEFADetails{
			Promoteur:            r.VEFA.Promoteur,
			ContactPromoteur:     r.VEFA.ContactPromoteur,
			NomProgramme:         r.VEFA.NomProgramme,
			NbLogementsReserves:  r.VEFA.NbLogementsReserves,
			PrixTotalReservation: r.VEFA.PrixTotalReservation,
			GarantieFinanciere:   r.VEFA.GarantieFinanciere,
		}
	}
	return in, nil
}

type SetStatusRequest struct {
	Statut string `json:"statut" enum:"EN_MONTAGE,EN_COURS,EN_RECEPTION"`
}

type UpdatePhaseRequest struct {
	Statut          *string `json:"statut,omitempty"`
	Responsable     *string `json:"responsable,omitempty"`
	Frein           *string `json:"frein,omitempty"`
	DateDebutPrevue *string `json:"date_debut_prevue,omitempty"`
	DateFinPrevue   *string `json:"date_fin_prevue,omitempty"`
}

func (r UpdatePhaseRequest) toInput(actorID string) (engine.PhaseUpdate, error) {
	u := engine.PhaseUpdate{Statut: r.Statut, Responsable: r.Responsable, Frein: r.Frein, ActorID: actorID}
	var err error
	if r.DateDebutPrevue != nil {
		if u.PlannedStart, err = optionalDate("date_debut_prevue", *r.DateDebutPrevue); err != nil {
			return u, err
		}
	}
	if r.DateFinPrevue != nil {
		if u.PlannedEnd, err = optionalDate("date_fin_prevue", *r.DateFinPrevue); err != nil {
			return u, err
		}
	}
	return u, nil
}

type REMRequest struct {
	Trimestre         string  `json:"trimestre" example:"T1 2025"`
	REMProjetee       float64 `json:"rem_projetee,omitempty"`
	REMRealisee       float64 `json:"rem_realisee,omitempty"`
	AvancementREM     float64 `json:"avancement_rem,omitempty"`
	DepensesProjetees float64 `json:"depenses_projetees,omitempty"`
	DepensesFacturees float64 `json:"depenses_facturees,omitempty"`
	AvancementTravaux float64 `json:"avancement_travaux,omitempty"`
}

type AmendmentRequest struct {
	Motif        string  `json:"motif"`
	Description  string  `json:"description,omitempty"`
	ImpactBudget float64 `json:"impact_budget,omitempty"`
	ImpactDelai  int     `json:"impact_delai,omitempty"`
	Date         string  `json:"date,omitempty"`
}

type LotRequest struct {
	Nom              string  `json:"nom"`
	MarcheInitial    float64 `json:"marche_initial"`
	QuantitesReelles float64 `json:"quantites_reelles,omitempty"`
	PlusMoinsValue   float64 `json:"plus_moins_value,omitempty"`
	Penalites        float64 `json:"penalites,omitempty"`
}

type NoticeRequest struct {
	Type            string   `json:"type_med" example:"MOE"`
	Destinataire    string   `json:"destinataire"`
	Motifs          []string `json:"motifs"`
	Details         string   `json:"details,omitempty"`
	DelaiConformite int      `json:"delai_conformite,omitempty" doc:"Days, 1-60; 0 uses the default of 15"`
	DateEnvoi       string   `json:"date_envoi,omitempty"`
}

type UtilityRequest struct {
	Provider string `json:"provider" enum:"EDF,EAU,FIBRE"`
	Sequence int    `json:"sequence" minimum:"1"`
	Nom      string `json:"nom"`
	Statut   string `json:"statut,omitempty"`
	Date     string `json:"date,omitempty"`
}

type ClaimRequest struct {
	Logement          string `json:"logement"`
	Type              string `json:"type"`
	Description       string `json:"description"`
	Urgence           string `json:"urgence,omitempty"`
	DelaiIntervention int    `json:"delai_intervention,omitempty"`
	Date              string `json:"date,omitempty"`
}

type ClosureItemRequest struct {
	Resolved bool `json:"statut"`
}

// Response payloads

type HealthResponse struct {
	Status    string `json:"status"`
	Source    string `json:"source"`
	Reference uint64 `json:"reference_version"`
}

type ReloadResponse struct {
	Version     uint64         `json:"version"`
	Counts      map[string]int `json:"counts"`
	Diagnostics []string       `json:"diagnostics,omitempty"`
}

func optionalDate(field, raw string) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	t, err := domain.ParseDate(raw)
	if err != nil {
		return nil, domain.Invalidf("%s: %v", field, err)
	}
	return &t, nil
}
