package domain

import "time"

type Operation struct {
	ID               int64            `json:"id"`
	Nom              string           `json:"nom"`
	Type             OperationType    `json:"type_operation" enum:"OPP,VEFA,MANDAT_ETUDES,MANDAT_REALISATION,AMO"`
	Commune          string           `json:"commune"`
	BudgetTotal      float64          `json:"budget_total"`
	NbLogementsTotal int              `json:"nb_logements_total"`
	ACOResponsable   string           `json:"aco_responsable"`
	Statut           OperationStatus  `json:"statut" enum:"EN_MONTAGE,EN_COURS,EN_RECEPTION,CLOTUREE"`
	Avancement       int              `json:"avancement" minimum:"0" maximum:"100"`
	FreinsActifs     int              `json:"freins_actifs"`
	Adresse          string           `json:"adresse,omitempty"`
	Parcelle         string           `json:"parcelle,omitempty"`
	DateCreation     time.Time        `json:"date_creation" format:"date-time"`
	DateDebutPrevue  *time.Time       `json:"date_debut_prevue,omitempty" format:"date-time"`
	DateFinPrevue    time.Time        `json:"date_fin_prevue" format:"date-time"`
	Details          OperationDetails `json:"details,omitempty"`
}

// OperationDetails carries the fields only one operation type uses.
type OperationDetails struct {
	OPP  *OPPDetails  `json:"opp,omitempty"`
	VEFA *VEFADetails `json:"vefa,omitempty"`
}

type OPPDetails struct {
	NbLLS        int      `json:"nb_lls"`
	NbLTS        int      `json:"nb_lts"`
	NbPLS        int      `json:"nb_pls"`
	TypeLogement string   `json:"type_logement,omitempty" enum:"Collectif,Individuel,Mixte,"`
	REMTotale    float64  `json:"rem_totale"`
	Financement  []string `json:"financement,omitempty"`
}

type VEFADetails struct {
	Promoteur            string  `json:"promoteur"`
	ContactPromoteur     string  `json:"contact_promoteur,omitempty"`
	NomProgramme         string  `json:"nom_programme,omitempty"`
	NbLogementsReserves  int     `json:"nb_logements_reserves"`
	PrixTotalReservation float64 `json:"prix_total_reservation"`
	GarantieFinanciere   float64 `json:"garantie_financiere"`
}

type Phase struct {
	OperationID  int64       `json:"operation_id"`
	Sequence     int         `json:"sequence"`
	Nom          string      `json:"nom"`
	PlannedStart time.Time   `json:"date_debut_prevue" format:"date-time"`
	PlannedEnd   time.Time   `json:"date_fin_prevue" format:"date-time"`
	Statut       PhaseStatus `json:"statut"`
	Responsable  string      `json:"responsable"`
	EstCritique  bool        `json:"est_critique"`
	Frein        string      `json:"frein,omitempty"`
}

// Blueprint is one phase of a template, independent of any operation.
type Blueprint struct {
	Nom             string `json:"nom"`
	DureeJours      int    `json:"duree_jours"`
	ResponsableType string `json:"responsable_type"`
	EstCritique     bool   `json:"est_critique"`
}

type Template struct {
	Type        OperationType `json:"type_operation"`
	Description string        `json:"description"`
	NbPhases    int           `json:"nb_phases"`
	Phases      []Blueprint   `json:"phases"`
}

type REMEntry struct {
	OperationID       int64   `json:"operation_id"`
	Trimestre         string  `json:"trimestre"`
	REMProjetee       float64 `json:"rem_projetee"`
	REMRealisee       float64 `json:"rem_realisee"`
	AvancementREM     float64 `json:"avancement_rem"`
	DepensesProjetees float64 `json:"depenses_projetees"`
	DepensesFacturees float64 `json:"depenses_facturees"`
	AvancementTravaux float64 `json:"avancement_travaux"`
}

// REMVariance is realized minus projected rent.
func (r REMEntry) REMVariance() float64 { return r.REMRealisee - r.REMProjetee }

// SpendVariance is invoiced minus projected works spending.
func (r REMEntry) SpendVariance() float64 { return r.DepensesFacturees - r.DepensesProjetees }

type Amendment struct {
	OperationID  int64     `json:"operation_id"`
	Numero       int       `json:"numero"`
	Date         time.Time `json:"date" format:"date-time"`
	Motif        string    `json:"motif"`
	Description  string    `json:"description,omitempty"`
	ImpactBudget float64   `json:"impact_budget"`
	ImpactDelai  int       `json:"impact_delai"`
	Statut       string    `json:"statut"`
}

type FinalAccountLot struct {
	OperationID      int64   `json:"operation_id"`
	Nom              string  `json:"nom"`
	MarcheInitial    float64 `json:"marche_initial"`
	QuantitesReelles float64 `json:"quantites_reelles"`
	PlusMoinsValue   float64 `json:"plus_moins_value"`
	Penalites        float64 `json:"penalites"`
}

// FinalAmount is the settled lot amount.
func (l FinalAccountLot) FinalAmount() float64 {
	return l.MarcheInitial + l.PlusMoinsValue - l.Penalites
}

type WorkflowStep struct {
	Sequence    int    `json:"sequence"`
	Nom         string `json:"nom"`
	Responsable string `json:"responsable"`
	Statut      string `json:"statut" enum:"FAIT,EN_COURS,A_FAIRE"`
}

type FormalNotice struct {
	ID              string     `json:"id"`
	OperationID     int64      `json:"operation_id"`
	Reference       string     `json:"reference"`
	Type            NoticeType `json:"type_med,omitempty"`
	Destinataire    string     `json:"destinataire"`
	Motifs          []string   `json:"motifs,omitempty"`
	Details         string     `json:"details,omitempty"`
	DateEnvoi       time.Time  `json:"date_envoi" format:"date-time"`
	DelaiConformite int        `json:"delai_conformite"`
	Statut          string     `json:"statut"`
}

// Deadline is the date by which the recipient must comply.
func (n FormalNotice) Deadline() time.Time {
	return n.DateEnvoi.AddDate(0, 0, n.DelaiConformite)
}

type UtilityStep struct {
	OperationID int64      `json:"operation_id"`
	Provider    Provider   `json:"provider" enum:"EDF,EAU,FIBRE"`
	Sequence    int        `json:"sequence"`
	Nom         string     `json:"nom"`
	Statut      string     `json:"statut"`
	Date        *time.Time `json:"date,omitempty" format:"date-time"`
}

type Claim struct {
	ID                string    `json:"id"`
	OperationID       int64     `json:"operation_id"`
	Date              time.Time `json:"date" format:"date-time"`
	Logement          string    `json:"logement"`
	Type              string    `json:"type"`
	Description       string    `json:"description"`
	Urgence           string    `json:"urgence,omitempty" enum:"Normale,Prioritaire,Urgente,"`
	Statut            string    `json:"statut"`
	DelaiIntervention int       `json:"delai_intervention"`
}

type ChecklistItem struct {
	Key         string `json:"key"`
	Label       string `json:"item"`
	Responsable string `json:"responsable"`
	Resolved    bool   `json:"statut"`
}

type Alert struct {
	Severity      Severity `json:"severity" enum:"critical,warning,info"`
	OperationID   int64    `json:"operation_id,omitempty"`
	Operation     string   `json:"operation"`
	Message       string   `json:"message"`
	ActionRequise string   `json:"action_requise"`
	Source        string   `json:"source,omitempty"`
}

type KPIs struct {
	OperationsActives   int     `json:"operations_actives"`
	OperationsCloturees int     `json:"operations_cloturees"`
	REMRealisee         float64 `json:"rem_realisee_2024"`
	REMPrevue           float64 `json:"rem_prevue_2024"`
	TauxRealisationREM  float64 `json:"taux_realisation_rem"`
	FreinsActifs        int     `json:"freins_actifs"`
	FreinsCritiques     int     `json:"freins_critiques"`
	EcheancesSemaine    int     `json:"echeances_semaine"`
	ValidationsRequises int     `json:"validations_requises"`
}

type MonthlyActivity struct {
	Mois              []string  `json:"mois"`
	REMMensuelle      []float64 `json:"rem_mensuelle"`
	OperationsActives []int     `json:"operations_actives"`
}

type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Type        string `json:"type"`
	OperationID int64  `json:"operation_id,omitempty"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id,omitempty"`
	ActorID     string `json:"actor_id"`
	Payload     string `json:"payload_json"`
}

// Intent is a side effect the engine asks an external collaborator to perform.
type Intent struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	OperationID int64          `json:"operation_id"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
	DeliveredAt *string        `json:"delivered_at,omitempty" format:"date-time"`
	Attempts    int            `json:"attempts"`
	LastError   string         `json:"last_error,omitempty"`
}
