package domain

import (
	"fmt"
	"strings"
)

type OperationType string

const (
	TypeOPP               OperationType = "OPP"
	TypeVEFA              OperationType = "VEFA"
	TypeMandatEtudes      OperationType = "MANDAT_ETUDES"
	TypeMandatRealisation OperationType = "MANDAT_REALISATION"
	TypeAMO               OperationType = "AMO"
)

func AllOperationTypes() []OperationType {
	return []OperationType{TypeOPP, TypeVEFA, TypeMandatEtudes, TypeMandatRealisation, TypeAMO}
}

func ParseOperationType(s string) (OperationType, error) {
	t := OperationType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllOperationTypes() {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("invalid operation type %q", s)
}

type OperationStatus string

const (
	OperationEnMontage   OperationStatus = "EN_MONTAGE"
	OperationEnCours     OperationStatus = "EN_COURS"
	OperationEnReception OperationStatus = "EN_RECEPTION"
	OperationCloturee    OperationStatus = "CLOTUREE"
)

func AllOperationStatuses() []OperationStatus {
	return []OperationStatus{OperationEnMontage, OperationEnCours, OperationEnReception, OperationCloturee}
}

func ParseOperationStatus(s string) (OperationStatus, error) {
	st := OperationStatus(strings.ToUpper(strings.TrimSpace(s)))
	if st.rank() < 0 {
		return "", fmt.Errorf("invalid operation status %q", s)
	}
	return st, nil
}

func (s OperationStatus) rank() int {
	switch s {
	case OperationEnMontage:
		return 0
	case OperationEnCours:
		return 1
	case OperationEnReception:
		return 2
	case OperationCloturee:
		return 3
	}
	return -1
}

// CanAdvanceTo reports whether moving from s to next keeps the lifecycle forward-only.
func (s OperationStatus) CanAdvanceTo(next OperationStatus) bool {
	from, to := s.rank(), next.rank()
	return from >= 0 && to > from
}

// Active reports whether the operation is still being driven.
func (s OperationStatus) Active() bool {
	return s != OperationCloturee
}

type PhaseStatus string

const (
	PhaseValidee           PhaseStatus = "VALIDEE"
	PhaseEnCours           PhaseStatus = "EN_COURS"
	PhaseEnAttente         PhaseStatus = "EN_ATTENTE"
	PhaseRetard            PhaseStatus = "RETARD"
	PhaseCritique          PhaseStatus = "CRITIQUE"
	PhaseNonDemarree       PhaseStatus = "NON_DEMARREE"
	PhaseValidationRequise PhaseStatus = "VALIDATION_REQUISE"
	PhaseEnRevision        PhaseStatus = "EN_REVISION"
)

func AllPhaseStatuses() []PhaseStatus {
	return []PhaseStatus{
		PhaseValidee, PhaseEnCours, PhaseEnAttente, PhaseRetard,
		PhaseCritique, PhaseNonDemarree, PhaseValidationRequise, PhaseEnRevision,
	}
}

func ParsePhaseStatus(s string) (PhaseStatus, error) {
	st := PhaseStatus(strings.ToUpper(strings.TrimSpace(s)))
	if st == "" {
		return PhaseNonDemarree, nil
	}
	for _, known := range AllPhaseStatuses() {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("invalid phase status %q", s)
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Rank orders severities, lower first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 2
	}
	return 3
}

// ParseAlertType maps the CRITIQUE/WARNING/INFO labels of pre-baked alerts.
func ParseAlertType(s string) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITIQUE", "CRITICAL":
		return SeverityCritical
	case "WARNING", "ATTENTION":
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

type NoticeType string

const (
	NoticeMOE        NoticeType = "MOE"
	NoticeSPS        NoticeType = "SPS"
	NoticeOPC        NoticeType = "OPC"
	NoticeEntreprise NoticeType = "ENTREPRISE"
	NoticeCT         NoticeType = "CT"
)

func AllNoticeTypes() []NoticeType {
	return []NoticeType{NoticeMOE, NoticeSPS, NoticeOPC, NoticeEntreprise, NoticeCT}
}

func ParseNoticeType(s string) (NoticeType, error) {
	t := NoticeType(strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "MED_"))
	for _, known := range AllNoticeTypes() {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("invalid notice type %q", s)
}

type Provider string

const (
	ProviderEDF   Provider = "EDF"
	ProviderEau   Provider = "EAU"
	ProviderFibre Provider = "FIBRE"
)

func AllProviders() []Provider {
	return []Provider{ProviderEDF, ProviderEau, ProviderFibre}
}

func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllProviders() {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("invalid provider %q", s)
}

const (
	StepValidee   = "VALIDEE"
	StepEnCours   = "EN_COURS"
	StepPlanifie  = "PLANIFIE"
	StepEnAttente = "EN_ATTENTE"
)

// NormalizeStepStatus folds unknown utility step statuses into EN_ATTENTE.
func NormalizeStepStatus(s string) string {
	switch st := strings.ToUpper(strings.TrimSpace(s)); st {
	case StepValidee, StepEnCours, StepPlanifie:
		return st
	default:
		return StepEnAttente
	}
}

const (
	AmendmentBrouillon    = "BROUILLON"
	AmendmentEnValidation = "EN_VALIDATION"
	AmendmentValide       = "VALIDE"
	AmendmentRefuse       = "REFUSE"
)

// AmendmentMotifs lists the reasons offered when drafting an amendment.
var AmendmentMotifs = []string{
	"Modification programme",
	"Délai supplémentaire",
	"Plus-value travaux",
	"Moins-value travaux",
	"Changement MOE",
	"Adaptation réglementaire",
	"Autre",
}

const (
	NoticeEnvoyee   = "ENVOYEE"
	NoticeEnAttente = "EN_ATTENTE"
	NoticeRelancee  = "RELANCEE"
	NoticeLevee     = "LEVEE"
)

// NoticeMotifs lists the grounds a formal notice can cite.
var NoticeMotifs = []string{
	"Retard dans les études",
	"Non-respect du planning",
	"Défaut de coordination",
	"Non-conformité technique",
	"Absence sur chantier",
	"Documents manquants",
	"Malfaçons constatées",
	"Non-respect des règles de sécurité",
}

const (
	ClaimOuverte = "OUVERTE"
	ClaimEnCours = "EN_COURS"
	ClaimResolue = "RESOLUE"
)

// ClaimTypes lists the problem categories tracked during the completion warranty.
var ClaimTypes = []string{"Plomberie", "Électricité", "Peinture", "Menuiserie", "Carrelage", "Ventilation", "Autre"}

const (
	UrgenceNormale     = "Normale"
	UrgencePrioritaire = "Prioritaire"
	UrgenceUrgente     = "Urgente"
)

const (
	WorkflowDone    = "FAIT"
	WorkflowOngoing = "EN_COURS"
	WorkflowTodo    = "A_FAIRE"
)
