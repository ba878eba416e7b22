package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Zia971/opcopilotV4/internal/closure"
	"github.com/Zia971/opcopilotV4/internal/domain"
	"github.com/Zia971/opcopilotV4/internal/events"
	"github.com/Zia971/opcopilotV4/internal/intents"
	"github.com/Zia971/opcopilotV4/internal/ledger"
	"github.com/Zia971/opcopilotV4/internal/repo"
	"github.com/Zia971/opcopilotV4/internal/timeline"
)

const defaultActor = "local-user"

func actor(id string) string {
	if strings.TrimSpace(id) == "" {
		return defaultActor
	}
	return id
}

// inTx runs fn in a workspace transaction. The reference source refuses
// writes.
func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if e.readOnly() {
		return domain.ErrReadOnly
	}
	tx, err := e.Repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) queueIntent(ctx context.Context, tx *sql.Tx, kind string, operationID int64, payload map[string]any) error {
	it := intents.New(kind, operationID, payload, e.now())
	if err := e.Repo.InsertIntent(ctx, tx, it); err != nil {
		return fmt.Errorf("queue intent %s: %w", kind, err)
	}
	return nil
}

func opEntity(id int64) string {
	return strconv.FormatInt(id, 10)
}

// OperationCreate holds the fields of a new operation. OPP and VEFA carry the
// type-specific details and must match Type.
type OperationCreate struct {
	Nom              string
	Type             string
	Commune          string
	BudgetTotal      float64
	NbLogementsTotal int
	ACOResponsable   string
	Adresse          string
	Parcelle         string
	DateDebutPrevue  *time.Time
	DateFinPrevue    *time.Time
	OPP              *domain.OPPDetails
	VEFA             *domain.VEFADetails
	ActorID          string
}

func (o OperationCreate) validate() (domain.OperationType, error) {
	if strings.TrimSpace(o.Nom) == "" {
		return "", domain.Invalidf("nom is required")
	}
	if strings.TrimSpace(o.Commune) == "" {
		return "", domain.Invalidf("commune is required")
	}
	typ, err := domain.ParseOperationType(o.Type)
	if err != nil {
		return "", fmt.Errorf("%w: %s", domain.ErrUnknownOperationType, o.Type)
	}
	if o.BudgetTotal < 0 || o.NbLogementsTotal < 0 {
		return "", domain.Invalidf("budget_total and nb_logements_total must be >= 0")
	}
	if o.OPP != nil && typ != domain.TypeOPP {
		return "", domain.Invalidf("OPP details given for a %s operation", typ)
	}
	if o.VEFA != nil && typ != domain.TypeVEFA {
		return "", domain.Invalidf("VEFA details given for a %s operation", typ)
	}
	if o.OPP != nil && o.OPP.TypeLogement != "" {
		switch o.OPP.TypeLogement {
		case "Collectif", "Individuel", "Mixte":
		default:
			return "", domain.Invalidf("type_logement %q is not Collectif, Individuel or Mixte", o.OPP.TypeLogement)
		}
	}
	if o.DateDebutPrevue != nil && o.DateFinPrevue != nil && o.DateFinPrevue.Before(*o.DateDebutPrevue) {
		return "", domain.Invalidf("date_fin_prevue is before date_debut_prevue")
	}
	return typ, nil
}

// CreateOperation stores a new operation in EN_MONTAGE with its phases laid
// out from the catalog template and the default closure checklist.
func (e Engine) CreateOperation(ctx context.Context, in OperationCreate) (domain.Operation, error) {
	typ, err := in.validate()
	if err != nil {
		return domain.Operation{}, err
	}
	if _, err := e.Catalog().Lookup(typ); err != nil {
		return domain.Operation{}, err
	}
	now := e.now().UTC()
	op := domain.Operation{
		Nom:              strings.TrimSpace(in.Nom),
		Type:             typ,
		Commune:          strings.TrimSpace(in.Commune),
		BudgetTotal:      in.BudgetTotal,
		NbLogementsTotal: in.NbLogementsTotal,
		ACOResponsable:   in.ACOResponsable,
		Statut:           domain.OperationEnMontage,
		Adresse:          in.Adresse,
		Parcelle:         in.Parcelle,
		DateCreation:     now,
		DateDebutPrevue:  in.DateDebutPrevue,
		Details:          domain.OperationDetails{OPP: in.OPP, VEFA: in.VEFA},
	}
	phases, err := e.storedMaterializer().Materialize(0, typ, nil, referenceDate(op, now))
	if err != nil {
		return domain.Operation{}, err
	}
	switch {
	case in.DateFinPrevue != nil:
		op.DateFinPrevue = *in.DateFinPrevue
	case len(phases) > 0:
		op.DateFinPrevue = phases[len(phases)-1].PlannedEnd
	default:
		op.DateFinPrevue = referenceDate(op, now).AddDate(1, 0, 0)
	}

	err = e.inTx(ctx, func(tx *sql.Tx) error {
		id, err := e.Repo.InsertOperation(ctx, tx, op)
		if err != nil {
			return fmt.Errorf("insert operation: %w", err)
		}
		op.ID = id
		for i := range phases {
			phases[i].OperationID = id
		}
		if err := e.Repo.InsertPhases(ctx, tx, phases); err != nil {
			return fmt.Errorf("insert phases: %w", err)
		}
		for i, it := range closure.DefaultChecklist() {
			if err := e.Repo.UpsertClosureItem(ctx, tx, id, i, it); err != nil {
				return fmt.Errorf("insert checklist: %w", err)
			}
		}
		return e.Events.Append(ctx, tx, events.OperationCreated, id, "operation", opEntity(id), actor(in.ActorID), events.EventPayload{
			"nom": op.Nom, "type_operation": op.Type, "commune": op.Commune, "phases": len(phases),
		})
	})
	if err != nil {
		return domain.Operation{}, err
	}
	e.logger().Info("operation created", zap.Int64("operation_id", op.ID), zap.String("type", string(op.Type)), zap.Int("phases", len(phases)))
	return e.Repo.GetOperation(ctx, op.ID)
}

// UpdateOperationStatus moves an operation forward in its lifecycle. Closing
// goes through CloseOperation.
func (e Engine) UpdateOperationStatus(ctx context.Context, id int64, status, actorID string) (domain.Operation, error) {
	next, err := domain.ParseOperationStatus(status)
	if err != nil {
		return domain.Operation{}, domain.Invalidf("%v", err)
	}
	if next == domain.OperationCloturee {
		return domain.Operation{}, domain.Invalidf("use the closure gate to close an operation")
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		op, err := e.Repo.GetOperationTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !op.Statut.CanAdvanceTo(next) {
			return domain.TransitionError{From: op.Statut, To: next}
		}
		if err := e.Repo.UpdateOperation(ctx, tx, id, next, nil); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.OperationStatusChanged, id, "operation", opEntity(id), actor(actorID), events.EventPayload{
			"from": op.Statut, "to": next,
		})
	})
	if err != nil {
		return domain.Operation{}, err
	}
	return e.Operation(ctx, id)
}

// PhaseUpdate changes the recorded state of one phase; nil fields are kept.
// An empty Frein clears the brake.
type PhaseUpdate struct {
	Statut       *string
	Responsable  *string
	Frein        *string
	PlannedStart *time.Time
	PlannedEnd   *time.Time
	ActorID      string
}

// UpdatePhase applies u to phase seq and recomputes the operation progress
// from validated phases.
func (e Engine) UpdatePhase(ctx context.Context, id int64, seq int, u PhaseUpdate) (timeline.PhaseView, error) {
	var updated domain.Phase
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetOperationTx(ctx, tx, id); err != nil {
			return err
		}
		p, err := e.Repo.GetPhaseTx(ctx, tx, id, seq)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("phase %d of operation %d: %w", seq, id, repo.ErrNotFound)
		}
		if err != nil {
			return err
		}
		changes := events.EventPayload{"sequence": seq}
		if u.Statut != nil {
			st, err := domain.ParsePhaseStatus(*u.Statut)
			if err != nil {
				return domain.Invalidf("%v", err)
			}
			changes["statut"] = map[string]any{"from": p.Statut, "to": st}
			p.Statut = st
		}
		if u.Responsable != nil {
			p.Responsable = strings.TrimSpace(*u.Responsable)
			changes["responsable"] = p.Responsable
		}
		if u.Frein != nil {
			p.Frein = strings.TrimSpace(*u.Frein)
			changes["frein"] = p.Frein
		}
		if u.PlannedStart != nil {
			p.PlannedStart = *u.PlannedStart
			changes["date_debut_prevue"] = domain.FormatDate(p.PlannedStart)
		}
		if u.PlannedEnd != nil {
			p.PlannedEnd = *u.PlannedEnd
			changes["date_fin_prevue"] = domain.FormatDate(p.PlannedEnd)
		}
		if p.PlannedEnd.Before(p.PlannedStart) {
			return domain.Invalidf("date_fin_prevue is before date_debut_prevue")
		}
		if err := e.Repo.UpdatePhase(ctx, tx, p); err != nil {
			return err
		}
		phases, err := e.Repo.ListPhasesTx(ctx, tx, id)
		if err != nil {
			return err
		}
		progress := validatedShare(phases)
		if err := e.Repo.UpdateOperation(ctx, tx, id, "", &progress); err != nil {
			return err
		}
		updated = p
		return e.Events.Append(ctx, tx, events.PhaseUpdated, id, "phase", fmt.Sprintf("%d/%d", id, seq), actor(u.ActorID), changes)
	})
	if err != nil {
		return timeline.PhaseView{}, err
	}
	tl := timeline.Annotate(id, timeline.SourceRecorded, []domain.Phase{updated}, e.now())
	return tl.Phases[0], nil
}

func validatedShare(phases []domain.Phase) int {
	if len(phases) == 0 {
		return 0
	}
	n := 0
	for _, p := range phases {
		if p.Statut == domain.PhaseValidee {
			n++
		}
	}
	return n * 100 / len(phases)
}

type REMInput struct {
	OperationID       int64
	Trimestre         string
	REMProjetee       float64
	REMRealisee       float64
	AvancementREM     float64
	DepensesProjetees float64
	DepensesFacturees float64
	AvancementTravaux float64
	ActorID           string
}

// AddREMEntry records (or replaces) the figures of one quarter.
func (e Engine) AddREMEntry(ctx context.Context, in REMInput) (ledger.REMSummary, error) {
	if strings.TrimSpace(in.Trimestre) == "" {
		return ledger.REMSummary{}, domain.Invalidf("trimestre is required")
	}
	for name, v := range map[string]float64{"avancement_rem": in.AvancementREM, "avancement_travaux": in.AvancementTravaux} {
		if v < 0 || v > 100 {
			return ledger.REMSummary{}, domain.Invalidf("%s must be within [0,100]", name)
		}
	}
	if in.REMProjetee < 0 || in.REMRealisee < 0 || in.DepensesProjetees < 0 || in.DepensesFacturees < 0 {
		return ledger.REMSummary{}, domain.Invalidf("amounts must be >= 0")
	}
	entry := domain.REMEntry{
		OperationID:       in.OperationID,
		Trimestre:         strings.TrimSpace(in.Trimestre),
		REMProjetee:       in.REMProjetee,
		REMRealisee:       in.REMRealisee,
		AvancementREM:     in.AvancementREM,
		DepensesProjetees: in.DepensesProjetees,
		DepensesFacturees: in.DepensesFacturees,
		AvancementTravaux: in.AvancementTravaux,
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetOperationTx(ctx, tx, in.OperationID); err != nil {
			return err
		}
		if err := e.Repo.UpsertREM(ctx, tx, entry); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.REMRecorded, in.OperationID, "rem", entry.Trimestre, actor(in.ActorID), events.EventPayload{
			"rem_projetee": entry.REMProjetee, "rem_realisee": entry.REMRealisee,
		})
	})
	if err != nil {
		return ledger.REMSummary{}, err
	}
	return e.REM(ctx, in.OperationID)
}

type AmendmentInput struct {
	OperationID  int64
	Motif        string
	Description  string
	ImpactBudget float64
	ImpactDelai  int
	Date         *time.Time
	ActorID      string
}

// AddAmendment drafts the next numbered amendment and requests its
// validation.
func (e Engine) AddAmendment(ctx context.Context, in AmendmentInput) (domain.Amendment, error) {
	motif := strings.TrimSpace(in.Motif)
	if motif == "" {
		return domain.Amendment{}, domain.Invalidf("motif is required")
	}
	if !slices.Contains(domain.AmendmentMotifs, motif) {
		return domain.Amendment{}, domain.Invalidf("unknown motif %q", motif)
	}
	a := domain.Amendment{
		OperationID:  in.OperationID,
		Date:         e.now().UTC(),
		Motif:        motif,
		Description:  in.Description,
		ImpactBudget: in.ImpactBudget,
		ImpactDelai:  in.ImpactDelai,
		Statut:       domain.AmendmentBrouillon,
	}
	if in.Date != nil {
		a.Date = *in.Date
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetOperationTx(ctx, tx, in.OperationID); err != nil {
			return err
		}
		existing, err := e.Repo.ListAmendmentsTx(ctx, tx, in.OperationID)
		if err != nil {
			return err
		}
		a.Numero = ledger.NextAmendmentNumber(existing)
		if err := e.Repo.InsertAmendment(ctx, tx, a); err != nil {
			return err
		}
		payload := map[string]any{"numero": a.Numero, "motif": a.Motif, "impact_budget": a.ImpactBudget, "impact_delai": a.ImpactDelai}
		if err := e.queueIntent(ctx, tx, intents.KindAmendmentValidation, in.OperationID, payload); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.AmendmentAdded, in.OperationID, "amendment", strconv.Itoa(a.Numero), actor(in.ActorID), payload)
	})
	if err != nil {
		return domain.Amendment{}, err
	}
	return a, nil
}

type LotInput struct {
	OperationID      int64
	Nom              string
	MarcheInitial    float64
	QuantitesReelles float64
	PlusMoinsValue   float64
	Penalites        float64
	ActorID          string
}

// AddFinalAccountLot adds a lot to the final account, opening the
// settlement workflow on the first one.
func (e Engine) AddFinalAccountLot(ctx context.Context, in LotInput) (ledger.LotView, error) {
	if strings.TrimSpace(in.Nom) == "" {
		return ledger.LotView{}, domain.Invalidf("nom is required")
	}
	if in.MarcheInitial < 0 || in.Penalites < 0 || in.QuantitesReelles < 0 {
		return ledger.LotView{}, domain.Invalidf("marche_initial, quantites_reelles and penalites must be >= 0")
	}
	lot := domain.FinalAccountLot{
		OperationID:      in.OperationID,
		Nom:              strings.TrimSpace(in.Nom),
		MarcheInitial:    in.MarcheInitial,
		QuantitesReelles: in.QuantitesReelles,
		PlusMoinsValue:   in.PlusMoinsValue,
		Penalites:        in.Penalites,
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetOperationTx(ctx, tx, in.OperationID); err != nil {
			return err
		}
		if err := e.Repo.InsertFinalAccountLot(ctx, tx, lot); err != nil {
			return err
		}
		steps, err := e.Repo.ListFinalAccountStepsTx(ctx, tx, in.OperationID)
		if err != nil {
			return err
		}
		if len(steps) == 0 {
			if err := e.Repo.ReplaceFinalAccountSteps(ctx, tx, in.OperationID, ledger.DefaultWorkflow()); err != nil {
				return err
			}
		}
		return e.Events.Append(ctx, tx, events.FinalAccountLotAdded, in.OperationID, "final_account_lot", lot.Nom, actor(in.ActorID), events.EventPayload{
			"marche_initial": lot.MarcheInitial, "montant_final": lot.FinalAmount(),
		})
	})
	if err != nil {
		return ledger.LotView{}, err
	}
	view := ledger.LotView{FinalAccountLot: lot, MontantFinal: lot.FinalAmount()}
	if _, pct, err := ledger.Settle(lot.MarcheInitial, lot.PlusMoinsValue, lot.Penalites); err == nil {
		view.EcartPourcentage = &pct
	}
	return view, nil
}

// AdvanceFinalAccountStep completes the ongoing settlement step.
func (e Engine) AdvanceFinalAccountStep(ctx context.Context, id int64, actorID string) ([]domain.WorkflowStep, error) {
	var steps []domain.WorkflowStep
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetOperationTx(ctx, tx, id); err != nil {
			return err
		}
		current, err := e.Repo.ListFinalAccountStepsTx(ctx, tx, id)
		if err != nil {
			return err
		}
		next, err := ledger.AdvanceWorkflow(current)
		if err != nil {
			return domain.Invalidf("%v", err)
		}
		if err := e.Repo.ReplaceFinalAccountSteps(ctx, tx, id, next); err != nil {
			return err
		}
		steps = next
		return e.Events.Append(ctx, tx, events.FinalAccountAdvanced, id, "final_account", opEntity(id), actor(actorID), events.EventPayload{
			"pending": pendingSteps(next),
		})
	})
	return steps, err
}

func pendingSteps(steps []domain.WorkflowStep) int {
	n := 0
	for _, s := range steps {
		if s.Statut != domain.WorkflowDone {
			n++
		}
	}
	return n
}

type NoticeInput struct {
	OperationID     int64
	Type            string
	Destinataire    string
	Motifs          []string
	Details         string
	DelaiConformite int
	DateEnvoi       *time.Time
	ActorID         string
}

// AddFormalNotice issues a formal notice and queues its document generation
// and the reminder at its deadline.
func (e Engine) AddFormalNotice(ctx context.Context, in NoticeInput) (domain.FormalNotice, error) {
	typ, err := domain.ParseNoticeType(in.Type)
	if err != nil {
		return domain.FormalNotice{}, domain.Invalidf("%v", err)
	}
	if strings.TrimSpace(in.Destinataire) == "" {
		return domain.FormalNotice{}, domain.Invalidf("destinataire is required")
	}
	if len(in.Motifs) == 0 {
		return domain.FormalNotice{}, domain.Invalidf("at least one motif is required")
	}
	for _, m := range in.Motifs {
		if !slices.Contains(domain.NoticeMotifs, m) {
			return domain.FormalNotice{}, domain.Invalidf("unknown motif %q", m)
		}
	}
	delay, err := ledger.ValidateNoticeDelay(in.DelaiConformite)
	if err != nil {
		return domain.FormalNotice{}, domain.Invalidf("%v", err)
	}
	sent := e.now().UTC()
	if in.DateEnvoi != nil {
		sent = *in.DateEnvoi
	}
	n := domain.FormalNotice{
		ID:              uuid.NewString(),
		OperationID:     in.OperationID,
		Reference:       ledger.NoticeReference(typ, in.OperationID, sent),
		Type:            typ,
		Destinataire:    strings.TrimSpace(in.Destinataire),
		Motifs:          append([]string(nil), in.Motifs...),
		Details:         in.Details,
		DateEnvoi:       sent,
		DelaiConformite: delay,
		Statut:          domain.NoticeEnvoyee,
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetOperationTx(ctx, tx, in.OperationID); err != nil {
			return err
		}
		if err := e.Repo.InsertNotice(ctx, tx, n); err != nil {
			return err
		}
		if err := e.queueIntent(ctx, tx, intents.KindNoticeGenerate, n.OperationID, map[string]any{
			"notice_id": n.ID, "reference": n.Reference, "type_med": n.Type, "destinataire": n.Destinataire, "motifs": n.Motifs,
		}); err != nil {
			return err
		}
		if err := e.queueIntent(ctx, tx, intents.KindNoticeReminder, n.OperationID, map[string]any{
			"notice_id": n.ID, "reference": n.Reference, "echeance": domain.FormatDate(n.Deadline()),
		}); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.NoticeIssued, n.OperationID, "notice", n.ID, actor(in.ActorID), events.EventPayload{
			"reference": n.Reference, "delai_conformite": n.DelaiConformite,
		})
	})
	if err != nil {
		return domain.FormalNotice{}, err
	}
	return n, nil
}

// RemindNotices flags every unresolved notice of the operation as reminded
// and queues one reminder per notice.
func (e Engine) RemindNotices(ctx context.Context, id int64, actorID string) ([]domain.FormalNotice, error) {
	reminded := []domain.FormalNotice{}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetOperationTx(ctx, tx, id); err != nil {
			return err
		}
		notices, err := e.Repo.ListNoticesTx(ctx, tx, id)
		if err != nil {
			return err
		}
		for _, n := range notices {
			if ledger.NoticeResolved(n.Statut) {
				continue
			}
			if err := e.Repo.UpdateNoticeStatus(ctx, tx, n.ID, domain.NoticeRelancee); err != nil {
				return err
			}
			if err := e.queueIntent(ctx, tx, intents.KindNoticeReminder, id, map[string]any{
				"notice_id": n.ID, "reference": n.Reference, "echeance": domain.FormatDate(n.Deadline()),
			}); err != nil {
				return err
			}
			n.Statut = domain.NoticeRelancee
			reminded = append(reminded, n)
		}
		return e.Events.Append(ctx, tx, events.NoticesReminded, id, "operation", opEntity(id), actor(actorID), events.EventPayload{
			"count": len(reminded),
		})
	})
	if err != nil {
		return nil, err
	}
	return reminded, nil
}

type UtilityInput struct {
	OperationID int64
	Provider    string
	Sequence    int
	Nom         string
	Statut      string
	Date        *time.Time
	ActorID     string
}

func (e Engine) SetUtilityStep(ctx context.Context, in UtilityInput) (ledger.UtilitySummary, error) {
	provider, err := domain.ParseProvider(in.Provider)
	if err != nil {
		return ledger.UtilitySummary{}, domain.Invalidf("%v", err)
	}
	if in.Sequence < 1 {
		return ledger.UtilitySummary{}, domain.Invalidf("sequence must be >= 1")
	}
	if strings.TrimSpace(in.Nom) == "" {
		return ledger.UtilitySummary{}, domain.Invalidf("nom is required")
	}
	step := domain.UtilityStep{
		OperationID: in.OperationID,
		Provider:    provider,
		Sequence:    in.Sequence,
		Nom:         strings.TrimSpace(in.Nom),
		Statut:      domain.NormalizeStepStatus(in.Statut),
		Date:        in.Date,
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetOperationTx(ctx, tx, in.OperationID); err != nil {
			return err
		}
		if err := e.Repo.UpsertUtilityStep(ctx, tx, step); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.UtilityStepSet, in.OperationID, "utility_step", fmt.Sprintf("%s/%d", provider, in.Sequence), actor(in.ActorID), events.EventPayload{
			"statut": step.Statut,
		})
	})
	if err != nil {
		return ledger.UtilitySummary{}, err
	}
	return e.Utilities(ctx, in.OperationID)
}

type ClaimInput struct {
	OperationID       int64
	Logement          string
	Type              string
	Description       string
	Urgence           string
	DelaiIntervention int
	Date              *time.Time
	ActorID           string
}

func (e Engine) AddClaim(ctx context.Context, in ClaimInput) (domain.Claim, error) {
	if strings.TrimSpace(in.Logement) == "" || strings.TrimSpace(in.Description) == "" {
		return domain.Claim{}, domain.Invalidf("logement and description are required")
	}
	if !slices.Contains(domain.ClaimTypes, in.Type) {
		return domain.Claim{}, domain.Invalidf("unknown claim type %q", in.Type)
	}
	switch in.Urgence {
	case "", domain.UrgenceNormale, domain.UrgencePrioritaire, domain.UrgenceUrgente:
	default:
		return domain.Claim{}, domain.Invalidf("unknown urgence %q", in.Urgence)
	}
	if in.DelaiIntervention < 0 {
		return domain.Claim{}, domain.Invalidf("delai_intervention must be >= 0")
	}
	c := domain.Claim{
		ID:                uuid.NewString(),
		OperationID:       in.OperationID,
		Date:              e.now().UTC(),
		Logement:          strings.TrimSpace(in.Logement),
		Type:              in.Type,
		Description:       strings.TrimSpace(in.Description),
		Urgence:           in.Urgence,
		Statut:            domain.ClaimOuverte,
		DelaiIntervention: in.DelaiIntervention,
	}
	if in.Date != nil {
		c.Date = *in.Date
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetOperationTx(ctx, tx, in.OperationID); err != nil {
			return err
		}
		if err := e.Repo.InsertClaim(ctx, tx, c); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ClaimAdded, in.OperationID, "claim", c.ID, actor(in.ActorID), events.EventPayload{
			"type": c.Type, "urgence": c.Urgence,
		})
	})
	if err != nil {
		return domain.Claim{}, err
	}
	return c, nil
}

// SetClosureItem resolves or reopens one checklist item.
func (e Engine) SetClosureItem(ctx context.Context, id int64, key string, resolved bool, actorID string) (ClosureView, error) {
	var item domain.ChecklistItem
	position := -1
	for i, it := range closure.DefaultChecklist() {
		if it.Key == key {
			item, position = it, i
		}
	}
	if position < 0 {
		return ClosureView{}, domain.Invalidf("unknown checklist item %q", key)
	}
	item.Resolved = resolved
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		op, err := e.Repo.GetOperationTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if op.Statut == domain.OperationCloturee {
			return domain.Invalidf("operation %d is closed", id)
		}
		if err := e.Repo.UpsertClosureItem(ctx, tx, id, position, item); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ClosureItemSet, id, "closure_item", key, actor(actorID), events.EventPayload{
			"resolved": resolved,
		})
	})
	if err != nil {
		return ClosureView{}, err
	}
	return e.Closure(ctx, id)
}

// CloseOperation runs the closure gate and closes the operation when every
// checklist item is resolved.
func (e Engine) CloseOperation(ctx context.Context, id int64, actorID string) (domain.Operation, error) {
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		op, err := e.Repo.GetOperationTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if op.Statut == domain.OperationCloturee {
			return domain.TransitionError{From: op.Statut, To: domain.OperationCloturee}
		}
		recorded, err := e.Repo.ListClosureItemsTx(ctx, tx, id)
		if err != nil {
			return err
		}
		res := closure.CanClose(closure.Merge(recorded))
		if !res.CanClose {
			return domain.ClosureBlockedError{OperationID: id, Unresolved: res.UnresolvedLabels()}
		}
		full := 100
		if err := e.Repo.UpdateOperation(ctx, tx, id, domain.OperationCloturee, &full); err != nil {
			return err
		}
		if err := e.queueIntent(ctx, tx, intents.KindOperationFinalReport, id, map[string]any{
			"nom": op.Nom, "type_operation": op.Type, "commune": op.Commune,
		}); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.OperationClosed, id, "operation", opEntity(id), actor(actorID), events.EventPayload{
			"from": op.Statut,
		})
	})
	if err != nil {
		return domain.Operation{}, err
	}
	e.logger().Info("operation closed", zap.Int64("operation_id", id))
	return e.Operation(ctx, id)
}
