package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Zia971/opcopilotV4/internal/alerts"
	"github.com/Zia971/opcopilotV4/internal/closure"
	"github.com/Zia971/opcopilotV4/internal/domain"
	"github.com/Zia971/opcopilotV4/internal/ledger"
	"github.com/Zia971/opcopilotV4/internal/repo"
	"github.com/Zia971/opcopilotV4/internal/timeline"
)

// Operation returns one operation with its active brakes counted from the
// resolved timeline.
func (e Engine) Operation(ctx context.Context, id int64) (domain.Operation, error) {
	rec := e.Records()
	op, err := rec.GetOperation(ctx, id)
	if err != nil {
		return op, err
	}
	tl, err := e.timelineFor(ctx, rec, op)
	if err != nil {
		return op, err
	}
	op.FreinsActifs = tl.ActiveBlockers
	return op, nil
}

// Timeline materializes and resolves the phases of an operation. An
// operation whose type has no template gets an empty timeline carrying a
// warning instead of an error.
func (e Engine) Timeline(ctx context.Context, id int64) (timeline.Timeline, error) {
	rec := e.Records()
	op, err := rec.GetOperation(ctx, id)
	if err != nil {
		return timeline.Timeline{}, err
	}
	return e.timelineFor(ctx, rec, op)
}

func (e Engine) timelineFor(ctx context.Context, rec Records, op domain.Operation) (timeline.Timeline, error) {
	recorded, err := rec.ListPhases(ctx, op.ID)
	if err != nil {
		return timeline.Timeline{}, err
	}
	now := e.now()
	phases, err := e.materializer().Materialize(op.ID, op.Type, recorded, referenceDate(op, now))
	if errors.Is(err, domain.ErrUnknownOperationType) {
		e.logger().Warn("no template for operation type", zap.Int64("operation_id", op.ID), zap.String("type", string(op.Type)))
		tl := timeline.Annotate(op.ID, timeline.SourceNone, nil, now)
		tl.Warning = "Aucun modèle de phases pour le type " + string(op.Type)
		return tl, nil
	}
	if err != nil {
		return timeline.Timeline{}, err
	}
	source := timeline.SourceTemplate
	if len(recorded) > 0 {
		source = timeline.SourceRecorded
	}
	return timeline.Annotate(op.ID, source, phases, now), nil
}

func referenceDate(op domain.Operation, now time.Time) time.Time {
	switch {
	case op.DateDebutPrevue != nil && !op.DateDebutPrevue.IsZero():
		return *op.DateDebutPrevue
	case !op.DateCreation.IsZero():
		return op.DateCreation
	default:
		return now
	}
}

func (e Engine) REM(ctx context.Context, id int64) (ledger.REMSummary, error) {
	rec := e.Records()
	if _, err := rec.GetOperation(ctx, id); err != nil {
		return ledger.REMSummary{}, err
	}
	entries, err := rec.ListREM(ctx, id)
	if err != nil {
		return ledger.REMSummary{}, err
	}
	return ledger.AggregateREM(entries, e.remPolicy()), nil
}

func (e Engine) Amendments(ctx context.Context, id int64) (ledger.AmendmentSummary, error) {
	rec := e.Records()
	if _, err := rec.GetOperation(ctx, id); err != nil {
		return ledger.AmendmentSummary{}, err
	}
	list, err := rec.ListAmendments(ctx, id)
	if err != nil {
		return ledger.AmendmentSummary{}, err
	}
	return ledger.SummarizeAmendments(list, e.amendmentPolicy()), nil
}

// FinalAccountView is the settled final account; Diagnostic explains a
// missing percentage.
type FinalAccountView struct {
	ledger.FinalAccountSummary
	Diagnostic string `json:"diagnostic,omitempty"`
}

func (e Engine) FinalAccount(ctx context.Context, id int64) (FinalAccountView, error) {
	rec := e.Records()
	if _, err := rec.GetOperation(ctx, id); err != nil {
		return FinalAccountView{}, err
	}
	return e.finalAccountFor(ctx, rec, id)
}

func (e Engine) finalAccountFor(ctx context.Context, rec Records, id int64) (FinalAccountView, error) {
	lots, err := rec.ListFinalAccountLots(ctx, id)
	if err != nil {
		return FinalAccountView{}, err
	}
	steps, err := rec.ListFinalAccountSteps(ctx, id)
	if err != nil {
		return FinalAccountView{}, err
	}
	summary, err := ledger.SettleFinalAccount(lots, steps)
	view := FinalAccountView{FinalAccountSummary: summary}
	if errors.Is(err, domain.ErrDivisionUndefined) {
		view.Diagnostic = err.Error()
		return view, nil
	}
	return view, err
}

func (e Engine) Notices(ctx context.Context, id int64) (ledger.NoticeSummary, error) {
	rec := e.Records()
	if _, err := rec.GetOperation(ctx, id); err != nil {
		return ledger.NoticeSummary{}, err
	}
	list, err := rec.ListNotices(ctx, id)
	if err != nil {
		return ledger.NoticeSummary{}, err
	}
	return ledger.SummarizeNotices(list, e.now()), nil
}

func (e Engine) Utilities(ctx context.Context, id int64) (ledger.UtilitySummary, error) {
	rec := e.Records()
	if _, err := rec.GetOperation(ctx, id); err != nil {
		return ledger.UtilitySummary{}, err
	}
	steps, err := rec.ListUtilitySteps(ctx, id)
	if err != nil {
		return ledger.UtilitySummary{}, err
	}
	return ledger.SummarizeUtilities(steps), nil
}

func (e Engine) Claims(ctx context.Context, id int64) (ledger.ClaimSummary, error) {
	rec := e.Records()
	if _, err := rec.GetOperation(ctx, id); err != nil {
		return ledger.ClaimSummary{}, err
	}
	list, err := rec.ListClaims(ctx, id)
	if err != nil {
		return ledger.ClaimSummary{}, err
	}
	return ledger.SummarizeClaims(list), nil
}

type ClosureBalance struct {
	PhasesEnRetard int     `json:"phases_en_retard"`
	Avenants       int     `json:"avenants"`
	AvenantsTotal  float64 `json:"avenants_total"`
	Reclamations   int     `json:"reclamations"`
}

type ClosureView struct {
	OperationID int64                  `json:"operation_id"`
	Operation   string                 `json:"operation"`
	Statut      domain.OperationStatus `json:"statut"`
	Checklist   []domain.ChecklistItem `json:"checklist"`
	closure.Result
	Balance ClosureBalance `json:"bilan"`
}

// Closure evaluates the closure checklist of an operation together with the
// closing balance.
func (e Engine) Closure(ctx context.Context, id int64) (ClosureView, error) {
	rec := e.Records()
	op, err := rec.GetOperation(ctx, id)
	if err != nil {
		return ClosureView{}, err
	}
	recorded, err := rec.ListClosureItems(ctx, id)
	if err != nil {
		return ClosureView{}, err
	}
	items := closure.Merge(recorded)
	view := ClosureView{OperationID: op.ID, Operation: op.Nom, Statut: op.Statut, Checklist: items, Result: closure.CanClose(items)}

	tl, err := e.timelineFor(ctx, rec, op)
	if err != nil {
		return ClosureView{}, err
	}
	for _, p := range tl.Phases {
		if p.Delayed {
			view.Balance.PhasesEnRetard++
		}
	}
	amendments, err := rec.ListAmendments(ctx, id)
	if err != nil {
		return ClosureView{}, err
	}
	sum := ledger.SummarizeAmendments(amendments, e.amendmentPolicy())
	view.Balance.Avenants = sum.Count
	view.Balance.AvenantsTotal = sum.BudgetImpact
	claims, err := rec.ListClaims(ctx, id)
	if err != nil {
		return ClosureView{}, err
	}
	view.Balance.Reclamations = len(claims)
	return view, nil
}

// Alerts composes the alerts of every active operation and merges the
// pre-computed ones of the record source.
func (e Engine) Alerts(ctx context.Context) ([]domain.Alert, error) {
	rec := e.Records()
	analyses, err := e.analyzeAll(ctx, rec)
	if err != nil {
		return nil, err
	}
	return e.alertsFor(ctx, rec, analyses)
}

func (e Engine) alertsFor(ctx context.Context, rec Records, analyses []analysis) ([]domain.Alert, error) {
	var signals []alerts.OperationSignals
	for _, a := range analyses {
		if !a.op.Statut.Active() {
			continue
		}
		signals = append(signals, a.signals())
	}
	extra, err := rec.ReferenceAlerts(ctx)
	if err != nil {
		return nil, err
	}
	out := alerts.Merge(alerts.Compose(signals), extra)
	if out == nil {
		out = []domain.Alert{}
	}
	return out, nil
}

const (
	KPISourceReference = "reference"
	KPISourceComputed  = "computed"
)

type Dashboard struct {
	KPIs        domain.KPIs            `json:"kpis"`
	KPISource   string                 `json:"kpis_source" enum:"reference,computed"`
	Activity    domain.MonthlyActivity `json:"activite_mensuelle"`
	Alerts      []domain.Alert         `json:"alertes"`
	Diagnostics []string               `json:"diagnostics,omitempty"`
}

// Dashboard returns the portfolio KPIs, the activity series and the alert
// list. KPIs shipped with the record source win over computed ones.
func (e Engine) Dashboard(ctx context.Context) (Dashboard, error) {
	rec := e.Records()
	analyses, err := e.analyzeAll(ctx, rec)
	if err != nil {
		return Dashboard{}, err
	}
	d := Dashboard{KPISource: KPISourceComputed}
	if e.readOnly() {
		d.Diagnostics = e.Diagnostics()
	}
	kpis, err := rec.KPIs(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	if kpis != nil {
		d.KPIs = *kpis
		d.KPISource = KPISourceReference
	} else {
		d.KPIs = e.computeKPIs(analyses)
	}
	if d.Activity, err = rec.MonthlyActivity(ctx); err != nil {
		return Dashboard{}, err
	}
	if d.Alerts, err = e.alertsFor(ctx, rec, analyses); err != nil {
		return Dashboard{}, err
	}
	return d, nil
}

func (e Engine) computeKPIs(analyses []analysis) domain.KPIs {
	var k domain.KPIs
	now := e.now()
	window := e.deadlineWindow()
	for _, a := range analyses {
		k.REMRealisee += a.rem.Rent.TotalRealized
		k.REMPrevue += a.rem.Rent.TotalProjected
		if !a.op.Statut.Active() {
			k.OperationsCloturees++
			continue
		}
		k.OperationsActives++
		k.FreinsActifs += a.tl.ActiveBlockers
		k.FreinsCritiques += a.tl.CriticalBlockers
		k.EcheancesSemaine += timeline.DueWithin(a.tl.Phases, now, window)
		k.ValidationsRequises += a.pendingValidations()
	}
	if pct, err := ledger.Ratio(k.REMRealisee, k.REMPrevue); err == nil {
		k.TauxRealisationREM = float64(int(pct*10+0.5)) / 10
	}
	return k
}

// EventLog lists the newest workspace events. The reference source has none.
func (e Engine) EventLog(ctx context.Context, f repo.EventFilter) ([]domain.Event, error) {
	if e.readOnly() {
		return []domain.Event{}, nil
	}
	list, err := e.Repo.LatestEvents(ctx, f)
	if list == nil {
		list = []domain.Event{}
	}
	return list, err
}

// Templates lists the catalog.
func (e Engine) Templates() []domain.Template {
	return e.Catalog().All()
}

func (e Engine) Template(typ string) (domain.Template, error) {
	t, err := domain.ParseOperationType(typ)
	if err != nil {
		return domain.Template{}, errors.Join(domain.ErrUnknownOperationType, err)
	}
	return e.Catalog().Lookup(t)
}
