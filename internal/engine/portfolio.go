package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Zia971/opcopilotV4/internal/alerts"
	"github.com/Zia971/opcopilotV4/internal/display"
	"github.com/Zia971/opcopilotV4/internal/domain"
	"github.com/Zia971/opcopilotV4/internal/ledger"
	"github.com/Zia971/opcopilotV4/internal/timeline"
)

const (
	analysisConcurrency    = 8
	defaultQuickAccessSize = 4
)

// analysis is everything derived for one operation in a portfolio pass.
type analysis struct {
	op         domain.Operation
	tl         timeline.Timeline
	rem        ledger.REMSummary
	amendments ledger.AmendmentSummary
	notices    ledger.NoticeSummary
	claims     ledger.ClaimSummary
	account    FinalAccountView
	hasLots    bool
}

func (a analysis) pendingValidations() int {
	n := a.tl.PendingApproval + a.amendments.Pending
	if a.hasLots {
		n += a.account.PendingSteps
	}
	return n
}

func (a analysis) signals() alerts.OperationSignals {
	var sigs []ledger.Signal
	sigs = append(sigs, a.rem.Signals()...)
	sigs = append(sigs, a.notices.Signals()...)
	sigs = append(sigs, a.claims.Signals()...)
	return alerts.OperationSignals{
		OperationID:        a.op.ID,
		Operation:          a.op.Nom,
		Phases:             a.tl.Phases,
		Ledger:             sigs,
		PendingValidations: a.pendingValidations(),
	}
}

// analyzeAll runs the per-operation analysis concurrently. Results keep the
// record source order.
func (e Engine) analyzeAll(ctx context.Context, rec Records) ([]analysis, error) {
	ops, err := rec.ListOperations(ctx)
	if err != nil {
		return nil, err
	}
	return e.analyze(ctx, rec, ops)
}

func (e Engine) analyze(ctx context.Context, rec Records, ops []domain.Operation) ([]analysis, error) {
	out := make([]analysis, len(ops))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(analysisConcurrency)
	for i, op := range ops {
		g.Go(func() error {
			a, err := e.analyzeOne(gctx, rec, op)
			if err != nil {
				return fmt.Errorf("operation %d: %w", op.ID, err)
			}
			out[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e Engine) analyzeOne(ctx context.Context, rec Records, op domain.Operation) (analysis, error) {
	a := analysis{op: op}
	var err error
	if a.tl, err = e.timelineFor(ctx, rec, op); err != nil {
		return a, err
	}
	a.op.FreinsActifs = a.tl.ActiveBlockers

	remEntries, err := rec.ListREM(ctx, op.ID)
	if err != nil {
		return a, err
	}
	a.rem = ledger.AggregateREM(remEntries, e.remPolicy())

	amendments, err := rec.ListAmendments(ctx, op.ID)
	if err != nil {
		return a, err
	}
	a.amendments = ledger.SummarizeAmendments(amendments, e.amendmentPolicy())

	notices, err := rec.ListNotices(ctx, op.ID)
	if err != nil {
		return a, err
	}
	a.notices = ledger.SummarizeNotices(notices, e.now())

	claims, err := rec.ListClaims(ctx, op.ID)
	if err != nil {
		return a, err
	}
	a.claims = ledger.SummarizeClaims(claims)

	if a.account, err = e.finalAccountFor(ctx, rec, op.ID); err != nil {
		return a, err
	}
	a.hasLots = len(a.account.Lots) > 0
	return a, nil
}

type PortfolioFilter struct {
	Type    string
	Statut  string
	Commune string
}

type PortfolioEntry struct {
	domain.Operation
	ProgressBucket string `json:"progress_bucket" enum:"green,yellow,red"`
	ProgressColor  string `json:"progress_color"`
	PhasesEnRetard int    `json:"phases_en_retard"`
	Alertes        int    `json:"alertes"`
}

type Portfolio struct {
	Operations  []PortfolioEntry `json:"operations"`
	QuickAccess []PortfolioEntry `json:"acces_rapide"`
	Total       int              `json:"total"`
	ByStatut    map[string]int   `json:"par_statut"`
	ByType      map[string]int   `json:"par_type"`
	Communes    []string         `json:"communes"`
}

// Portfolio lists the operations matching f. Quick access always shows the
// first operations of the unfiltered list.
func (e Engine) Portfolio(ctx context.Context, f PortfolioFilter) (Portfolio, error) {
	var typ domain.OperationType
	if strings.TrimSpace(f.Type) != "" {
		t, err := domain.ParseOperationType(f.Type)
		if err != nil {
			return Portfolio{}, domain.Invalidf("%v", err)
		}
		typ = t
	}
	var statut domain.OperationStatus
	if strings.TrimSpace(f.Statut) != "" {
		s, err := domain.ParseOperationStatus(f.Statut)
		if err != nil {
			return Portfolio{}, domain.Invalidf("%v", err)
		}
		statut = s
	}
	commune := strings.TrimSpace(f.Commune)

	rec := e.Records()
	analyses, err := e.analyzeAll(ctx, rec)
	if err != nil {
		return Portfolio{}, err
	}

	p := Portfolio{
		Operations: []PortfolioEntry{},
		ByStatut:   map[string]int{},
		ByType:     map[string]int{},
		Communes:   []string{},
	}
	seen := map[string]bool{}
	quick := e.config().Engine.QuickAccessSize
	if quick <= 0 {
		quick = defaultQuickAccessSize
	}
	for _, a := range analyses {
		entry := portfolioEntry(a)
		if len(p.QuickAccess) < quick {
			p.QuickAccess = append(p.QuickAccess, entry)
		}
		if !seen[a.op.Commune] {
			seen[a.op.Commune] = true
			p.Communes = append(p.Communes, a.op.Commune)
		}
		if typ != "" && a.op.Type != typ {
			continue
		}
		if statut != "" && a.op.Statut != statut {
			continue
		}
		if commune != "" && !strings.EqualFold(a.op.Commune, commune) {
			continue
		}
		p.Operations = append(p.Operations, entry)
		p.ByStatut[string(a.op.Statut)]++
		p.ByType[string(a.op.Type)]++
	}
	p.Total = len(p.Operations)
	sort.Strings(p.Communes)
	return p, nil
}

func portfolioEntry(a analysis) PortfolioEntry {
	bucket := display.ProgressBucket(a.op.Avancement)
	entry := PortfolioEntry{
		Operation:      a.op,
		ProgressBucket: bucket,
		ProgressColor:  display.BucketColor(bucket),
	}
	for _, p := range a.tl.Phases {
		if p.Delayed {
			entry.PhasesEnRetard++
		}
	}
	if a.op.Statut.Active() {
		entry.Alertes = len(alerts.Compose([]alerts.OperationSignals{a.signals()}))
	}
	return entry
}
