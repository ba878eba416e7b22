// Package engine answers the operation queries and applies the workspace
// writes. Reads go through Records so the same code serves the bundled
// reference dataset and the sqlite workspace.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Zia971/opcopilotV4/internal/catalog"
	"github.com/Zia971/opcopilotV4/internal/config"
	"github.com/Zia971/opcopilotV4/internal/domain"
	"github.com/Zia971/opcopilotV4/internal/events"
	"github.com/Zia971/opcopilotV4/internal/ledger"
	"github.com/Zia971/opcopilotV4/internal/refdata"
	"github.com/Zia971/opcopilotV4/internal/repo"
	"github.com/Zia971/opcopilotV4/internal/timeline"
)

const (
	SourceWorkspace = "workspace"
	SourceReference = "reference"
)

// Records is the read side shared by the reference snapshot and the
// workspace repository.
type Records interface {
	ListOperations(ctx context.Context) ([]domain.Operation, error)
	GetOperation(ctx context.Context, id int64) (domain.Operation, error)
	ListPhases(ctx context.Context, operationID int64) ([]domain.Phase, error)
	ListREM(ctx context.Context, operationID int64) ([]domain.REMEntry, error)
	ListAmendments(ctx context.Context, operationID int64) ([]domain.Amendment, error)
	ListFinalAccountLots(ctx context.Context, operationID int64) ([]domain.FinalAccountLot, error)
	ListFinalAccountSteps(ctx context.Context, operationID int64) ([]domain.WorkflowStep, error)
	ListNotices(ctx context.Context, operationID int64) ([]domain.FormalNotice, error)
	ListUtilitySteps(ctx context.Context, operationID int64) ([]domain.UtilityStep, error)
	ListClaims(ctx context.Context, operationID int64) ([]domain.Claim, error)
	ListClosureItems(ctx context.Context, operationID int64) ([]domain.ChecklistItem, error)
	KPIs(ctx context.Context) (*domain.KPIs, error)
	MonthlyActivity(ctx context.Context) (domain.MonthlyActivity, error)
	ReferenceAlerts(ctx context.Context) ([]domain.Alert, error)
}

var (
	_ Records = (*refdata.Snapshot)(nil)
	_ Records = repo.Repo{}
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Reference *refdata.Store
	Config    *config.Config
	Log       *zap.Logger
	Now       func() time.Time
	// Source selects the record source: SourceWorkspace (default when a
	// database is attached) or SourceReference.
	Source string
}

// New wires an engine over db and the reference store. A nil db serves the
// reference dataset read-only.
func New(db *sql.DB, ref *refdata.Store, cfg *config.Config, log *zap.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if ref == nil {
		ref = refdata.NewStore(refdata.EmptySnapshot())
	}
	source := SourceWorkspace
	if db == nil {
		source = SourceReference
	}
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Reference: ref,
		Config:    cfg,
		Log:       log.Named("engine"),
		Now:       time.Now,
		Source:    source,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Clock returns the engine's notion of now.
func (e Engine) Clock() time.Time {
	return e.now()
}

func (e Engine) logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func (e Engine) config() *config.Config {
	if e.Config == nil {
		return config.Default()
	}
	return e.Config
}

func (e Engine) snapshot() *refdata.Snapshot {
	if e.Reference == nil {
		return refdata.EmptySnapshot()
	}
	return e.Reference.Current()
}

// Records returns the active record source.
func (e Engine) Records() Records {
	if e.readOnly() {
		return e.snapshot()
	}
	return e.Repo
}

func (e Engine) readOnly() bool {
	return e.Source == SourceReference || e.DB == nil
}

// WithSource returns a copy of e reading from source.
func (e Engine) WithSource(source string) (Engine, error) {
	switch source {
	case "", SourceWorkspace:
		if e.DB == nil {
			return e, domain.Invalidf("workspace source requires a database")
		}
		e.Source = SourceWorkspace
	case SourceReference:
		e.Source = SourceReference
	default:
		return e, domain.Invalidf("unknown source %q", source)
	}
	return e, nil
}

// Catalog is the template catalog of the current reference snapshot.
func (e Engine) Catalog() *catalog.Catalog {
	if c := e.snapshot().Catalog; c != nil {
		return c
	}
	return catalog.Empty()
}

func (e Engine) materializer() timeline.Materializer {
	return timeline.Materializer{Catalog: e.Catalog(), Policy: timeline.PolicyFromConfig(e.config().Engine)}
}

// storedMaterializer lays out phases that get persisted: the whole template,
// every phase NON_DEMARREE, whatever the configured mode.
func (e Engine) storedMaterializer() timeline.Materializer {
	return timeline.Materializer{Catalog: e.Catalog(), Policy: timeline.Policy{StagingOffsetDays: e.config().Engine.StagingOffsetDays}}
}

func (e Engine) remPolicy() ledger.REMPolicy {
	cfg := e.config().Engine
	return ledger.REMPolicy{DeviationThreshold: cfg.REMDeviationThreshold, RealizationThreshold: cfg.RealizationThreshold}
}

func (e Engine) amendmentPolicy() ledger.AmendmentPolicy {
	cfg := e.config().Engine
	return ledger.AmendmentPolicy{BudgetBaseline: cfg.AmendmentBudgetBaseline, DelayBaseline: cfg.AmendmentDelayBaseline}
}

func (e Engine) deadlineWindow() time.Duration {
	days := e.config().Engine.DeadlineWindowDays
	if days <= 0 {
		days = 7
	}
	return time.Duration(days) * 24 * time.Hour
}

// Reload rebuilds the reference snapshot from its source files.
func (e Engine) Reload() error {
	if e.Reference == nil {
		return fmt.Errorf("no reference store")
	}
	return e.Reference.Reload()
}

// Diagnostics lists the problems found in the current reference snapshot.
func (e Engine) Diagnostics() []string {
	return append([]string(nil), e.snapshot().Diagnostics...)
}
