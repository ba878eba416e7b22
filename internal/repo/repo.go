package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Zia971/opcopilotV4/internal/domain"
)

// Repo is the sqlite record source. Methods without a tx argument read
// through the pool; the Tx variants take part in the caller's transaction.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

// Begin starts a write transaction.
func (r Repo) Begin(ctx context.Context) (*sql.Tx, error) {
	return r.DB.BeginTx(ctx, nil)
}

func list[T any](ctx context.Context, q querier, scan func(scanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func mustAffect(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullableTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return timestamp(*t)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return domain.ParseDate(s)
}

func parseTimePtr(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := domain.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const operationColumns = `id,nom,type_operation,commune,budget_total,nb_logements_total,aco_responsable,statut,avancement,` +
	`COALESCE(adresse,''),COALESCE(parcelle,''),date_creation,COALESCE(date_debut_prevue,''),COALESCE(date_fin_prevue,''),COALESCE(details_json,'')`

func scanOperation(s scanner) (domain.Operation, error) {
	var (
		op                      domain.Operation
		created, start, end, dj string
	)
	err := s.Scan(&op.ID, &op.Nom, &op.Type, &op.Commune, &op.BudgetTotal, &op.NbLogementsTotal, &op.ACOResponsable,
		&op.Statut, &op.Avancement, &op.Adresse, &op.Parcelle, &created, &start, &end, &dj)
	if err != nil {
		return op, err
	}
	if op.DateCreation, err = parseTime(created); err != nil {
		return op, err
	}
	if op.DateDebutPrevue, err = parseTimePtr(start); err != nil {
		return op, err
	}
	if op.DateFinPrevue, err = parseTime(end); err != nil {
		return op, err
	}
	if dj != "" {
		if err := json.Unmarshal([]byte(dj), &op.Details); err != nil {
			return op, fmt.Errorf("operation %d details: %w", op.ID, err)
		}
	}
	return op, nil
}

func detailsJSON(d domain.OperationDetails) (any, error) {
	if d.OPP == nil && d.VEFA == nil {
		return nil, nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// InsertOperation stores op and returns its id. A positive op.ID is kept.
func (r Repo) InsertOperation(ctx context.Context, tx *sql.Tx, op domain.Operation) (int64, error) {
	details, err := detailsJSON(op.Details)
	if err != nil {
		return 0, err
	}
	var id any
	if op.ID > 0 {
		id = op.ID
	}
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO operations(id,nom,type_operation,commune,budget_total,nb_logements_total,aco_responsable,statut,avancement,adresse,parcelle,date_creation,date_debut_prevue,date_fin_prevue,details_json)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		id, op.Nom, op.Type, op.Commune, op.BudgetTotal, op.NbLogementsTotal, op.ACOResponsable, op.Statut, op.Avancement,
		nullable(op.Adresse), nullable(op.Parcelle), timestamp(op.DateCreation), nullableTime(op.DateDebutPrevue),
		nullableTime(&op.DateFinPrevue), details)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetOperation(ctx context.Context, id int64) (domain.Operation, error) {
	return r.GetOperationTx(ctx, nil, id)
}

func (r Repo) GetOperationTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Operation, error) {
	op, err := scanOperation(r.q(tx).QueryRowContext(ctx, `SELECT `+operationColumns+` FROM operations WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return op, fmt.Errorf("%w: %d", domain.ErrMissingOperation, id)
	}
	return op, err
}

func (r Repo) ListOperations(ctx context.Context) ([]domain.Operation, error) {
	return list(ctx, r.DB, scanOperation, `SELECT `+operationColumns+` FROM operations ORDER BY id`)
}

// UpdateOperation writes the mutable fields of an operation.
func (r Repo) UpdateOperation(ctx context.Context, tx *sql.Tx, id int64, status domain.OperationStatus, avancement *int) error {
	var (
		fields []string
		args   []any
	)
	if status != "" {
		fields = append(fields, "statut=?")
		args = append(args, status)
	}
	if avancement != nil {
		fields = append(fields, "avancement=?")
		args = append(args, *avancement)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	return mustAffect(r.q(tx).ExecContext(ctx, fmt.Sprintf(`UPDATE operations SET %s WHERE id=?`, strings.Join(fields, ",")), args...))
}

func (r Repo) CountOperations(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM operations`).Scan(&n)
	return n, err
}

// KPIs is nil for the workspace: dashboard figures are computed from records.
func (r Repo) KPIs(ctx context.Context) (*domain.KPIs, error) {
	return nil, nil
}

// MonthlyActivity buckets REM realized per quarter label and counts the
// operations active at the time of writing.
func (r Repo) MonthlyActivity(ctx context.Context) (domain.MonthlyActivity, error) {
	var act domain.MonthlyActivity
	var active int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM operations WHERE statut<>?`, domain.OperationCloturee).Scan(&active); err != nil {
		return act, err
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT trimestre, SUM(rem_realisee) FROM rem_entries GROUP BY trimestre ORDER BY MIN(position), trimestre`)
	if err != nil {
		return act, err
	}
	defer rows.Close()
	for rows.Next() {
		var label string
		var total float64
		if err := rows.Scan(&label, &total); err != nil {
			return act, err
		}
		act.Mois = append(act.Mois, label)
		act.REMMensuelle = append(act.REMMensuelle, total)
		act.OperationsActives = append(act.OperationsActives, active)
	}
	return act, rows.Err()
}

// ReferenceAlerts is empty for the workspace; alerts are composed.
func (r Repo) ReferenceAlerts(ctx context.Context) ([]domain.Alert, error) {
	return nil, nil
}
