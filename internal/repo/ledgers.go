package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/Zia971/opcopilotV4/internal/domain"
)

// REM

func scanREM(s scanner) (domain.REMEntry, error) {
	var e domain.REMEntry
	err := s.Scan(&e.OperationID, &e.Trimestre, &e.REMProjetee, &e.REMRealisee, &e.AvancementREM,
		&e.DepensesProjetees, &e.DepensesFacturees, &e.AvancementTravaux)
	return e, err
}

// UpsertREM records a quarter. A new quarter is appended after the existing
// ones; a known quarter keeps its position.
func (r Repo) UpsertREM(ctx context.Context, tx *sql.Tx, e domain.REMEntry) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO rem_entries(operation_id,trimestre,rem_projetee,rem_realisee,avancement_rem,depenses_projetees,depenses_facturees,avancement_travaux,position)
VALUES (?,?,?,?,?,?,?,?,(SELECT COALESCE(MAX(position),0)+1 FROM rem_entries WHERE operation_id=?))
ON CONFLICT(operation_id,trimestre) DO UPDATE SET
  rem_projetee=excluded.rem_projetee, rem_realisee=excluded.rem_realisee, avancement_rem=excluded.avancement_rem,
  depenses_projetees=excluded.depenses_projetees, depenses_facturees=excluded.depenses_facturees, avancement_travaux=excluded.avancement_travaux`,
		e.OperationID, e.Trimestre, e.REMProjetee, e.REMRealisee, e.AvancementREM, e.DepensesProjetees, e.DepensesFacturees, e.AvancementTravaux, e.OperationID)
	return err
}

func (r Repo) ListREM(ctx context.Context, operationID int64) ([]domain.REMEntry, error) {
	return list(ctx, r.DB, scanREM, `SELECT operation_id,trimestre,rem_projetee,rem_realisee,avancement_rem,depenses_projetees,depenses_facturees,avancement_travaux
FROM rem_entries WHERE operation_id=? ORDER BY position`, operationID)
}

// Amendments

func scanAmendment(s scanner) (domain.Amendment, error) {
	var (
		a    domain.Amendment
		date string
	)
	if err := s.Scan(&a.OperationID, &a.Numero, &date, &a.Motif, &a.Description, &a.ImpactBudget, &a.ImpactDelai, &a.Statut); err != nil {
		return a, err
	}
	var err error
	a.Date, err = parseTime(date)
	return a, err
}

const amendmentQuery = `SELECT operation_id,numero,date,motif,COALESCE(description,''),impact_budget,impact_delai,statut FROM amendments WHERE operation_id=? ORDER BY numero`

func (r Repo) InsertAmendment(ctx context.Context, tx *sql.Tx, a domain.Amendment) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO amendments(operation_id,numero,date,motif,description,impact_budget,impact_delai,statut) VALUES (?,?,?,?,?,?,?,?)`,
		a.OperationID, a.Numero, timestamp(a.Date), a.Motif, nullable(a.Description), a.ImpactBudget, a.ImpactDelai, a.Statut)
	return err
}

func (r Repo) ListAmendments(ctx context.Context, operationID int64) ([]domain.Amendment, error) {
	return r.ListAmendmentsTx(ctx, nil, operationID)
}

func (r Repo) ListAmendmentsTx(ctx context.Context, tx *sql.Tx, operationID int64) ([]domain.Amendment, error) {
	return list(ctx, r.q(tx), scanAmendment, amendmentQuery, operationID)
}

// Final account

func scanLot(s scanner) (domain.FinalAccountLot, error) {
	var l domain.FinalAccountLot
	err := s.Scan(&l.OperationID, &l.Nom, &l.MarcheInitial, &l.QuantitesReelles, &l.PlusMoinsValue, &l.Penalites)
	return l, err
}

func (r Repo) InsertFinalAccountLot(ctx context.Context, tx *sql.Tx, l domain.FinalAccountLot) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO final_account_lots(operation_id,nom,marche_initial,quantites_reelles,plus_moins_value,penalites) VALUES (?,?,?,?,?,?)`,
		l.OperationID, l.Nom, l.MarcheInitial, l.QuantitesReelles, l.PlusMoinsValue, l.Penalites)
	return err
}

func (r Repo) ListFinalAccountLots(ctx context.Context, operationID int64) ([]domain.FinalAccountLot, error) {
	return list(ctx, r.DB, scanLot, `SELECT operation_id,nom,marche_initial,quantites_reelles,plus_moins_value,penalites FROM final_account_lots WHERE operation_id=? ORDER BY id`, operationID)
}

func scanStep(s scanner) (domain.WorkflowStep, error) {
	var w domain.WorkflowStep
	err := s.Scan(&w.Sequence, &w.Nom, &w.Responsable, &w.Statut)
	return w, err
}

// ReplaceFinalAccountSteps overwrites the settlement workflow of an operation.
func (r Repo) ReplaceFinalAccountSteps(ctx context.Context, tx *sql.Tx, operationID int64, steps []domain.WorkflowStep) error {
	q := r.q(tx)
	if _, err := q.ExecContext(ctx, `DELETE FROM final_account_steps WHERE operation_id=?`, operationID); err != nil {
		return err
	}
	for _, s := range steps {
		if _, err := q.ExecContext(ctx, `INSERT INTO final_account_steps(operation_id,sequence,nom,responsable,statut) VALUES (?,?,?,?,?)`,
			operationID, s.Sequence, s.Nom, s.Responsable, s.Statut); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListFinalAccountSteps(ctx context.Context, operationID int64) ([]domain.WorkflowStep, error) {
	return r.ListFinalAccountStepsTx(ctx, nil, operationID)
}

func (r Repo) ListFinalAccountStepsTx(ctx context.Context, tx *sql.Tx, operationID int64) ([]domain.WorkflowStep, error) {
	return list(ctx, r.q(tx), scanStep, `SELECT sequence,nom,responsable,statut FROM final_account_steps WHERE operation_id=? ORDER BY sequence`, operationID)
}

// Formal notices

const noticeColumns = `id,operation_id,reference,COALESCE(type_med,''),destinataire,COALESCE(motifs_json,''),COALESCE(details,''),date_envoi,delai_conformite,statut`

func scanNotice(s scanner) (domain.FormalNotice, error) {
	var (
		n            domain.FormalNotice
		motifs, sent string
	)
	if err := s.Scan(&n.ID, &n.OperationID, &n.Reference, &n.Type, &n.Destinataire, &motifs, &n.Details, &sent, &n.DelaiConformite, &n.Statut); err != nil {
		return n, err
	}
	if motifs != "" {
		if err := json.Unmarshal([]byte(motifs), &n.Motifs); err != nil {
			return n, err
		}
	}
	var err error
	n.DateEnvoi, err = parseTime(sent)
	return n, err
}

func (r Repo) InsertNotice(ctx context.Context, tx *sql.Tx, n domain.FormalNotice) error {
	var motifs any
	if len(n.Motifs) > 0 {
		data, err := json.Marshal(n.Motifs)
		if err != nil {
			return err
		}
		motifs = string(data)
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO formal_notices(id,operation_id,reference,type_med,destinataire,motifs_json,details,date_envoi,delai_conformite,statut) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		n.ID, n.OperationID, n.Reference, nullable(string(n.Type)), n.Destinataire, motifs, nullable(n.Details), timestamp(n.DateEnvoi), n.DelaiConformite, n.Statut)
	return err
}

func (r Repo) ListNotices(ctx context.Context, operationID int64) ([]domain.FormalNotice, error) {
	return r.ListNoticesTx(ctx, nil, operationID)
}

func (r Repo) ListNoticesTx(ctx context.Context, tx *sql.Tx, operationID int64) ([]domain.FormalNotice, error) {
	return list(ctx, r.q(tx), scanNotice, `SELECT `+noticeColumns+` FROM formal_notices WHERE operation_id=? ORDER BY date_envoi DESC, id`, operationID)
}

func (r Repo) UpdateNoticeStatus(ctx context.Context, tx *sql.Tx, id, statut string) error {
	return mustAffect(r.q(tx).ExecContext(ctx, `UPDATE formal_notices SET statut=? WHERE id=?`, statut, id))
}

// Utility connections

func scanUtility(s scanner) (domain.UtilityStep, error) {
	var (
		u    domain.UtilityStep
		date string
	)
	if err := s.Scan(&u.OperationID, &u.Provider, &u.Sequence, &u.Nom, &u.Statut, &date); err != nil {
		return u, err
	}
	var err error
	u.Date, err = parseTimePtr(date)
	return u, err
}

func (r Repo) UpsertUtilityStep(ctx context.Context, tx *sql.Tx, u domain.UtilityStep) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO utility_steps(operation_id,provider,sequence,nom,statut,date) VALUES (?,?,?,?,?,?)
ON CONFLICT(operation_id,provider,sequence) DO UPDATE SET nom=excluded.nom, statut=excluded.statut, date=excluded.date`,
		u.OperationID, u.Provider, u.Sequence, u.Nom, u.Statut, nullableTime(u.Date))
	return err
}

func (r Repo) ListUtilitySteps(ctx context.Context, operationID int64) ([]domain.UtilityStep, error) {
	return list(ctx, r.DB, scanUtility, `SELECT operation_id,provider,sequence,nom,statut,COALESCE(date,'') FROM utility_steps WHERE operation_id=?
ORDER BY CASE provider WHEN 'EDF' THEN 0 WHEN 'EAU' THEN 1 WHEN 'FIBRE' THEN 2 ELSE 3 END, sequence`, operationID)
}

// Claims

func scanClaim(s scanner) (domain.Claim, error) {
	var (
		c    domain.Claim
		date string
	)
	if err := s.Scan(&c.ID, &c.OperationID, &date, &c.Logement, &c.Type, &c.Description, &c.Urgence, &c.Statut, &c.DelaiIntervention); err != nil {
		return c, err
	}
	var err error
	c.Date, err = parseTime(date)
	return c, err
}

func (r Repo) InsertClaim(ctx context.Context, tx *sql.Tx, c domain.Claim) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO claims(id,operation_id,date,logement,type,description,urgence,statut,delai_intervention) VALUES (?,?,?,?,?,?,?,?,?)`,
		c.ID, c.OperationID, timestamp(c.Date), c.Logement, c.Type, c.Description, nullable(c.Urgence), c.Statut, c.DelaiIntervention)
	return err
}

func (r Repo) ListClaims(ctx context.Context, operationID int64) ([]domain.Claim, error) {
	return r.ListClaimsTx(ctx, nil, operationID)
}

func (r Repo) ListClaimsTx(ctx context.Context, tx *sql.Tx, operationID int64) ([]domain.Claim, error) {
	return list(ctx, r.q(tx), scanClaim, `SELECT id,operation_id,date,logement,type,description,COALESCE(urgence,''),statut,delai_intervention FROM claims WHERE operation_id=? ORDER BY date DESC, id`, operationID)
}

// Closure checklist

func scanChecklistItem(s scanner) (domain.ChecklistItem, error) {
	var (
		it       domain.ChecklistItem
		resolved int
	)
	err := s.Scan(&it.Key, &it.Label, &it.Responsable, &resolved)
	it.Resolved = resolved != 0
	return it, err
}

// UpsertClosureItem stores an item at position, or updates its resolution.
func (r Repo) UpsertClosureItem(ctx context.Context, tx *sql.Tx, operationID int64, position int, it domain.ChecklistItem) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO closure_items(operation_id,key,label,responsable,resolved,position) VALUES (?,?,?,?,?,?)
ON CONFLICT(operation_id,key) DO UPDATE SET resolved=excluded.resolved`,
		operationID, it.Key, it.Label, it.Responsable, boolInt(it.Resolved), position)
	return err
}

func (r Repo) ListClosureItems(ctx context.Context, operationID int64) ([]domain.ChecklistItem, error) {
	return r.ListClosureItemsTx(ctx, nil, operationID)
}

func (r Repo) ListClosureItemsTx(ctx context.Context, tx *sql.Tx, operationID int64) ([]domain.ChecklistItem, error) {
	return list(ctx, r.q(tx), scanChecklistItem, `SELECT key,label,responsable,resolved FROM closure_items WHERE operation_id=? ORDER BY position`, operationID)
}

// Events

const eventColumns = `id,ts,type,COALESCE(operation_id,0),entity_kind,COALESCE(entity_id,''),actor_id,COALESCE(payload_json,'')`

func scanEvent(s scanner) (domain.Event, error) {
	var e domain.Event
	err := s.Scan(&e.ID, &e.TS, &e.Type, &e.OperationID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload)
	return e, err
}

// EventFilter narrows LatestEvents; zero values match everything.
type EventFilter struct {
	OperationID int64
	Type        string
	Limit       int
}

// LatestEvents returns the newest events first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilter) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE 1=1`
	var args []any
	if f.OperationID != 0 {
		query += ` AND operation_id=?`
		args = append(args, f.OperationID)
	}
	if f.Type != "" {
		query += ` AND type=?`
		args = append(args, f.Type)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	return list(ctx, r.DB, scanEvent, query, args...)
}

// Intents

func scanIntent(s scanner) (domain.Intent, error) {
	var (
		it        domain.Intent
		payload   string
		delivered sql.NullString
	)
	if err := s.Scan(&it.ID, &it.Kind, &it.OperationID, &payload, &it.CreatedAt, &delivered, &it.Attempts, &it.LastError); err != nil {
		return it, err
	}
	if delivered.Valid {
		it.DeliveredAt = &delivered.String
	}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &it.Payload); err != nil {
			return it, err
		}
	}
	return it, nil
}

const intentColumns = `id,kind,operation_id,COALESCE(payload_json,''),created_at,delivered_at,attempts,COALESCE(last_error,'')`

func (r Repo) InsertIntent(ctx context.Context, tx *sql.Tx, it domain.Intent) error {
	var payload any
	if it.Payload != nil {
		data, err := json.Marshal(it.Payload)
		if err != nil {
			return err
		}
		payload = string(data)
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO intents(id,kind,operation_id,payload_json,created_at) VALUES (?,?,?,?,?)`,
		it.ID, it.Kind, it.OperationID, payload, it.CreatedAt)
	return err
}

// PendingIntents lists undelivered intents, oldest first, skipping those
// that already failed maxAttempts times. maxAttempts <= 0 disables the cut.
func (r Repo) PendingIntents(ctx context.Context, limit, maxAttempts int) ([]domain.Intent, error) {
	if limit <= 0 {
		limit = 100
	}
	if maxAttempts <= 0 {
		return list(ctx, r.DB, scanIntent, `SELECT `+intentColumns+` FROM intents WHERE delivered_at IS NULL ORDER BY created_at, id LIMIT ?`, limit)
	}
	return list(ctx, r.DB, scanIntent, `SELECT `+intentColumns+` FROM intents WHERE delivered_at IS NULL AND attempts<? ORDER BY created_at, id LIMIT ?`, maxAttempts, limit)
}

func (r Repo) GetIntent(ctx context.Context, id string) (domain.Intent, error) {
	it, err := scanIntent(r.DB.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM intents WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return it, ErrNotFound
	}
	return it, err
}

func (r Repo) MarkIntentDelivered(ctx context.Context, id, at string) error {
	return mustAffect(r.DB.ExecContext(ctx, `UPDATE intents SET delivered_at=?, attempts=attempts+1, last_error=NULL WHERE id=?`, at, id))
}

func (r Repo) MarkIntentFailed(ctx context.Context, id, reason string) error {
	return mustAffect(r.DB.ExecContext(ctx, `UPDATE intents SET attempts=attempts+1, last_error=? WHERE id=?`, reason, id))
}
