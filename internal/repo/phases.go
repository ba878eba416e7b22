package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Zia971/opcopilotV4/internal/domain"
)

const phaseColumns = `operation_id,sequence,nom,date_debut_prevue,date_fin_prevue,statut,responsable,est_critique,COALESCE(frein,'')`

func scanPhase(s scanner) (domain.Phase, error) {
	var (
		p          domain.Phase
		start, end string
		critical   int
	)
	if err := s.Scan(&p.OperationID, &p.Sequence, &p.Nom, &start, &end, &p.Statut, &p.Responsable, &critical, &p.Frein); err != nil {
		return p, err
	}
	var err error
	if p.PlannedStart, err = parseTime(start); err != nil {
		return p, err
	}
	if p.PlannedEnd, err = parseTime(end); err != nil {
		return p, err
	}
	p.EstCritique = critical != 0
	return p, nil
}

func (r Repo) ListPhases(ctx context.Context, operationID int64) ([]domain.Phase, error) {
	return r.ListPhasesTx(ctx, nil, operationID)
}

func (r Repo) ListPhasesTx(ctx context.Context, tx *sql.Tx, operationID int64) ([]domain.Phase, error) {
	return list(ctx, r.q(tx), scanPhase, `SELECT `+phaseColumns+` FROM phases WHERE operation_id=? ORDER BY sequence`, operationID)
}

func (r Repo) GetPhaseTx(ctx context.Context, tx *sql.Tx, operationID int64, sequence int) (domain.Phase, error) {
	p, err := scanPhase(r.q(tx).QueryRowContext(ctx, `SELECT `+phaseColumns+` FROM phases WHERE operation_id=? AND sequence=?`, operationID, sequence))
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

// InsertPhases appends phases; sequences must not collide with stored ones.
func (r Repo) InsertPhases(ctx context.Context, tx *sql.Tx, phases []domain.Phase) error {
	for _, p := range phases {
		_, err := r.q(tx).ExecContext(ctx, `INSERT INTO phases(operation_id,sequence,nom,date_debut_prevue,date_fin_prevue,statut,responsable,est_critique,frein) VALUES (?,?,?,?,?,?,?,?,?)`,
			p.OperationID, p.Sequence, p.Nom, timestamp(p.PlannedStart), timestamp(p.PlannedEnd), p.Statut, p.Responsable, boolInt(p.EstCritique), nullable(p.Frein))
		if err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) UpdatePhase(ctx context.Context, tx *sql.Tx, p domain.Phase) error {
	return mustAffect(r.q(tx).ExecContext(ctx, `UPDATE phases SET nom=?,date_debut_prevue=?,date_fin_prevue=?,statut=?,responsable=?,est_critique=?,frein=? WHERE operation_id=? AND sequence=?`,
		p.Nom, timestamp(p.PlannedStart), timestamp(p.PlannedEnd), p.Statut, p.Responsable, boolInt(p.EstCritique), nullable(p.Frein), p.OperationID, p.Sequence))
}
