package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Zia971/opcopilotV4/internal/domain"
	"github.com/Zia971/opcopilotV4/internal/events"
	"github.com/Zia971/opcopilotV4/internal/refdata"
)

type ImportResult struct {
	Imported []int64        `json:"imported"`
	Skipped  []int64        `json:"skipped"`
	Counts   map[string]int `json:"counts"`
}

// ImportReferenceData copies the operations of snap, with all their
// records, into the workspace. Operations whose id already exists are
// skipped.
func (e Engine) ImportReferenceData(ctx context.Context, snap *refdata.Snapshot, actorID string) (ImportResult, error) {
	if snap == nil {
		snap = e.snapshot()
	}
	res := ImportResult{Imported: []int64{}, Skipped: []int64{}, Counts: map[string]int{}}
	ops, err := snap.ListOperations(ctx)
	if err != nil {
		return res, err
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		for _, op := range ops {
			_, err := e.Repo.GetOperationTx(ctx, tx, op.ID)
			if err == nil {
				res.Skipped = append(res.Skipped, op.ID)
				continue
			}
			if !errors.Is(err, domain.ErrMissingOperation) {
				return err
			}
			if err := e.importOperation(ctx, tx, snap, op, res.Counts); err != nil {
				return fmt.Errorf("import operation %d: %w", op.ID, err)
			}
			res.Imported = append(res.Imported, op.ID)
		}
		return e.Events.Append(ctx, tx, events.ReferenceImported, 0, "reference", "", actor(actorID), events.EventPayload{
			"imported": len(res.Imported), "skipped": len(res.Skipped), "counts": res.Counts,
		})
	})
	if err != nil {
		return ImportResult{}, err
	}
	e.logger().Info("reference data imported", zap.Int("imported", len(res.Imported)), zap.Int("skipped", len(res.Skipped)))
	return res, nil
}

func (e Engine) importOperation(ctx context.Context, tx *sql.Tx, snap *refdata.Snapshot, op domain.Operation, counts map[string]int) error {
	if _, err := e.Repo.InsertOperation(ctx, tx, op); err != nil {
		return err
	}
	counts["operations"]++
	id := op.ID

	phases, err := snap.ListPhases(ctx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.InsertPhases(ctx, tx, phases); err != nil {
		return err
	}
	counts["phases"] += len(phases)

	rem, err := snap.ListREM(ctx, id)
	if err != nil {
		return err
	}
	for _, r := range rem {
		if err := e.Repo.UpsertREM(ctx, tx, r); err != nil {
			return err
		}
	}
	counts["rem"] += len(rem)

	amendments, err := snap.ListAmendments(ctx, id)
	if err != nil {
		return err
	}
	for _, a := range amendments {
		if err := e.Repo.InsertAmendment(ctx, tx, a); err != nil {
			return err
		}
	}
	counts["amendments"] += len(amendments)

	lots, err := snap.ListFinalAccountLots(ctx, id)
	if err != nil {
		return err
	}
	for _, l := range lots {
		if err := e.Repo.InsertFinalAccountLot(ctx, tx, l); err != nil {
			return err
		}
	}
	counts["final_account_lots"] += len(lots)
	steps, err := snap.ListFinalAccountSteps(ctx, id)
	if err != nil {
		return err
	}
	if len(steps) > 0 {
		if err := e.Repo.ReplaceFinalAccountSteps(ctx, tx, id, steps); err != nil {
			return err
		}
	}

	notices, err := snap.ListNotices(ctx, id)
	if err != nil {
		return err
	}
	for _, n := range notices {
		if err := e.Repo.InsertNotice(ctx, tx, n); err != nil {
			return err
		}
	}
	counts["notices"] += len(notices)

	utilities, err := snap.ListUtilitySteps(ctx, id)
	if err != nil {
		return err
	}
	for _, u := range utilities {
		if err := e.Repo.UpsertUtilityStep(ctx, tx, u); err != nil {
			return err
		}
	}
	counts["utility_steps"] += len(utilities)

	claims, err := snap.ListClaims(ctx, id)
	if err != nil {
		return err
	}
	for _, c := range claims {
		if err := e.Repo.InsertClaim(ctx, tx, c); err != nil {
			return err
		}
	}
	counts["claims"] += len(claims)

	items, err := snap.ListClosureItems(ctx, id)
	if err != nil {
		return err
	}
	for i, it := range items {
		if err := e.Repo.UpsertClosureItem(ctx, tx, id, i, it); err != nil {
			return err
		}
	}
	return nil
}
