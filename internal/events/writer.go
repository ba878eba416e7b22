package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended by the engine.
const (
	OperationCreated       = "operation.created"
	OperationStatusChanged = "operation.status_changed"
	OperationClosed        = "operation.closed"
	PhaseUpdated           = "phase.updated"
	REMRecorded            = "rem.recorded"
	AmendmentAdded         = "amendment.added"
	FinalAccountLotAdded   = "final_account.lot_added"
	FinalAccountAdvanced   = "final_account.advanced"
	NoticeIssued           = "notice.issued"
	NoticesReminded        = "notice.reminded"
	UtilityStepSet         = "utility.step_set"
	ClaimAdded             = "claim.added"
	ClosureItemSet         = "closure.item_set"
	ReferenceImported      = "reference.imported"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event inside tx. operationID 0 stores NULL.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType string, operationID int64, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,operation_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullableID(operationID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
