package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends audit records inside the caller's transaction so the trail
// commits or rolls back with the mutation it describes.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Details map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, entityID, actorID, action string, details Details) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if details == nil {
		details = Details{}
	}
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO audits(entity_id,actor_id,action,details_json,ts) VALUES (?,?,?,?,?)`,
		entityID, actorID, action, string(data), ts)
	return err
}
