package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"inspectline/internal/domain"
)

// UpsertInspectionResponse writes the finalized answer snapshot, replacing
// any earlier snapshot for the same (template, inspector) pair.
func (r Repo) UpsertInspectionResponse(ctx context.Context, tx *sql.Tx, resp domain.InspectionResponse) error {
	answers, err := json.Marshal(resp.Answers)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO inspection_responses(id,template_id,inspector_id,manager_id,answers_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(template_id,inspector_id) DO UPDATE SET manager_id=excluded.manager_id, answers_json=excluded.answers_json, updated_at=excluded.updated_at`,
		resp.ID, resp.TemplateID, resp.InspectorID, resp.ManagerID, string(answers), resp.CreatedAt, resp.UpdatedAt)
	return err
}

func scanResponse(scan func(dest ...any) error) (domain.InspectionResponse, error) {
	var resp domain.InspectionResponse
	var answersJSON string
	err := scan(&resp.ID, &resp.TemplateID, &resp.InspectorID, &resp.ManagerID, &answersJSON, &resp.CreatedAt, &resp.UpdatedAt)
	if err == sql.ErrNoRows {
		return resp, ErrNotFound
	}
	if err != nil {
		return resp, err
	}
	err = json.Unmarshal([]byte(answersJSON), &resp.Answers)
	return resp, err
}

func (r Repo) GetInspectionResponse(ctx context.Context, templateID, inspectorID string) (domain.InspectionResponse, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,template_id,inspector_id,manager_id,answers_json,created_at,updated_at FROM inspection_responses WHERE template_id=? AND inspector_id=?`, templateID, inspectorID)
	return scanResponse(row.Scan)
}

func (r Repo) ListInspectionResponses(ctx context.Context, templateID string) ([]domain.InspectionResponse, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,template_id,inspector_id,manager_id,answers_json,created_at,updated_at FROM inspection_responses WHERE template_id=? ORDER BY updated_at DESC`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.InspectionResponse
	for rows.Next() {
		resp, err := scanResponse(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, resp)
	}
	return res, nil
}

func (r Repo) InsertCorrectiveAction(ctx context.Context, tx *sql.Tx, ca domain.CorrectiveAction) error {
	counts, err := json.Marshal(ca.DefectCounts)
	if err != nil {
		return err
	}
	if ca.RejectionReasons == nil {
		ca.RejectionReasons = []string{}
	}
	reasons, err := json.Marshal(ca.RejectionReasons)
	if err != nil {
		return err
	}
	if ca.TopDefectCodes == nil {
		ca.TopDefectCodes = []domain.DefectTally{}
	}
	top, err := json.Marshal(ca.TopDefectCodes)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO corrective_actions(id,inspection_id,template_id,manager_id,inspector_id,defect_counts_json,rejection_reasons_json,top_defects_json,status,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		ca.ID, ca.InspectionID, ca.TemplateID, ca.ManagerID, ca.InspectorID, string(counts), string(reasons), string(top), ca.Status, ca.CreatedAt)
	return err
}

// CorrectiveActionExists guards against duplicate records for one
// inspection.
func (r Repo) CorrectiveActionExists(ctx context.Context, tx *sql.Tx, inspectionID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM corrective_actions WHERE inspection_id=?`, inspectionID).Scan(&n)
	return n > 0, err
}

func scanCorrectiveAction(scan func(dest ...any) error) (domain.CorrectiveAction, error) {
	var ca domain.CorrectiveAction
	var countsJSON, reasonsJSON, topJSON string
	err := scan(&ca.ID, &ca.InspectionID, &ca.TemplateID, &ca.ManagerID, &ca.InspectorID, &countsJSON, &reasonsJSON, &topJSON, &ca.Status, &ca.CreatedAt)
	if err == sql.ErrNoRows {
		return ca, ErrNotFound
	}
	if err != nil {
		return ca, err
	}
	if err := json.Unmarshal([]byte(countsJSON), &ca.DefectCounts); err != nil {
		return ca, err
	}
	if err := json.Unmarshal([]byte(reasonsJSON), &ca.RejectionReasons); err != nil {
		return ca, err
	}
	err = json.Unmarshal([]byte(topJSON), &ca.TopDefectCodes)
	return ca, err
}

type CorrectiveActionFilters struct {
	ManagerID    string
	InspectionID string
	Status       string
}

func (r Repo) ListCorrectiveActions(ctx context.Context, f CorrectiveActionFilters) ([]domain.CorrectiveAction, error) {
	query := `SELECT id,inspection_id,template_id,manager_id,inspector_id,defect_counts_json,rejection_reasons_json,top_defects_json,status,created_at FROM corrective_actions WHERE 1=1`
	var args []any
	if f.ManagerID != "" {
		query += ` AND manager_id=?`
		args = append(args, f.ManagerID)
	}
	if f.InspectionID != "" {
		query += ` AND inspection_id=?`
		args = append(args, f.InspectionID)
	}
	if f.Status != "" {
		query += ` AND status=?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CorrectiveAction
	for rows.Next() {
		ca, err := scanCorrectiveAction(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, ca)
	}
	return res, nil
}

func (r Repo) CloseCorrectiveAction(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE corrective_actions SET status='closed' WHERE id=? AND status='open'`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertNotification(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO notifications(id,template_id,inspection_id,manager_id,inspector_id,question_id,question_text,message,type,read,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		n.ID, n.TemplateID, n.InspectionID, n.ManagerID, n.InspectorID, n.QuestionID, n.QuestionText, n.Message, n.Type, boolInt(n.Read), n.CreatedAt)
	return err
}

func (r Repo) ListNotifications(ctx context.Context, managerID string, unreadOnly bool) ([]domain.Notification, error) {
	query := `SELECT id,template_id,inspection_id,manager_id,inspector_id,question_id,question_text,message,type,read,created_at FROM notifications WHERE manager_id=?`
	args := []any{managerID}
	if unreadOnly {
		query += ` AND read=0`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var read int
		if err := rows.Scan(&n.ID, &n.TemplateID, &n.InspectionID, &n.ManagerID, &n.InspectorID, &n.QuestionID, &n.QuestionText, &n.Message, &n.Type, &read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Read = read != 0
		res = append(res, n)
	}
	return res, nil
}

func (r Repo) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET read=1 WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
