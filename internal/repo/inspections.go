package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"inspectline/internal/domain"
)

const inspectionCols = `id,template_id,inspector_id,manager_id,scheduled_at,status,responses_json,remaining_actions_json,aql_results_json,defect_counts_json,aql_passed,rejection_reasons_json,completed_at,created_at,updated_at`

func scanInspection(scan func(dest ...any) error) (domain.Inspection, error) {
	var ins domain.Inspection
	var scheduledAt, aqlJSON, completedAt sql.NullString
	var responsesJSON, actionsJSON, countsJSON, reasonsJSON string
	var passed int
	err := scan(&ins.ID, &ins.TemplateID, &ins.InspectorID, &ins.ManagerID, &scheduledAt, &ins.Status,
		&responsesJSON, &actionsJSON, &aqlJSON, &countsJSON, &passed, &reasonsJSON, &completedAt, &ins.CreatedAt, &ins.UpdatedAt)
	if err == sql.ErrNoRows {
		return ins, ErrNotFound
	}
	if err != nil {
		return ins, err
	}
	if scheduledAt.Valid {
		ins.ScheduledAt = &scheduledAt.String
	}
	if completedAt.Valid {
		ins.CompletedAt = &completedAt.String
	}
	ins.AQLPassed = passed != 0
	if err := json.Unmarshal([]byte(responsesJSON), &ins.Responses); err != nil {
		return ins, err
	}
	if err := json.Unmarshal([]byte(actionsJSON), &ins.RemainingActions); err != nil {
		return ins, err
	}
	if err := json.Unmarshal([]byte(countsJSON), &ins.DefectCounts); err != nil {
		return ins, err
	}
	if err := json.Unmarshal([]byte(reasonsJSON), &ins.RejectionReasons); err != nil {
		return ins, err
	}
	if aqlJSON.Valid {
		var snap domain.AQLSnapshot
		if err := json.Unmarshal([]byte(aqlJSON.String), &snap); err != nil {
			return ins, err
		}
		ins.AQL = &snap
	}
	return ins, nil
}

func marshalInspection(ins domain.Inspection) (responses, actions string, aql any, counts, reasons string, err error) {
	if ins.Responses == nil {
		ins.Responses = map[string]any{}
	}
	if ins.RemainingActions == nil {
		ins.RemainingActions = []domain.RuleMatch{}
	}
	if ins.RejectionReasons == nil {
		ins.RejectionReasons = []string{}
	}
	b, err := json.Marshal(ins.Responses)
	if err != nil {
		return
	}
	responses = string(b)
	b, err = json.Marshal(ins.RemainingActions)
	if err != nil {
		return
	}
	actions = string(b)
	b, err = json.Marshal(ins.DefectCounts)
	if err != nil {
		return
	}
	counts = string(b)
	b, err = json.Marshal(ins.RejectionReasons)
	if err != nil {
		return
	}
	reasons = string(b)
	if ins.AQL != nil {
		b, err = json.Marshal(ins.AQL)
		if err != nil {
			return
		}
		aql = string(b)
	}
	return
}

func (r Repo) InsertInspection(ctx context.Context, ins domain.Inspection) error {
	responses, actions, aql, counts, reasons, err := marshalInspection(ins)
	if err != nil {
		return err
	}
	passed := 0
	if ins.AQLPassed {
		passed = 1
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO inspections(id,template_id,inspector_id,manager_id,scheduled_at,status,responses_json,remaining_actions_json,aql_results_json,defect_counts_json,aql_passed,rejection_reasons_json,completed_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		ins.ID, ins.TemplateID, ins.InspectorID, ins.ManagerID, nullableStringPtr(ins.ScheduledAt), ins.Status,
		responses, actions, aql, counts, passed, reasons, nullableStringPtr(ins.CompletedAt), ins.CreatedAt, ins.UpdatedAt)
	return err
}

func (r Repo) InsertInspectionTx(ctx context.Context, tx *sql.Tx, ins domain.Inspection) error {
	responses, actions, aql, counts, reasons, err := marshalInspection(ins)
	if err != nil {
		return err
	}
	passed := 0
	if ins.AQLPassed {
		passed = 1
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO inspections(id,template_id,inspector_id,manager_id,scheduled_at,status,responses_json,remaining_actions_json,aql_results_json,defect_counts_json,aql_passed,rejection_reasons_json,completed_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		ins.ID, ins.TemplateID, ins.InspectorID, ins.ManagerID, nullableStringPtr(ins.ScheduledAt), ins.Status,
		responses, actions, aql, counts, passed, reasons, nullableStringPtr(ins.CompletedAt), ins.CreatedAt, ins.UpdatedAt)
	return err
}

func (r Repo) GetInspection(ctx context.Context, id string) (domain.Inspection, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+inspectionCols+` FROM inspections WHERE id=?`, id)
	return scanInspection(row.Scan)
}

func (r Repo) GetInspectionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Inspection, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+inspectionCols+` FROM inspections WHERE id=?`, id)
	return scanInspection(row.Scan)
}

// UpdateInspectionTx writes the full mutable state of an inspection.
func (r Repo) UpdateInspectionTx(ctx context.Context, tx *sql.Tx, ins domain.Inspection) error {
	responses, actions, aql, counts, reasons, err := marshalInspection(ins)
	if err != nil {
		return err
	}
	passed := 0
	if ins.AQLPassed {
		passed = 1
	}
	res, err := tx.ExecContext(ctx, `UPDATE inspections SET scheduled_at=?, status=?, responses_json=?, remaining_actions_json=?, aql_results_json=?, defect_counts_json=?, aql_passed=?, rejection_reasons_json=?, completed_at=?, updated_at=? WHERE id=?`,
		nullableStringPtr(ins.ScheduledAt), ins.Status, responses, actions, aql, counts, passed, reasons,
		nullableStringPtr(ins.CompletedAt), ins.UpdatedAt, ins.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateInspectionIfStatus performs the same write but only when the row is
// still in the expected status. A zero-row update means another actor moved
// the inspection first.
func (r Repo) UpdateInspectionIfStatus(ctx context.Context, tx *sql.Tx, ins domain.Inspection, expected string) (bool, error) {
	responses, actions, aql, counts, reasons, err := marshalInspection(ins)
	if err != nil {
		return false, err
	}
	passed := 0
	if ins.AQLPassed {
		passed = 1
	}
	res, err := tx.ExecContext(ctx, `UPDATE inspections SET scheduled_at=?, status=?, responses_json=?, remaining_actions_json=?, aql_results_json=?, defect_counts_json=?, aql_passed=?, rejection_reasons_json=?, completed_at=?, updated_at=? WHERE id=? AND status=?`,
		nullableStringPtr(ins.ScheduledAt), ins.Status, responses, actions, aql, counts, passed, reasons,
		nullableStringPtr(ins.CompletedAt), ins.UpdatedAt, ins.ID, expected)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

type InspectionFilters struct {
	InspectorID string
	ManagerID   string
	TemplateID  string
	Status      string
	Statuses    []string
	Limit       int
}

func (r Repo) ListInspections(ctx context.Context, f InspectionFilters) ([]domain.Inspection, error) {
	var clauses []string
	var args []any
	if f.InspectorID != "" {
		clauses = append(clauses, "inspector_id=?")
		args = append(args, f.InspectorID)
	}
	if f.ManagerID != "" {
		clauses = append(clauses, "manager_id=?")
		args = append(args, f.ManagerID)
	}
	if f.TemplateID != "" {
		clauses = append(clauses, "template_id=?")
		args = append(args, f.TemplateID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if len(f.Statuses) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Statuses)), ",")
		clauses = append(clauses, "status IN ("+placeholders+")")
		for _, s := range f.Statuses {
			args = append(args, s)
		}
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + inspectionCols + ` FROM inspections ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Inspection
	for rows.Next() {
		ins, err := scanInspection(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, ins)
	}
	return res, nil
}
