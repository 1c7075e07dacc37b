package repo

import (
	"context"
	"database/sql"
	"strings"

	"inspectline/internal/domain"
)

const taskCols = `t.id,t.title,COALESCE(t.description,'') AS description,t.priority,t.status,t.is_completed,t.inspection_id,t.template_id,tpl.title,t.assigned_to_id,t.assigned_by_id,t.due_date,t.completed_at,t.created_at,t.updated_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var inspectionID, templateID, templateTitle, dueDate, completedAt sql.NullString
	var isCompleted int
	err := scan(&t.ID, &t.Title, &t.Description, &t.Priority, &t.Status, &isCompleted,
		&inspectionID, &templateID, &templateTitle, &t.AssignedToID, &t.AssignedByID,
		&dueDate, &completedAt, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.IsCompleted = isCompleted != 0
	if inspectionID.Valid {
		t.InspectionID = &inspectionID.String
	}
	if templateID.Valid {
		t.TemplateID = &templateID.String
	}
	if templateTitle.Valid {
		t.TemplateTitle = &templateTitle.String
	}
	if dueDate.Valid {
		t.DueDate = &dueDate.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r Repo) InsertTask(ctx context.Context, t domain.Task) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tasks(id,title,description,priority,status,is_completed,inspection_id,template_id,assigned_to_id,assigned_by_id,due_date,completed_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, t.Description, t.Priority, t.Status, boolInt(t.IsCompleted),
		nullableStringPtr(t.InspectionID), nullableStringPtr(t.TemplateID), t.AssignedToID, t.AssignedByID,
		nullableStringPtr(t.DueDate), nullableStringPtr(t.CompletedAt), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,title,description,priority,status,is_completed,inspection_id,template_id,assigned_to_id,assigned_by_id,due_date,completed_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, t.Description, t.Priority, t.Status, boolInt(t.IsCompleted),
		nullableStringPtr(t.InspectionID), nullableStringPtr(t.TemplateID), t.AssignedToID, t.AssignedByID,
		nullableStringPtr(t.DueDate), nullableStringPtr(t.CompletedAt), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks t LEFT JOIN templates tpl ON tpl.id=t.template_id WHERE t.id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) UpdateTask(ctx context.Context, t domain.Task) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, priority=?, status=?, is_completed=?, due_date=?, completed_at=?, updated_at=? WHERE id=?`,
		t.Title, t.Description, t.Priority, t.Status, boolInt(t.IsCompleted),
		nullableStringPtr(t.DueDate), nullableStringPtr(t.CompletedAt), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTask(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type TaskFilters struct {
	AssignedToID string
	Status       string
	InspectionID string
	TemplateID   string
	Limit        int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.AssignedToID != "" {
		clauses = append(clauses, "t.assigned_to_id=?")
		args = append(args, f.AssignedToID)
	}
	if f.Status != "" {
		clauses = append(clauses, "t.status=?")
		args = append(args, f.Status)
	}
	if f.InspectionID != "" {
		clauses = append(clauses, "t.inspection_id=?")
		args = append(args, f.InspectionID)
	}
	if f.TemplateID != "" {
		clauses = append(clauses, "t.template_id=?")
		args = append(args, f.TemplateID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskCols + ` FROM tasks t LEFT JOIN templates tpl ON tpl.id=t.template_id ` + where + ` ORDER BY t.created_at DESC, t.id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

// TaskExistsForInspection reports whether the user already has a task
// anchored to the inspection. The projection uses this to stay idempotent.
func (r Repo) TaskExistsForInspection(ctx context.Context, inspectionID, assignedToID string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE inspection_id=? AND assigned_to_id=?`, inspectionID, assignedToID).Scan(&n)
	return n > 0, err
}

func (r Repo) TaskExistsForInspectionTx(ctx context.Context, tx *sql.Tx, inspectionID, assignedToID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE inspection_id=? AND assigned_to_id=?`, inspectionID, assignedToID).Scan(&n)
	return n > 0, err
}

func (r Repo) TaskExistsForTemplate(ctx context.Context, templateID, assignedToID string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE template_id=? AND assigned_to_id=?`, templateID, assignedToID).Scan(&n)
	return n > 0, err
}

// UpdateTasksStatusForInspection moves every task of one assignee anchored
// to an inspection into a new status.
func (r Repo) UpdateTasksStatusForInspection(ctx context.Context, tx *sql.Tx, inspectionID, assignedToID, status, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET status=?, updated_at=? WHERE inspection_id=? AND assigned_to_id=?`, status, updatedAt, inspectionID, assignedToID)
	return err
}

// CompleteTasksForInspection marks every task anchored to an inspection
// completed, regardless of assignee.
func (r Repo) CompleteTasksForInspection(ctx context.Context, tx *sql.Tx, inspectionID, completedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET status='completed', is_completed=1, completed_at=?, updated_at=? WHERE inspection_id=?`, completedAt, completedAt, inspectionID)
	return err
}

func (r Repo) CountTasksByStatus(ctx context.Context, assignedToID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks WHERE assigned_to_id=? GROUP BY status`, assignedToID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, nil
}
