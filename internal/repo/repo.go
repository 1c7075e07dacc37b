package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"inspectline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

const templateCols = `id,title,COALESCE(description,'') AS description,image_url,pages_json,creator_id,manager_id,organization,location,status,aql_level,lot_size,sample_size,major_allowed,minor_allowed,critical_allowed,defect_categories_json,created_at,updated_at`

func scanTemplate(scan func(dest ...any) error) (domain.Template, error) {
	var t domain.Template
	var imageURL, managerID sql.NullString
	var pagesJSON, categoriesJSON string
	var aqlLevel sql.NullFloat64
	var lotSize, sampleSize, major, minor, critical sql.NullInt64
	err := scan(&t.ID, &t.Title, &t.Description, &imageURL, &pagesJSON, &t.CreatorID, &managerID,
		&t.Organization, &t.Location, &t.Status, &aqlLevel, &lotSize, &sampleSize, &major, &minor, &critical,
		&categoriesJSON, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if imageURL.Valid {
		t.ImageURL = &imageURL.String
	}
	if managerID.Valid {
		t.ManagerID = &managerID.String
	}
	if aqlLevel.Valid {
		t.AQLLevel = &aqlLevel.Float64
	}
	intPtr := func(v sql.NullInt64) *int {
		if !v.Valid {
			return nil
		}
		n := int(v.Int64)
		return &n
	}
	t.LotSize = intPtr(lotSize)
	t.SampleSize = intPtr(sampleSize)
	t.MajorAllowed = intPtr(major)
	t.MinorAllowed = intPtr(minor)
	t.CriticalAllowed = intPtr(critical)
	if err := json.Unmarshal([]byte(pagesJSON), &t.Pages); err != nil {
		return t, err
	}
	if err := json.Unmarshal([]byte(categoriesJSON), &t.DefectCategories); err != nil {
		return t, err
	}
	return t, nil
}

func (r Repo) InsertTemplate(ctx context.Context, t domain.Template) error {
	pages, err := json.Marshal(t.Pages)
	if err != nil {
		return err
	}
	cats, err := json.Marshal(t.DefectCategories)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO templates(id,title,description,image_url,pages_json,creator_id,manager_id,organization,location,status,aql_level,lot_size,sample_size,major_allowed,minor_allowed,critical_allowed,defect_categories_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, t.Description, nullableStringPtr(t.ImageURL), string(pages), t.CreatorID, nullableStringPtr(t.ManagerID),
		t.Organization, t.Location, t.Status, nullableFloatPtr(t.AQLLevel), nullableIntPtr(t.LotSize), nullableIntPtr(t.SampleSize),
		nullableIntPtr(t.MajorAllowed), nullableIntPtr(t.MinorAllowed), nullableIntPtr(t.CriticalAllowed), string(cats), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTemplate(ctx context.Context, t domain.Template) error {
	pages, err := json.Marshal(t.Pages)
	if err != nil {
		return err
	}
	cats, err := json.Marshal(t.DefectCategories)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE templates SET title=?, description=?, image_url=?, pages_json=?, manager_id=?, organization=?, location=?, status=?, aql_level=?, lot_size=?, sample_size=?, major_allowed=?, minor_allowed=?, critical_allowed=?, defect_categories_json=?, updated_at=? WHERE id=?`,
		t.Title, t.Description, nullableStringPtr(t.ImageURL), string(pages), nullableStringPtr(t.ManagerID),
		t.Organization, t.Location, t.Status, nullableFloatPtr(t.AQLLevel), nullableIntPtr(t.LotSize), nullableIntPtr(t.SampleSize),
		nullableIntPtr(t.MajorAllowed), nullableIntPtr(t.MinorAllowed), nullableIntPtr(t.CriticalAllowed), string(cats), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTemplateStatusIf moves a template from one status to another only if
// it is still in the expected status. Returns ErrNotFound when the guard
// misses so callers can surface a conflict.
func (r Repo) UpdateTemplateStatusIf(ctx context.Context, id, from, to, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE templates SET status=?, updated_at=? WHERE id=? AND status=?`, to, updatedAt, id, from)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+templateCols+` FROM templates WHERE id=?`, id)
	return scanTemplate(row.Scan)
}

type TemplateFilters struct {
	Status    string
	ManagerID string
	CreatorID string
	Limit     int
}

func (r Repo) ListTemplates(ctx context.Context, f TemplateFilters) ([]domain.Template, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ManagerID != "" {
		clauses = append(clauses, "manager_id=?")
		args = append(args, f.ManagerID)
	}
	if f.CreatorID != "" {
		clauses = append(clauses, "creator_id=?")
		args = append(args, f.CreatorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + templateCols + ` FROM templates ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Template
	for rows.Next() {
		t, err := scanTemplate(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

// ListTemplatesByStatuses lists templates whose status is in the given set,
// scoped to a manager. Used by the manager task backfill.
func (r Repo) ListTemplatesByStatuses(ctx context.Context, managerID string, statuses []string) ([]domain.Template, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := []any{managerID}
	for _, s := range statuses {
		args = append(args, s)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+templateCols+` FROM templates WHERE manager_id=? AND status IN (`+placeholders+`) ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Template
	for rows.Next() {
		t, err := scanTemplate(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

func (r Repo) DeleteTemplate(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM templates WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
