package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"inspectline/internal/domain"
)

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,email,first_name,last_name,role,created_at) VALUES (?,?,?,?,?,?)`,
		u.ID, u.Email, u.FirstName, u.LastName, u.Role, u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := r.DB.QueryRowContext(ctx, `SELECT id,email,first_name,last_name,role,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	var u domain.User
	err := r.DB.QueryRowContext(ctx, `SELECT id,email,first_name,last_name,role,created_at FROM users WHERE email=?`, email).
		Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) ListUsers(ctx context.Context, role string) ([]domain.User, error) {
	query := `SELECT id,email,first_name,last_name,role,created_at FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, nil
}

// GetDefectMaster reads the IT-managed defect code catalog. Missing rows
// mean an empty catalog, not an error.
func (r Repo) GetDefectMaster(ctx context.Context) (domain.DefectMaster, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT severity,codes_json,updated_at FROM defect_master`)
	if err != nil {
		return domain.DefectMaster{}, err
	}
	defer rows.Close()
	var m domain.DefectMaster
	for rows.Next() {
		var severity, codesJSON, updatedAt string
		if err := rows.Scan(&severity, &codesJSON, &updatedAt); err != nil {
			return m, err
		}
		var codes []string
		if err := json.Unmarshal([]byte(codesJSON), &codes); err != nil {
			return m, err
		}
		switch severity {
		case "critical":
			m.Critical = codes
		case "major":
			m.Major = codes
		case "minor":
			m.Minor = codes
		}
		if updatedAt > m.UpdatedAt {
			m.UpdatedAt = updatedAt
		}
	}
	return m, nil
}

func (r Repo) UpsertDefectMaster(ctx context.Context, severity string, codes []string, updatedAt string) error {
	if codes == nil {
		codes = []string{}
	}
	payload, err := json.Marshal(codes)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO defect_master(severity,codes_json,updated_at) VALUES (?,?,?)
ON CONFLICT(severity) DO UPDATE SET codes_json=excluded.codes_json, updated_at=excluded.updated_at`, severity, string(payload), updatedAt)
	return err
}
