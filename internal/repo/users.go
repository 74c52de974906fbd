package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kipdesk/internal/domain"
)

// UpsertUser creates or updates a directory entry. The role is validated
// before it is stored.
func (r Repo) UpsertUser(ctx context.Context, u domain.DirectoryEntry, now time.Time) error {
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id required")
	}
	if _, err := domain.ClassifyRole(u.Role); err != nil {
		return err
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,role,display_name,created_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET role=excluded.role, display_name=excluded.display_name`,
		u.ID, strings.ToUpper(strings.TrimSpace(u.Role)), u.DisplayName, FormatTime(now))
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.DirectoryEntry, error) {
	var u domain.DirectoryEntry
	err := r.DB.QueryRowContext(ctx, `SELECT id,role,display_name FROM users WHERE id=?`, id).Scan(&u.ID, &u.Role, &u.DisplayName)
	if err != nil {
		if isNoRows(err) {
			return u, ErrNotFound
		}
		return u, err
	}
	return u, nil
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.DirectoryEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,role,display_name FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DirectoryEntry
	for rows.Next() {
		var u domain.DirectoryEntry
		if err := rows.Scan(&u.ID, &u.Role, &u.DisplayName); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// ResolveUser looks a user up and classifies the stored role.
func (r Repo) ResolveUser(ctx context.Context, id string) (domain.User, error) {
	entry, err := r.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	role, err := domain.ClassifyRole(entry.Role)
	if err != nil {
		return domain.User{}, fmt.Errorf("user %s: %w", id, err)
	}
	return domain.User{ID: entry.ID, Role: role, DisplayName: entry.DisplayName}, nil
}
