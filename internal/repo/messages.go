package repo

import (
	"context"
	"database/sql"
	"fmt"

	"kipdesk/internal/domain"
)

// InsertMessageTx appends a message to a thread. Messages are never updated
// or deleted.
func (r Repo) InsertMessageTx(ctx context.Context, tx *sql.Tx, m domain.Message) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO messages(case_id,author_id,author_role,body,kind,created_at) VALUES (?,?,?,?,?,?)`,
		m.CaseID, m.AuthorID, m.AuthorRole.String(), m.Body, m.Kind, FormatTime(m.CreatedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListMessages returns a thread oldest first.
func (r Repo) ListMessages(ctx context.Context, caseID int64) ([]domain.Message, error) {
	return listMessages(ctx, r.DB, caseID)
}

func (r Repo) ListMessagesTx(ctx context.Context, tx *sql.Tx, caseID int64) ([]domain.Message, error) {
	return listMessages(ctx, tx, caseID)
}

func listMessages(ctx context.Context, q queryer, caseID int64) ([]domain.Message, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,case_id,author_id,author_role,body,kind,created_at FROM messages WHERE case_id=? ORDER BY created_at ASC, id ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Message
	for rows.Next() {
		var m domain.Message
		var role, createdAt string
		if err := rows.Scan(&m.ID, &m.CaseID, &m.AuthorID, &role, &m.Body, &m.Kind, &createdAt); err != nil {
			return nil, err
		}
		if m.AuthorRole, err = domain.ParseRoleClass(role); err != nil {
			return nil, fmt.Errorf("message %d: %w", m.ID, err)
		}
		if m.CreatedAt, err = ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("message %d created_at: %w", m.ID, err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
