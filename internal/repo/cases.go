package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"kipdesk/internal/domain"
	"kipdesk/internal/engine/auth"
)

const caseColumns = `id,kind,requester_id,status,assigned_case_worker_id,information,purpose,delivery_method,parent_request_id,reason,created_at,updated_at,completed_at,evidence_due_at`

// CaseFilter narrows ListCases. Scope is always applied.
type CaseFilter struct {
	Kind   domain.CaseKind
	Status *domain.Status
	Scope  auth.Scope
	Limit  int
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner, extra ...any) (domain.Case, error) {
	var c domain.Case
	var assignee, information, purpose, delivery, reason, completedAt, dueAt sql.NullString
	var parent sql.NullInt64
	var createdAt, updatedAt string
	dest := []any{&c.ID, &c.Kind, &c.RequesterID, &c.Status, &assignee, &information, &purpose, &delivery, &parent, &reason, &createdAt, &updatedAt, &completedAt, &dueAt}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		if isNoRows(err) {
			return c, ErrNotFound
		}
		return c, err
	}
	if assignee.Valid && assignee.String != "" {
		c.AssignedCaseWorkerID = &assignee.String
	}
	c.Information = information.String
	c.Purpose = purpose.String
	c.DeliveryMethod = domain.DeliveryMethod(delivery.String)
	c.Reason = reason.String
	if parent.Valid {
		c.ParentRequestID = &parent.Int64
	}
	var err error
	if c.CreatedAt, err = ParseTime(createdAt); err != nil {
		return c, fmt.Errorf("case %d created_at: %w", c.ID, err)
	}
	if c.UpdatedAt, err = ParseTime(updatedAt); err != nil {
		return c, fmt.Errorf("case %d updated_at: %w", c.ID, err)
	}
	if completedAt.Valid {
		t, err := ParseTime(completedAt.String)
		if err != nil {
			return c, fmt.Errorf("case %d completed_at: %w", c.ID, err)
		}
		c.CompletedAt = &t
	}
	if dueAt.Valid {
		t, err := ParseTime(dueAt.String)
		if err != nil {
			return c, fmt.Errorf("case %d evidence_due_at: %w", c.ID, err)
		}
		c.EvidenceDueAt = &t
	}
	return c, nil
}

// InsertCaseTx stores a new case and returns its id. A second active
// objection for the same request yields ErrDuplicate.
func (r Repo) InsertCaseTx(ctx context.Context, tx *sql.Tx, c domain.Case) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO cases(kind,requester_id,status,assigned_case_worker_id,information,purpose,delivery_method,parent_request_id,reason,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		c.Kind, c.RequesterID, c.Status, nullableStringPtr(c.AssignedCaseWorkerID), nullable(c.Information), nullable(c.Purpose), nullable(string(c.DeliveryMethod)),
		nullableInt64Ptr(c.ParentRequestID), nullable(c.Reason), FormatTime(c.CreatedAt), FormatTime(c.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetCase(ctx context.Context, id int64) (domain.Case, error) {
	return getCase(ctx, r.DB, id)
}

func (r Repo) GetCaseTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Case, error) {
	return getCase(ctx, tx, id)
}

func getCase(ctx context.Context, q queryer, id int64) (domain.Case, error) {
	return scanCase(q.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id=?`, id))
}

// scopeClause renders the visibility scope as SQL over the cases table
// aliased as c.
func scopeClause(s auth.Scope) (string, []any) {
	switch s.Kind {
	case auth.ScopeAll:
		return "1=1", nil
	case auth.ScopeOwnedBy:
		return "c.requester_id=?", []any{s.UserID}
	case auth.ScopeAssignedOrClaimable:
		return "(c.assigned_case_worker_id=? OR (c.status='forwarded' AND COALESCE(c.assigned_case_worker_id,'')=''))", []any{s.UserID}
	case auth.ScopeNone:
		return "1=0", nil
	}
	return "1=0", nil
}

func (f CaseFilter) where() (string, []any) {
	scope, args := scopeClause(f.Scope)
	clauses := []string{scope}
	if f.Kind != "" {
		clauses = append(clauses, "c.kind=?")
		args = append(args, f.Kind)
	}
	if f.Status != nil {
		clauses = append(clauses, "c.status=?")
		args = append(args, *f.Status)
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// ListCases returns cases in the filter's scope, newest first.
func (r Repo) ListCases(ctx context.Context, f CaseFilter) ([]domain.Case, error) {
	where, args := f.where()
	query := `SELECT ` + prefixed(caseColumns, "c.") + ` FROM cases c ` + where + ` ORDER BY c.created_at DESC, c.id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ListCaseThreads returns cases in scope together with their message count
// and the role class of the latest message author.
func (r Repo) ListCaseThreads(ctx context.Context, f CaseFilter) ([]domain.CaseThread, error) {
	where, args := f.where()
	query := `SELECT ` + prefixed(caseColumns, "c.") + `,
  (SELECT COUNT(*) FROM messages m WHERE m.case_id=c.id),
  (SELECT m.author_role FROM messages m WHERE m.case_id=c.id ORDER BY m.created_at DESC, m.id DESC LIMIT 1)
FROM cases c ` + where + ` ORDER BY c.updated_at DESC, c.id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CaseThread
	for rows.Next() {
		var count int
		var last sql.NullString
		c, err := scanCase(rows, &count, &last)
		if err != nil {
			return nil, err
		}
		th := domain.CaseThread{Case: c, MessageCount: count}
		if last.Valid {
			role, err := domain.ParseRoleClass(last.String)
			if err != nil {
				return nil, fmt.Errorf("case %d last author: %w", c.ID, err)
			}
			th.LastAuthor = &role
		}
		res = append(res, th)
	}
	return res, rows.Err()
}

// StatusChange is a compare-and-set on a case's status.
type StatusChange struct {
	CaseID        int64
	From          domain.Status
	To            domain.Status
	At            time.Time
	AssigneeID    *string
	CompletedAt   *time.Time
	EvidenceDueAt *time.Time
}

// UpdateStatusTx applies the change only if the case is still in From. It
// reports whether a row was written.
func (r Repo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, ch StatusChange) (bool, error) {
	sets := []string{"status=?", "updated_at=?"}
	args := []any{ch.To, FormatTime(ch.At)}
	if ch.AssigneeID != nil {
		sets = append(sets, "assigned_case_worker_id=?")
		args = append(args, *ch.AssigneeID)
	}
	if ch.CompletedAt != nil {
		sets = append(sets, "completed_at=?", "evidence_due_at=?")
		args = append(args, FormatTime(*ch.CompletedAt), nullableTimePtr(ch.EvidenceDueAt))
	}
	args = append(args, ch.CaseID, ch.From)
	res, err := tx.ExecContext(ctx, `UPDATE cases SET `+strings.Join(sets, ",")+` WHERE id=? AND status=?`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return false, ErrDuplicate
		}
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ClaimTx assigns a forwarded, unassigned case to a case worker. It reports
// false when someone else got there first.
func (r Repo) ClaimTx(ctx context.Context, tx *sql.Tx, caseID int64, workerID string, at time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE cases SET assigned_case_worker_id=?, updated_at=? WHERE id=? AND status='forwarded' AND COALESCE(assigned_case_worker_id,'')=''`,
		workerID, FormatTime(at), caseID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// TouchTx refreshes updated_at after a new message.
func (r Repo) TouchTx(ctx context.Context, tx *sql.Tx, caseID int64, at time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE cases SET updated_at=? WHERE id=?`, FormatTime(at), caseID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveObjectionTx returns the non-terminal objection for a request, if any.
func (r Repo) ActiveObjectionTx(ctx context.Context, tx *sql.Tx, requestID int64) (domain.Case, error) {
	return activeObjection(ctx, tx, requestID)
}

func (r Repo) ActiveObjection(ctx context.Context, requestID int64) (domain.Case, error) {
	return activeObjection(ctx, r.DB, requestID)
}

func activeObjection(ctx context.Context, q queryer, requestID int64) (domain.Case, error) {
	return scanCase(q.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE kind='objection' AND parent_request_id=? AND status NOT IN ('completed','rejected') LIMIT 1`, requestID))
}

// ListObjections returns every objection filed against a request.
func (r Repo) ListObjections(ctx context.Context, requestID int64) ([]domain.Case, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE kind='objection' AND parent_request_id=? ORDER BY id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func prefixed(cols, prefix string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = prefix + p
	}
	return strings.Join(parts, ",")
}
