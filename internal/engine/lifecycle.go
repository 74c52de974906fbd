package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"kipdesk/internal/domain"
	"kipdesk/internal/engine/auth"
	"kipdesk/internal/events"
	"kipdesk/internal/repo"
)

// RequestDetails is the requester's information request form.
type RequestDetails struct {
	Information    string
	Purpose        string
	DeliveryMethod string
}

// CreateRequest files a new request in submitted.
func (e Engine) CreateRequest(ctx context.Context, requesterID string, d RequestDetails) (domain.Case, error) {
	defer e.observe("create_request", time.Now())
	u, err := e.resolveActor(ctx, requesterID)
	if err != nil {
		return domain.Case{}, err
	}
	if u.Role != domain.RoleRequester {
		return domain.Case{}, denied(u.Role, "file requests")
	}
	info := strings.TrimSpace(d.Information)
	if info == "" {
		return domain.Case{}, invalid("information", "required")
	}
	purpose := strings.TrimSpace(d.Purpose)
	if purpose == "" {
		return domain.Case{}, invalid("purpose", "required")
	}
	method, err := domain.ParseDeliveryMethod(d.DeliveryMethod)
	if err != nil {
		return domain.Case{}, invalid("delivery_method", err.Error())
	}

	now := e.now()
	c := domain.Case{
		Kind:           domain.KindRequest,
		RequesterID:    u.ID,
		Status:         domain.StatusSubmitted,
		Information:    info,
		Purpose:        purpose,
		DeliveryMethod: method,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, storage("begin", err)
	}
	defer tx.Rollback()

	id, err := e.Repo.InsertCaseTx(ctx, tx, c)
	if err != nil {
		return domain.Case{}, storage("insert request", err)
	}
	c.ID = id
	if err := e.eventWriter().Append(ctx, tx, events.CaseCreated, c.ID, u.ID, events.EventPayload{"kind": c.Kind, "status": c.Status}); err != nil {
		return domain.Case{}, storage("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, storage("commit", err)
	}
	e.logger().InfoContext(ctx, "request created", "case_id", c.ID, "requester_id", u.ID)
	return c, nil
}

// TransitionOptions are parameters for a status change.
type TransitionOptions struct {
	ActorID string
	CaseID  int64
	Target  domain.Status
	// AssigneeID names the case worker when forwarding. Empty leaves the
	// case claimable.
	AssigneeID string
	Note       string
}

// TransitionStatus moves a case along the permission table of the actor's
// role. The status write is a compare-and-set on the status read in the same
// transaction.
func (e Engine) TransitionStatus(ctx context.Context, opts TransitionOptions) (domain.Case, error) {
	defer e.observe("transition_status", time.Now())
	u, err := e.resolveActor(ctx, opts.ActorID)
	if err != nil {
		return domain.Case{}, err
	}
	if _, err := domain.ParseStatus(string(opts.Target)); err != nil {
		return domain.Case{}, invalid("status", err.Error())
	}
	var assignee *domain.User
	if opts.AssigneeID != "" {
		if opts.Target != domain.StatusForwarded {
			return domain.Case{}, invalid("assignee_id", "only allowed when forwarding")
		}
		if !auth.CanAssign(u.Role) {
			return domain.Case{}, denied(u.Role, "assign case workers")
		}
		a, err := e.directory().ResolveUser(ctx, opts.AssigneeID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Case{}, invalid("assignee_id", "unknown user "+opts.AssigneeID)
			}
			return domain.Case{}, storage("resolve assignee", err)
		}
		if a.Role != domain.RoleCaseWorker {
			return domain.Case{}, invalid("assignee_id", fmt.Sprintf("%s is a %s, not a case worker", a.ID, a.Role))
		}
		assignee = &a
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, storage("begin", err)
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, opts.CaseID)
	if err != nil {
		return domain.Case{}, lookup("get case", err)
	}
	if takenByOther(c, u) {
		return domain.Case{}, e.assignedElsewhere(c)
	}
	vis := auth.VisibilityOf(c, u)
	if !vis.Visible() {
		return domain.Case{}, hidden(u)
	}
	if !auth.CanTransition(u.Role, c.Status, opts.Target) {
		return domain.Case{}, ConflictingStateError{Current: c.Status, Requested: opts.Target}
	}

	now := e.now()
	w := e.eventWriter()
	claimed := false
	if vis == auth.Claimable {
		ok, err := e.Repo.ClaimTx(ctx, tx, c.ID, u.ID, now)
		if err != nil {
			return domain.Case{}, storage("claim case", err)
		}
		if !ok {
			e.Metrics.IncClaim("lost")
			return domain.Case{}, e.claimLost(ctx, tx, c.ID, opts.Target)
		}
		claimed = true
		if err := w.Append(ctx, tx, events.CaseClaimed, c.ID, u.ID, events.EventPayload{"via": "transition"}); err != nil {
			return domain.Case{}, storage("append event", err)
		}
	}

	change := repo.StatusChange{CaseID: c.ID, From: c.Status, To: opts.Target, At: now}
	if assignee != nil {
		change.AssigneeID = &assignee.ID
	}
	var due time.Time
	if opts.Target == domain.StatusCompleted {
		due = now.Add(e.Config.EvidenceWindow())
		change.CompletedAt = &now
		change.EvidenceDueAt = &due
	}
	ok, err := e.Repo.UpdateStatusTx(ctx, tx, change)
	if err != nil {
		return domain.Case{}, storage("update status", err)
	}
	if !ok {
		fresh, err := e.Repo.GetCaseTx(ctx, tx, c.ID)
		if err != nil {
			return domain.Case{}, lookup("get case", err)
		}
		return domain.Case{}, ConflictingStateError{Current: fresh.Status, Requested: opts.Target}
	}

	if body := systemNote(opts.Target, due, opts.Note); body != "" {
		msg := domain.Message{CaseID: c.ID, AuthorID: u.ID, AuthorRole: u.Role, Body: body, Kind: domain.MessageSystem, CreatedAt: now}
		if _, err := e.Repo.InsertMessageTx(ctx, tx, msg); err != nil {
			return domain.Case{}, storage("insert system message", err)
		}
	}
	payload := events.EventPayload{"kind": c.Kind, "from": c.Status, "to": opts.Target}
	if assignee != nil {
		payload["assignee_id"] = assignee.ID
	}
	if opts.Note != "" {
		payload["note"] = opts.Note
	}
	if err := w.Append(ctx, tx, events.CaseStatusChanged, c.ID, u.ID, payload); err != nil {
		return domain.Case{}, storage("append event", err)
	}
	updated, err := e.Repo.GetCaseTx(ctx, tx, c.ID)
	if err != nil {
		return domain.Case{}, storage("reload case", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, storage("commit", err)
	}

	if claimed {
		e.Metrics.IncClaim("won")
	}
	e.Metrics.IncTransition(string(c.Kind), string(opts.Target))
	e.logger().InfoContext(ctx, "case status changed",
		"case_id", c.ID, "kind", c.Kind, "from", c.Status, "to", opts.Target, "actor_id", u.ID, "role", u.Role.String())
	return updated, nil
}

// claimLost builds the error for a claim CAS that matched no row.
func (e Engine) claimLost(ctx context.Context, tx *sql.Tx, caseID int64, target domain.Status) error {
	fresh, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return lookup("get case", err)
	}
	if !fresh.Unassigned() {
		return AlreadyAssignedError{CaseID: caseID, AssignedTo: *fresh.AssignedCaseWorkerID}
	}
	return ConflictingStateError{Current: fresh.Status, Requested: target}
}

// systemNote is the thread entry appended when a case enters target.
func systemNote(target domain.Status, due time.Time, note string) string {
	switch target {
	case domain.StatusCompleted:
		return fmt.Sprintf("This case is completed. Please submit proof of how the information was used before %s.", due.Format("2 January 2006"))
	case domain.StatusRejected:
		if note = strings.TrimSpace(note); note != "" {
			return "This case was rejected: " + note
		}
		return "This case was rejected."
	case domain.StatusSubmitted, domain.StatusInProgress, domain.StatusForwarded, domain.StatusResponded:
		return ""
	}
	return ""
}
