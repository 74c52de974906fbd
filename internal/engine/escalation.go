package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"kipdesk/internal/domain"
	"kipdesk/internal/events"
	"kipdesk/internal/repo"
)

// Eligibility is the escalation gate's verdict for one request.
type Eligibility struct {
	Eligible           bool   `json:"eligible"`
	ElapsedWorkingDays int    `json:"elapsed_working_days"`
	Threshold          int    `json:"threshold"`
	DaysRemaining      int    `json:"days_remaining"`
	Resolved           bool   `json:"resolved"`
	ActiveObjectionID  *int64 `json:"active_objection_id,omitempty"`
}

// gate decides eligibility from the request alone. A resolved request is
// never eligible and reports no remaining days.
func (e Engine) gate(req domain.Case, now time.Time) Eligibility {
	threshold := e.Config.Threshold()
	el := Eligibility{
		ElapsedWorkingDays: e.Workdays.Between(req.CreatedAt, now),
		Threshold:          threshold,
	}
	if req.Status.Terminal() {
		el.Resolved = true
		return el
	}
	el.DaysRemaining = e.Workdays.Remaining(req.CreatedAt, now, threshold)
	el.Eligible = el.DaysRemaining == 0
	return el
}

func (el Eligibility) err() error {
	return NotEligibleError{DaysRemaining: el.DaysRemaining, Elapsed: el.ElapsedWorkingDays, Threshold: el.Threshold, Resolved: el.Resolved}
}

// ownRequest checks that a loaded case is a request owned by u. Anything
// else reads as NotFound.
func ownRequest(c domain.Case, u domain.User) (domain.Case, error) {
	if c.Kind != domain.KindRequest || c.RequesterID != u.ID {
		return domain.Case{}, ErrNotFound
	}
	return c, nil
}

// CheckEscalation reports whether the requester could escalate now.
func (e Engine) CheckEscalation(ctx context.Context, requesterID string, requestID int64) (Eligibility, error) {
	u, err := e.resolveActor(ctx, requesterID)
	if err != nil {
		return Eligibility{}, err
	}
	if u.Role != domain.RoleRequester {
		return Eligibility{}, denied(u.Role, "escalate requests")
	}
	c, err := e.Repo.GetCase(ctx, requestID)
	if err != nil {
		return Eligibility{}, lookup("get request", err)
	}
	req, err := ownRequest(c, u)
	if err != nil {
		return Eligibility{}, err
	}
	el := e.gate(req, e.now())
	active, err := e.Repo.ActiveObjection(ctx, req.ID)
	switch {
	case err == nil:
		el.ActiveObjectionID = &active.ID
		el.Eligible = false
	case !errors.Is(err, repo.ErrNotFound):
		return Eligibility{}, storage("find objection", err)
	}
	return el, nil
}

// EscalateToObjection files an objection against the requester's own
// request once the escalation gate opens.
func (e Engine) EscalateToObjection(ctx context.Context, requesterID string, requestID int64, reason string) (domain.Case, error) {
	defer e.observe("escalate", time.Now())
	u, err := e.resolveActor(ctx, requesterID)
	if err != nil {
		return domain.Case{}, err
	}
	if u.Role != domain.RoleRequester {
		return domain.Case{}, denied(u.Role, "escalate requests")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Case{}, invalid("reason", "required")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, storage("begin", err)
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, requestID)
	if err != nil {
		return domain.Case{}, lookup("get request", err)
	}
	req, err := ownRequest(c, u)
	if err != nil {
		return domain.Case{}, err
	}
	if _, err := e.Repo.ActiveObjectionTx(ctx, tx, req.ID); err == nil {
		e.Metrics.IncEscalation("already_escalated")
		return domain.Case{}, ErrAlreadyEscalated
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Case{}, storage("find objection", err)
	}
	now := e.now()
	el := e.gate(req, now)
	if !el.Eligible {
		e.Metrics.IncEscalation("not_eligible")
		return domain.Case{}, el.err()
	}

	obj := domain.Case{
		Kind:            domain.KindObjection,
		RequesterID:     u.ID,
		Status:          domain.StatusSubmitted,
		ParentRequestID: &req.ID,
		Reason:          reason,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	obj.ID, err = e.Repo.InsertCaseTx(ctx, tx, obj)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			e.Metrics.IncEscalation("already_escalated")
			return domain.Case{}, ErrAlreadyEscalated
		}
		return domain.Case{}, storage("insert objection", err)
	}
	if err := e.eventWriter().Append(ctx, tx, events.ObjectionCreated, obj.ID, u.ID, events.EventPayload{
		"parent_request_id":    req.ID,
		"elapsed_working_days": el.ElapsedWorkingDays,
	}); err != nil {
		return domain.Case{}, storage("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, storage("commit", err)
	}
	e.Metrics.IncEscalation("created")
	e.logger().InfoContext(ctx, "objection filed", "case_id", obj.ID, "parent_request_id", req.ID, "elapsed_working_days", el.ElapsedWorkingDays)
	return obj, nil
}
