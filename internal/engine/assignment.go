package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kipdesk/internal/domain"
	"kipdesk/internal/engine/auth"
	"kipdesk/internal/events"
)

// takenByOther reports whether a case worker is acting on a case that
// another case worker already holds. Such callers get AlreadyAssignedError
// instead of AccessDenied so a lost claim race reads as a conflict.
func takenByOther(c domain.Case, u domain.User) bool {
	if u.Role != domain.RoleCaseWorker || c.Unassigned() || c.AssignedTo(u.ID) {
		return false
	}
	return c.Status == domain.StatusForwarded || c.Status == domain.StatusInProgress
}

func (e Engine) assignedElsewhere(c domain.Case) error {
	e.Metrics.IncClaim("lost")
	return AlreadyAssignedError{CaseID: c.ID, AssignedTo: *c.AssignedCaseWorkerID}
}

// PostMessage appends a message to a case thread. A case worker posting on a
// claimable case claims it in the same transaction; when another case worker
// won the claim the call fails with AlreadyAssignedError and nothing is
// written.
func (e Engine) PostMessage(ctx context.Context, actorID string, caseID int64, body string, kind domain.MessageKind) (domain.Message, error) {
	defer e.observe("post_message", time.Now())
	u, err := e.resolveActor(ctx, actorID)
	if err != nil {
		return domain.Message{}, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.Message{}, invalid("body", "required")
	}
	switch kind {
	case "":
		kind = domain.MessageOrdinary
	case domain.MessageOrdinary, domain.MessageEvidence:
	case domain.MessageSystem:
		return domain.Message{}, invalid("kind", "system messages are written by the desk itself")
	default:
		return domain.Message{}, invalid("kind", fmt.Sprintf("unknown message kind %q", kind))
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Message{}, storage("begin", err)
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return domain.Message{}, lookup("get case", err)
	}
	if takenByOther(c, u) {
		return domain.Message{}, e.assignedElsewhere(c)
	}
	vis := auth.VisibilityOf(c, u)
	if !vis.Visible() {
		return domain.Message{}, hidden(u)
	}

	switch kind {
	case domain.MessageEvidence:
		if vis != auth.Owner {
			return domain.Message{}, invalid("kind", "evidence is submitted by the requester")
		}
		if c.Status != domain.StatusCompleted {
			return domain.Message{}, invalid("kind", "evidence can only be submitted on a completed case")
		}
	case domain.MessageOrdinary:
		if c.Status.Terminal() {
			return domain.Message{}, fmt.Errorf("%w: case %d is %s", ErrFrozenThread, c.ID, c.Status)
		}
		if !auth.CanPost(vis, c) {
			return domain.Message{}, denied(u.Role, "post on a case assigned to a case worker")
		}
	case domain.MessageSystem:
		return domain.Message{}, invalid("kind", "system messages are written by the desk itself")
	}

	now := e.now()
	w := e.eventWriter()
	claimed := false
	if vis == auth.Claimable {
		ok, err := e.Repo.ClaimTx(ctx, tx, c.ID, u.ID, now)
		if err != nil {
			return domain.Message{}, storage("claim case", err)
		}
		if !ok {
			e.Metrics.IncClaim("lost")
			return domain.Message{}, e.claimLost(ctx, tx, c.ID, domain.StatusInProgress)
		}
		claimed = true
		if err := w.Append(ctx, tx, events.CaseClaimed, c.ID, u.ID, events.EventPayload{"via": "message"}); err != nil {
			return domain.Message{}, storage("append event", err)
		}
	}

	msg := domain.Message{CaseID: c.ID, AuthorID: u.ID, AuthorRole: u.Role, Body: body, Kind: kind, CreatedAt: now}
	if msg.ID, err = e.Repo.InsertMessageTx(ctx, tx, msg); err != nil {
		return domain.Message{}, storage("insert message", err)
	}
	if err := e.Repo.TouchTx(ctx, tx, c.ID, now); err != nil {
		return domain.Message{}, storage("touch case", err)
	}
	if err := w.Append(ctx, tx, events.MessagePosted, c.ID, u.ID, events.EventPayload{"message_id": msg.ID, "kind": kind, "author_role": u.Role.String()}); err != nil {
		return domain.Message{}, storage("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Message{}, storage("commit", err)
	}

	if claimed {
		e.Metrics.IncClaim("won")
		e.logger().InfoContext(ctx, "case claimed", "case_id", c.ID, "case_worker_id", u.ID)
	}
	e.Metrics.IncMessage(string(kind))
	e.logger().DebugContext(ctx, "message posted", "case_id", c.ID, "message_id", msg.ID, "kind", kind, "actor_id", u.ID)
	return msg, nil
}

// ClaimCase assigns a claimable case to the calling case worker without
// posting or changing status.
func (e Engine) ClaimCase(ctx context.Context, actorID string, caseID int64) (domain.Case, error) {
	u, err := e.resolveActor(ctx, actorID)
	if err != nil {
		return domain.Case{}, err
	}
	if u.Role != domain.RoleCaseWorker {
		return domain.Case{}, denied(u.Role, "claim cases")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, storage("begin", err)
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return domain.Case{}, lookup("get case", err)
	}
	if takenByOther(c, u) {
		return domain.Case{}, e.assignedElsewhere(c)
	}
	switch auth.VisibilityOf(c, u) {
	case auth.Assigned:
		return c, nil
	case auth.Claimable:
	case auth.None, auth.Owner, auth.Oversight:
		return domain.Case{}, hidden(u)
	}
	now := e.now()
	ok, err := e.Repo.ClaimTx(ctx, tx, c.ID, u.ID, now)
	if err != nil {
		return domain.Case{}, storage("claim case", err)
	}
	if !ok {
		e.Metrics.IncClaim("lost")
		return domain.Case{}, e.claimLost(ctx, tx, c.ID, domain.StatusInProgress)
	}
	if err := e.eventWriter().Append(ctx, tx, events.CaseClaimed, c.ID, u.ID, events.EventPayload{"via": "claim"}); err != nil {
		return domain.Case{}, storage("append event", err)
	}
	updated, err := e.Repo.GetCaseTx(ctx, tx, c.ID)
	if err != nil {
		return domain.Case{}, storage("reload case", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, storage("commit", err)
	}
	e.Metrics.IncClaim("won")
	e.logger().InfoContext(ctx, "case claimed", "case_id", c.ID, "case_worker_id", u.ID)
	return updated, nil
}

