package engine

import (
	"context"

	"kipdesk/internal/domain"
	"kipdesk/internal/engine/auth"
)

// CaseView is a case together with what the viewing user may do with it.
type CaseView struct {
	Case           domain.Case     `json:"case"`
	Visibility     string          `json:"visibility" enum:"owner,assigned,claimable,oversight"`
	AllowedTargets []domain.Status `json:"allowed_targets"`
	CanPost        bool            `json:"can_post"`
}

// DescribeCase returns a visible case with the transitions and thread access
// open to the actor.
func (e Engine) DescribeCase(ctx context.Context, actorID string, caseID int64) (CaseView, error) {
	u, err := e.resolveActor(ctx, actorID)
	if err != nil {
		return CaseView{}, err
	}
	c, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return CaseView{}, lookup("get case", err)
	}
	v := auth.VisibilityOf(c, u)
	if !v.Visible() {
		return CaseView{}, hidden(u)
	}
	targets := auth.AllowedTargets(u.Role, c.Status)
	if targets == nil {
		targets = []domain.Status{}
	}
	return CaseView{
		Case:           c,
		Visibility:     v.String(),
		AllowedTargets: targets,
		CanPost:        auth.CanPost(v, c) && !c.Status.Terminal(),
	}, nil
}

// WhoAmI resolves the actor through the user directory.
func (e Engine) WhoAmI(ctx context.Context, actorID string) (domain.User, error) {
	return e.resolveActor(ctx, actorID)
}

// ListEvents returns recent events newest first. Only oversight roles read
// the raw log.
func (e Engine) ListEvents(ctx context.Context, actorID string, limit int, caseID int64, evtType string) ([]domain.Event, error) {
	u, err := e.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if u.Role != domain.RoleSupervisor && u.Role != domain.RoleAdministrator {
		return nil, denied(u.Role, "read the event log")
	}
	items, err := e.Repo.LatestEvents(ctx, limit, caseID, evtType)
	if err != nil {
		return nil, storage("list events", err)
	}
	return items, nil
}
