package engine

import (
	"context"

	"kipdesk/internal/domain"
	"kipdesk/internal/engine/auth"
	"kipdesk/internal/repo"
)

// NotificationCounts is the number of cases awaiting the user, per kind.
type NotificationCounts struct {
	RequestsPending   int `json:"requests_pending"`
	ObjectionsPending int `json:"objections_pending"`
}

// ThreadState labels who the thread is waiting on.
type ThreadState string

const (
	ThreadNoMessages        ThreadState = "no_messages"
	ThreadAwaitingStaff     ThreadState = "awaiting_staff"
	ThreadAwaitingRequester ThreadState = "awaiting_requester"
)

func threadState(th domain.CaseThread) ThreadState {
	if th.MessageCount == 0 || th.LastAuthor == nil {
		return ThreadNoMessages
	}
	if *th.LastAuthor == domain.RoleRequester {
		return ThreadAwaitingStaff
	}
	return ThreadAwaitingRequester
}

// AttentionItem is a case that counts toward the user's notifications.
type AttentionItem struct {
	Case         domain.Case `json:"case"`
	ThreadState  ThreadState `json:"thread_state" enum:"no_messages,awaiting_staff,awaiting_requester"`
	MessageCount int         `json:"message_count"`
}

// needsAttention applies the per-role notification rule to a case already
// inside the user's scope.
func needsAttention(u domain.User, th domain.CaseThread) bool {
	state := threadState(th)
	switch u.Role {
	case domain.RoleRequester:
		return state == ThreadAwaitingRequester
	case domain.RoleCaseWorker:
		if state == ThreadAwaitingStaff {
			return true
		}
		return state == ThreadNoMessages && th.Case.Status == domain.StatusForwarded
	case domain.RoleFrontOffice, domain.RoleSupervisor, domain.RoleAdministrator:
		return th.Case.Status == domain.StatusSubmitted
	}
	return false
}

func attentionFilter(u domain.User) repo.CaseFilter {
	f := repo.CaseFilter{Scope: auth.ScopeFor(u)}
	switch u.Role {
	case domain.RoleFrontOffice, domain.RoleSupervisor, domain.RoleAdministrator:
		submitted := domain.StatusSubmitted
		f.Status = &submitted
	case domain.RoleRequester, domain.RoleCaseWorker:
	}
	return f
}

// ListAttention returns the cases behind the user's notification counts,
// most recently updated first.
func (e Engine) ListAttention(ctx context.Context, actorID string) ([]AttentionItem, error) {
	u, err := e.resolveActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	threads, err := e.Repo.ListCaseThreads(ctx, attentionFilter(u))
	if err != nil {
		return nil, storage("list case threads", err)
	}
	items := []AttentionItem{}
	for _, th := range threads {
		if needsAttention(u, th) {
			items = append(items, AttentionItem{Case: th.Case, ThreadState: threadState(th), MessageCount: th.MessageCount})
		}
	}
	return items, nil
}

// GetNotificationCounts counts cases awaiting the user. It has no side
// effects and returns zeros for a user with no cases.
func (e Engine) GetNotificationCounts(ctx context.Context, actorID string) (NotificationCounts, error) {
	items, err := e.ListAttention(ctx, actorID)
	if err != nil {
		return NotificationCounts{}, err
	}
	var counts NotificationCounts
	for _, it := range items {
		switch it.Case.Kind {
		case domain.KindRequest:
			counts.RequestsPending++
		case domain.KindObjection:
			counts.ObjectionsPending++
		}
	}
	return counts, nil
}
