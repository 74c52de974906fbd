package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"kipdesk/internal/domain"
)

func strPtr(s string) *string { return &s }

func sampleCases() []domain.Case {
	var out []domain.Case
	for _, st := range domain.Statuses {
		for _, assignee := range []*string{nil, strPtr("cw-1"), strPtr("cw-2")} {
			for _, owner := range []string{"req-1", "req-2"} {
				out = append(out, domain.Case{ID: int64(len(out) + 1), Kind: domain.KindRequest, RequesterID: owner, Status: st, AssignedCaseWorkerID: assignee})
			}
		}
	}
	return out
}

func sampleUsers() []domain.User {
	return []domain.User{
		{ID: "req-1", Role: domain.RoleRequester},
		{ID: "cw-1", Role: domain.RoleCaseWorker},
		{ID: "cw-3", Role: domain.RoleCaseWorker},
		{ID: "fo", Role: domain.RoleFrontOffice},
		{ID: "sup", Role: domain.RoleSupervisor},
		{ID: "adm", Role: domain.RoleAdministrator},
	}
}

func TestScopeAgreesWithVisibility(t *testing.T) {
	for _, u := range sampleUsers() {
		scope := ScopeFor(u)
		for _, c := range sampleCases() {
			assert.Equal(t, VisibilityOf(c, u).Visible(), scope.Allows(c), "user %s case %+v", u.ID, c)
		}
	}
}

func TestVisibility(t *testing.T) {
	forwarded := domain.Case{RequesterID: "req-1", Status: domain.StatusForwarded}
	assert.Equal(t, Owner, VisibilityOf(forwarded, domain.User{ID: "req-1", Role: domain.RoleRequester}))
	assert.Equal(t, None, VisibilityOf(forwarded, domain.User{ID: "req-2", Role: domain.RoleRequester}))
	assert.Equal(t, Claimable, VisibilityOf(forwarded, domain.User{ID: "cw-1", Role: domain.RoleCaseWorker}))

	forwarded.AssignedCaseWorkerID = strPtr("cw-1")
	assert.Equal(t, Assigned, VisibilityOf(forwarded, domain.User{ID: "cw-1", Role: domain.RoleCaseWorker}))
	assert.Equal(t, None, VisibilityOf(forwarded, domain.User{ID: "cw-2", Role: domain.RoleCaseWorker}))
	assert.Equal(t, Oversight, VisibilityOf(forwarded, domain.User{ID: "sup", Role: domain.RoleSupervisor}))

	submitted := domain.Case{RequesterID: "req-1", Status: domain.StatusSubmitted}
	assert.Equal(t, None, VisibilityOf(submitted, domain.User{ID: "cw-1", Role: domain.RoleCaseWorker}))
}

func TestCanTransitionTable(t *testing.T) {
	type edge struct{ from, to domain.Status }
	allowed := map[domain.RoleClass][]edge{
		domain.RoleRequester: nil,
		domain.RoleFrontOffice: {
			{domain.StatusSubmitted, domain.StatusInProgress},
			{domain.StatusSubmitted, domain.StatusForwarded},
			{domain.StatusInProgress, domain.StatusForwarded},
			{domain.StatusInProgress, domain.StatusRejected},
			{domain.StatusForwarded, domain.StatusRejected},
		},
		domain.RoleCaseWorker: {
			{domain.StatusForwarded, domain.StatusInProgress},
			{domain.StatusInProgress, domain.StatusResponded},
			{domain.StatusResponded, domain.StatusCompleted},
		},
		domain.RoleSupervisor: {
			{domain.StatusSubmitted, domain.StatusRejected},
			{domain.StatusInProgress, domain.StatusRejected},
			{domain.StatusForwarded, domain.StatusRejected},
			{domain.StatusResponded, domain.StatusRejected},
			{domain.StatusResponded, domain.StatusCompleted},
		},
	}
	for role, edges := range allowed {
		want := map[edge]bool{}
		for _, e := range edges {
			want[e] = true
		}
		for _, from := range domain.Statuses {
			for _, to := range domain.Statuses {
				assert.Equal(t, want[edge{from, to}], CanTransition(role, from, to), "%s %s->%s", role, from, to)
			}
		}
	}
}

func TestAdministratorNeverLeavesTerminal(t *testing.T) {
	for _, from := range domain.Statuses {
		for _, to := range domain.Statuses {
			want := from != to && !from.Terminal()
			assert.Equal(t, want, CanTransition(domain.RoleAdministrator, from, to), "%s->%s", from, to)
		}
	}
}

func TestCanPost(t *testing.T) {
	c := domain.Case{Status: domain.StatusForwarded}
	assert.True(t, CanPost(Oversight, c))
	assert.True(t, CanPost(Claimable, c))
	assert.False(t, CanPost(None, c))
	c.AssignedCaseWorkerID = strPtr("cw-1")
	assert.False(t, CanPost(Oversight, c))
	assert.True(t, CanPost(Assigned, c))
}

func TestAllowedTargets(t *testing.T) {
	assert.Equal(t, []domain.Status{domain.StatusInProgress, domain.StatusForwarded}, AllowedTargets(domain.RoleFrontOffice, domain.StatusSubmitted))
	assert.Empty(t, AllowedTargets(domain.RoleAdministrator, domain.StatusCompleted))
}
