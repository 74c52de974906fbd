// Package auth holds the role rules of the case desk: who can see a case,
// who can move it between statuses and who may write to its thread.
//
// Everything here is a pure function of the acting user and the case so the
// same answers back single-case checks and list queries.
package auth

import (
	"fmt"

	"kipdesk/internal/domain"
)

// ForbiddenError indicates the role may not perform an action.
type ForbiddenError struct {
	Role   domain.RoleClass
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("%s may not %s", e.Role, e.Action)
}

// Visibility explains why a user can see a case.
type Visibility int

const (
	None Visibility = iota
	Owner
	Assigned
	Claimable
	Oversight
)

func (v Visibility) String() string {
	switch v {
	case None:
		return "none"
	case Owner:
		return "owner"
	case Assigned:
		return "assigned"
	case Claimable:
		return "claimable"
	case Oversight:
		return "oversight"
	}
	return fmt.Sprintf("visibility(%d)", int(v))
}

// Visible reports whether any read access exists.
func (v Visibility) Visible() bool { return v != None }

// VisibilityOf evaluates the visibility rule for one case.
func VisibilityOf(c domain.Case, u domain.User) Visibility {
	switch u.Role {
	case domain.RoleRequester:
		if c.RequesterID == u.ID {
			return Owner
		}
		return None
	case domain.RoleCaseWorker:
		if c.AssignedTo(u.ID) {
			return Assigned
		}
		if c.Status == domain.StatusForwarded && c.Unassigned() {
			return Claimable
		}
		return None
	case domain.RoleFrontOffice, domain.RoleSupervisor, domain.RoleAdministrator:
		return Oversight
	}
	return None
}

// ScopeKind selects which cases a list query returns.
type ScopeKind int

const (
	ScopeNone ScopeKind = iota
	ScopeAll
	ScopeOwnedBy
	ScopeAssignedOrClaimable
)

// Scope is the list-query form of the visibility rule.
type Scope struct {
	Kind   ScopeKind
	UserID string
}

// ScopeFor derives the list scope for a user.
func ScopeFor(u domain.User) Scope {
	switch u.Role {
	case domain.RoleRequester:
		return Scope{Kind: ScopeOwnedBy, UserID: u.ID}
	case domain.RoleCaseWorker:
		return Scope{Kind: ScopeAssignedOrClaimable, UserID: u.ID}
	case domain.RoleFrontOffice, domain.RoleSupervisor, domain.RoleAdministrator:
		return Scope{Kind: ScopeAll}
	}
	return Scope{Kind: ScopeNone}
}

// Allows reports whether a case falls inside the scope. It must agree with
// VisibilityOf for every case and user.
func (s Scope) Allows(c domain.Case) bool {
	switch s.Kind {
	case ScopeAll:
		return true
	case ScopeOwnedBy:
		return c.RequesterID == s.UserID
	case ScopeAssignedOrClaimable:
		if c.AssignedTo(s.UserID) {
			return true
		}
		return c.Status == domain.StatusForwarded && c.Unassigned()
	case ScopeNone:
		return false
	}
	return false
}

// CanTransition reports whether the role class may move a case from one
// status to another. Case worker ownership is checked separately.
func CanTransition(role domain.RoleClass, from, to domain.Status) bool {
	if from == to || from.Terminal() {
		return false
	}
	switch role {
	case domain.RoleRequester:
		return false
	case domain.RoleFrontOffice:
		switch {
		case from == domain.StatusSubmitted && to == domain.StatusInProgress:
			return true
		case (from == domain.StatusSubmitted || from == domain.StatusInProgress) && to == domain.StatusForwarded:
			return true
		case (from == domain.StatusInProgress || from == domain.StatusForwarded) && to == domain.StatusRejected:
			return true
		}
		return false
	case domain.RoleCaseWorker:
		switch {
		case from == domain.StatusForwarded && to == domain.StatusInProgress:
			return true
		case from == domain.StatusInProgress && to == domain.StatusResponded:
			return true
		case from == domain.StatusResponded && to == domain.StatusCompleted:
			return true
		}
		return false
	case domain.RoleSupervisor:
		return to == domain.StatusRejected || (from == domain.StatusResponded && to == domain.StatusCompleted)
	case domain.RoleAdministrator:
		return true
	}
	return false
}

// AllowedTargets lists the statuses a role may move a case to from its
// current status.
func AllowedTargets(role domain.RoleClass, from domain.Status) []domain.Status {
	var out []domain.Status
	for _, to := range domain.Statuses {
		if CanTransition(role, from, to) {
			out = append(out, to)
		}
	}
	return out
}

// CanPost reports whether a user with the given visibility may append an
// ordinary message. Oversight roles write only while no case worker holds
// the case.
func CanPost(v Visibility, c domain.Case) bool {
	switch v {
	case Owner, Assigned, Claimable:
		return true
	case Oversight:
		return c.Unassigned()
	case None:
		return false
	}
	return false
}

// CanAssign reports whether the role may name an assignee when forwarding.
func CanAssign(role domain.RoleClass) bool {
	switch role {
	case domain.RoleFrontOffice, domain.RoleAdministrator:
		return true
	case domain.RoleRequester, domain.RoleCaseWorker, domain.RoleSupervisor:
		return false
	}
	return false
}
