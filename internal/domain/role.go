package domain

import (
	"fmt"
	"strings"
)

// RoleClass is the closed set of semantic roles the engine reasons about.
type RoleClass int

const (
	RoleRequester RoleClass = iota + 1
	RoleFrontOffice
	RoleCaseWorker
	RoleSupervisor
	RoleAdministrator
)

// RoleClasses lists every class in declaration order.
var RoleClasses = []RoleClass{RoleRequester, RoleFrontOffice, RoleCaseWorker, RoleSupervisor, RoleAdministrator}

// ClassifyRole maps a raw directory role identifier to its class.
func ClassifyRole(raw string) (RoleClass, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PEMOHON", "REQUESTER":
		return RoleRequester, nil
	case "PPID_UTAMA", "FRONT_OFFICE":
		return RoleFrontOffice, nil
	case "PPID_PELAKSANA", "CASE_WORKER":
		return RoleCaseWorker, nil
	case "ATASAN_PPID", "SUPERVISOR":
		return RoleSupervisor, nil
	case "ADMIN", "ADMINISTRATOR":
		return RoleAdministrator, nil
	}
	return 0, fmt.Errorf("unknown role %q", raw)
}

func (r RoleClass) String() string {
	switch r {
	case RoleRequester:
		return "requester"
	case RoleFrontOffice:
		return "front_office"
	case RoleCaseWorker:
		return "case_worker"
	case RoleSupervisor:
		return "supervisor"
	case RoleAdministrator:
		return "administrator"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// Staff reports whether the class belongs to the office rather than the public.
func (r RoleClass) Staff() bool {
	switch r {
	case RoleFrontOffice, RoleCaseWorker, RoleSupervisor, RoleAdministrator:
		return true
	case RoleRequester:
		return false
	}
	return false
}

// ParseRoleClass accepts the String form of a class.
func ParseRoleClass(s string) (RoleClass, error) {
	for _, r := range RoleClasses {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("invalid role class %q", s)
}

func (r RoleClass) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *RoleClass) UnmarshalText(b []byte) error {
	parsed, err := ParseRoleClass(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
