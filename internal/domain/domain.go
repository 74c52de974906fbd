package domain

import (
	"fmt"
	"strings"
	"time"
)

// CaseKind distinguishes the two case tables sharing one lifecycle.
type CaseKind string

const (
	KindRequest   CaseKind = "request"
	KindObjection CaseKind = "objection"
)

func ParseCaseKind(s string) (CaseKind, error) {
	switch CaseKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindRequest:
		return KindRequest, nil
	case KindObjection:
		return KindObjection, nil
	}
	return "", fmt.Errorf("invalid case kind %q", s)
}

// Status is the lifecycle state shared by requests and objections.
type Status string

const (
	StatusSubmitted  Status = "submitted"
	StatusInProgress Status = "in_progress"
	StatusForwarded  Status = "forwarded"
	StatusResponded  Status = "responded"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusSubmitted, StatusInProgress, StatusForwarded, StatusResponded, StatusCompleted, StatusRejected}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Statuses {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("invalid status %q", s)
}

// Terminal reports whether no further transition may leave the status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// DeliveryMethod is how the requester wants to receive the information.
type DeliveryMethod string

const (
	DeliveryEmail  DeliveryMethod = "email"
	DeliveryPickup DeliveryMethod = "pickup"
	DeliveryPost   DeliveryMethod = "post"
)

func ParseDeliveryMethod(s string) (DeliveryMethod, error) {
	switch DeliveryMethod(strings.ToLower(strings.TrimSpace(s))) {
	case "", DeliveryEmail:
		return DeliveryEmail, nil
	case DeliveryPickup:
		return DeliveryPickup, nil
	case DeliveryPost:
		return DeliveryPost, nil
	}
	return "", fmt.Errorf("invalid delivery method %q", s)
}

// Case is a request or an objection.
type Case struct {
	ID                   int64          `json:"id"`
	Kind                 CaseKind       `json:"kind" enum:"request,objection"`
	RequesterID          string         `json:"requester_id"`
	Status               Status         `json:"status" enum:"submitted,in_progress,forwarded,responded,completed,rejected"`
	AssignedCaseWorkerID *string        `json:"assigned_case_worker_id,omitempty"`
	Information          string         `json:"information,omitempty"`
	Purpose              string         `json:"purpose,omitempty"`
	DeliveryMethod       DeliveryMethod `json:"delivery_method,omitempty"`
	ParentRequestID      *int64         `json:"parent_request_id,omitempty"`
	Reason               string         `json:"reason,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	CompletedAt          *time.Time     `json:"completed_at,omitempty"`
	EvidenceDueAt        *time.Time     `json:"evidence_due_at,omitempty"`
}

// AssignedTo reports whether the case is assigned to the given case worker.
func (c Case) AssignedTo(userID string) bool {
	return c.AssignedCaseWorkerID != nil && *c.AssignedCaseWorkerID == userID
}

// Unassigned reports whether no case worker holds the case.
func (c Case) Unassigned() bool {
	return c.AssignedCaseWorkerID == nil || *c.AssignedCaseWorkerID == ""
}

// MessageKind classifies thread entries.
type MessageKind string

const (
	MessageOrdinary MessageKind = "ordinary"
	MessageSystem   MessageKind = "system"
	MessageEvidence MessageKind = "evidence"
)

func ParseMessageKind(s string) (MessageKind, error) {
	switch MessageKind(strings.ToLower(strings.TrimSpace(s))) {
	case "", MessageOrdinary:
		return MessageOrdinary, nil
	case MessageSystem:
		return MessageSystem, nil
	case MessageEvidence, "evidence-submission", "evidence_submission":
		return MessageEvidence, nil
	}
	return "", fmt.Errorf("invalid message kind %q", s)
}

// Message is an immutable entry in a case thread.
type Message struct {
	ID         int64       `json:"id"`
	CaseID     int64       `json:"case_id"`
	AuthorID   string      `json:"author_id"`
	AuthorRole RoleClass   `json:"author_role"`
	Body       string      `json:"body"`
	Kind       MessageKind `json:"kind" enum:"ordinary,system,evidence"`
	CreatedAt  time.Time   `json:"created_at"`
}

// User is an identity resolved from the user directory.
type User struct {
	ID          string    `json:"id"`
	Role        RoleClass `json:"role"`
	DisplayName string    `json:"display_name"`
}

// DirectoryEntry is a raw user record as stored by the directory.
type DirectoryEntry struct {
	ID          string `json:"id" yaml:"id"`
	Role        string `json:"role" yaml:"role"`
	DisplayName string `json:"display_name" yaml:"display_name"`
}

// CaseThread summarises a case together with the tail of its thread.
type CaseThread struct {
	Case         Case
	MessageCount int
	LastAuthor   *RoleClass
}

type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	CaseID  int64  `json:"case_id,omitempty"`
	ActorID string `json:"actor_id"`
	Payload string `json:"payload_json"`
}
