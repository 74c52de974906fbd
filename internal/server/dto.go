package server

import (
	"encoding/json"

	"kipdesk/internal/domain"
)

// Request payloads

type CreateRequestRequest struct {
	Information    string `json:"information" minLength:"1"`
	Purpose        string `json:"purpose" minLength:"1"`
	DeliveryMethod string `json:"delivery_method,omitempty" enum:"email,pickup,post"`
}

type EscalateRequest struct {
	Reason string `json:"reason" minLength:"1"`
}

type TransitionRequest struct {
	Status     string `json:"status" enum:"submitted,in_progress,forwarded,responded,completed,rejected"`
	AssigneeID string `json:"assignee_id,omitempty"`
	Note       string `json:"note,omitempty"`
}

type PostMessageRequest struct {
	Body string `json:"body" minLength:"1"`
	Kind string `json:"kind,omitempty" enum:"ordinary,evidence"`
}

// Responses

type CaseList struct {
	Items []domain.Case `json:"items"`
}

type MessageList struct {
	Items []domain.Message `json:"items"`
}

type WhoAmIResponse struct {
	ID          string `json:"id"`
	Role        string `json:"role" enum:"requester,front_office,case_worker,supervisor,administrator"`
	DisplayName string `json:"display_name,omitempty"`
}

type EventResponse struct {
	ID      int64          `json:"id"`
	TS      string         `json:"ts"`
	Type    string         `json:"type"`
	CaseID  int64          `json:"case_id,omitempty"`
	ActorID string         `json:"actor_id"`
	Payload map[string]any `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items []EventResponse `json:"items"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:      e.ID,
		TS:      e.TS,
		Type:    e.Type,
		CaseID:  e.CaseID,
		ActorID: e.ActorID,
		Payload: decodeJSONMap(e.Payload),
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
