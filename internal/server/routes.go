package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"kipdesk/internal/domain"
	"kipdesk/internal/engine"
)

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusServiceUnavailable,
}

type casePath struct {
	ID int64 `path:"id" minimum:"1"`
}

type caseBody struct {
	Body domain.Case `json:"body"`
}

type caseListBody struct {
	Body CaseList `json:"body"`
}

func statusFilter(raw string) (*domain.Status, error) {
	if raw == "" {
		return nil, nil
	}
	st, err := domain.ParseStatus(raw)
	if err != nil {
		return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"status": raw})
	}
	return &st, nil
}

func listCases(ctx context.Context, e engine.Engine, kind domain.CaseKind, rawStatus string) (*caseListBody, error) {
	actorID, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return nil, authErr
	}
	status, err := statusFilter(rawStatus)
	if err != nil {
		return nil, err
	}
	items, err := e.ListVisibleCases(ctx, actorID, kind, status)
	if err != nil {
		return nil, handleError(err)
	}
	return &caseListBody{Body: CaseList{Items: nonNilSlice(items)}}, nil
}

func registerRequests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-request",
		Method:        http.MethodPost,
		Path:          "/requests",
		Summary:       "File an information request",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateRequestRequest `json:"body"`
	}) (*caseBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateRequest(ctx, actorID, engine.RequestDetails{
			Information:    input.Body.Information,
			Purpose:        input.Body.Purpose,
			DeliveryMethod: input.Body.DeliveryMethod,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &caseBody{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-requests",
		Method:      http.MethodGet,
		Path:        "/requests",
		Summary:     "List visible requests",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
	}) (*caseListBody, error) {
		return listCases(ctx, e, domain.KindRequest, input.Status)
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-objections",
		Method:      http.MethodGet,
		Path:        "/objections",
		Summary:     "List visible objections",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
	}) (*caseListBody, error) {
		return listCases(ctx, e, domain.KindObjection, input.Status)
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-escalation",
		Method:      http.MethodGet,
		Path:        "/requests/{id}/escalation",
		Summary:     "Check whether the request can be escalated",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *casePath) (*struct {
		Body engine.Eligibility `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		el, err := e.CheckEscalation(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Eligibility `json:"body"`
		}{Body: el}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "escalate-request",
		Method:        http.MethodPost,
		Path:          "/requests/{id}/objection",
		Summary:       "Escalate a request to an objection",
		DefaultStatus: http.StatusCreated,
		Errors:        append([]int{http.StatusUnprocessableEntity}, writeErrors...),
	}, func(ctx context.Context, input *struct {
		ID   int64           `path:"id" minimum:"1"`
		Body EscalateRequest `json:"body"`
	}) (*caseBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		obj, err := e.EscalateToObjection(ctx, actorID, input.ID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &caseBody{Body: obj}, nil
	})
}

func registerCases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{id}",
		Summary:     "Get a case with the actions open to the caller",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *casePath) (*struct {
		Body engine.CaseView `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		view, err := e.DescribeCase(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.CaseView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-case",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/status",
		Summary:     "Move a case to another status",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64             `path:"id" minimum:"1"`
		Body TransitionRequest `json:"body"`
	}) (*caseBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.TransitionStatus(ctx, engine.TransitionOptions{
			ActorID:    actorID,
			CaseID:     input.ID,
			Target:     domain.Status(input.Body.Status),
			AssigneeID: input.Body.AssigneeID,
			Note:       input.Body.Note,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &caseBody{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-case",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/claim",
		Summary:     "Claim a forwarded case",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *casePath) (*caseBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.ClaimCase(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &caseBody{Body: c}, nil
	})
}

func registerMessages(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-messages",
		Method:      http.MethodGet,
		Path:        "/cases/{id}/messages",
		Summary:     "Read a case thread, oldest first",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *casePath) (*struct {
		Body MessageList `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		msgs, err := e.ListMessages(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MessageList `json:"body"`
		}{Body: MessageList{Items: nonNilSlice(msgs)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "post-message",
		Method:        http.MethodPost,
		Path:          "/cases/{id}/messages",
		Summary:       "Append a message to a case thread",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64              `path:"id" minimum:"1"`
		Body PostMessageRequest `json:"body"`
	}) (*struct {
		Body domain.Message `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		kind := domain.MessageKind(input.Body.Kind)
		msg, err := e.PostMessage(ctx, actorID, input.ID, input.Body.Body, kind)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Message `json:"body"`
		}{Body: msg}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.WhoAmI(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{ID: u.ID, Role: u.Role.String(), DisplayName: u.DisplayName}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "notification-counts",
		Method:      http.MethodGet,
		Path:        "/me/notifications",
		Summary:     "Cases awaiting the current user, per kind",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.NotificationCounts `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		counts, err := e.GetNotificationCounts(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.NotificationCounts `json:"body"`
		}{Body: counts}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "attention",
		Method:      http.MethodGet,
		Path:        "/me/attention",
		Summary:     "Cases behind the notification counts",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []engine.AttentionItem `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListAttention(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []engine.AttentionItem `json:"body"`
		}{Body: items}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		CaseID int64  `query:"case_id"`
		Type   string `query:"type"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListEvents(ctx, actorID, normalizeLimit(input.Limit), input.CaseID, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}
