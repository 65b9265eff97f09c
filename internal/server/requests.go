package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"foiadesk/internal/engine"
	"foiadesk/internal/engine/access"
	"foiadesk/internal/repo"
)

type RequestPath struct {
	RequestID string `path:"request_id"`
}

func registerRequests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-request",
		Method:        http.MethodPost,
		Path:          "/requests",
		Summary:       "Draft a request",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateRequestRequest `json:"body"`
	}) (*struct {
		Body RequestResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.CreateRequest(ctx, engine.RequestCreateOptions{
			AgencyID: input.Body.AgencyID,
			OwnerID:  actorID,
			Title:    input.Body.Title,
			Ask:      input.Body.Ask,
			Embargo:  input.Body.Embargo,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestResponse `json:"body"`
		}{Body: RequestResponse{Request: req}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request",
		Method:      http.MethodGet,
		Path:        "/requests/{request_id}",
		Summary:     "Get a request",
	}, func(ctx context.Context, input *struct {
		RequestPath
		Key string `query:"key"`
	}) (*struct {
		Body RequestResponse `json:"body"`
	}, error) {
		req, err := e.Repo.GetRequest(ctx, input.RequestID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.Access.Require(ctx, req, optionalActorID(ctx), input.Key, access.CapView); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestResponse `json:"body"`
		}{Body: RequestResponse{Request: req}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-requests",
		Method:      http.MethodGet,
		Path:        "/requests",
		Summary:     "List requests",
	}, func(ctx context.Context, input *struct {
		Owner    string `query:"owner"`
		Agency   string `query:"agency"`
		Status   string `query:"status"`
		Composer string `query:"composer"`
		Limit    int    `query:"limit" default:"50" minimum:"1" maximum:"200"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body RequestListResponse `json:"body"`
	}, error) {
		cursorCreatedAt, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		reqs, err := e.Repo.ListRequests(ctx, repo.RequestFilters{
			OwnerID:         input.Owner,
			AgencyID:        input.Agency,
			Status:          input.Status,
			ComposerID:      input.Composer,
			Limit:           input.Limit,
			CursorCreatedAt: cursorCreatedAt,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		actorID := optionalActorID(ctx)
		visible := reqs[:0]
		for _, req := range reqs {
			set, err := e.Access.Capabilities(ctx, req, actorID, "")
			if err != nil {
				return nil, handleError(err)
			}
			if set.Has(access.CapView) {
				visible = append(visible, req)
			}
		}
		out := RequestListResponse{Requests: visible}
		if len(visible) > 0 && len(reqs) == input.Limit {
			last := visible[len(visible)-1]
			out.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		return &struct {
			Body RequestListResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-request",
		Method:      http.MethodPost,
		Path:        "/requests/{request_id}/submit",
		Summary:     "File a drafted request",
	}, func(ctx context.Context, input *struct {
		RequestPath
		Body SubmitRequestRequest `json:"body"`
	}) (*struct {
		Body RequestResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.Submit(ctx, input.RequestID, input.Body.Ask, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestResponse `json:"body"`
		}{Body: RequestResponse{Request: req}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-request-status",
		Method:      http.MethodPost,
		Path:        "/requests/{request_id}/status",
		Summary:     "Set request status",
	}, func(ctx context.Context, input *struct {
		RequestPath
		Body SetStatusRequest `json:"body"`
	}) (*struct {
		Body RequestResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.SetStatus(ctx, input.RequestID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestResponse `json:"body"`
		}{Body: RequestResponse{Request: req}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "appeal-request",
		Method:      http.MethodPost,
		Path:        "/requests/{request_id}/appeal",
		Summary:     "File an appeal",
	}, func(ctx context.Context, input *struct {
		RequestPath
		Body AppealRequest `json:"body"`
	}) (*struct {
		Body RequestResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.Appeal(ctx, input.RequestID, input.Body.Text, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestResponse `json:"body"`
		}{Body: RequestResponse{Request: req}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-communications",
		Method:      http.MethodGet,
		Path:        "/requests/{request_id}/communications",
		Summary:     "Correspondence log",
	}, func(ctx context.Context, input *struct {
		RequestPath
		Key string `query:"key"`
	}) (*struct {
		Body CommunicationListResponse `json:"body"`
	}, error) {
		req, err := e.Repo.GetRequest(ctx, input.RequestID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.Access.Require(ctx, req, optionalActorID(ctx), input.Key, access.CapView); err != nil {
			return nil, handleError(err)
		}
		comms, err := e.Repo.ListCommunications(ctx, input.RequestID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CommunicationListResponse `json:"body"`
		}{Body: CommunicationListResponse{Communications: comms}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-note",
		Method:        http.MethodPost,
		Path:          "/requests/{request_id}/notes",
		Summary:       "Add a note",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		RequestPath
		Body NoteRequest `json:"body"`
	}) (*struct {
		Body NoteListResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.AddNote(ctx, input.RequestID, input.Body.Body, actorID); err != nil {
			return nil, handleError(err)
		}
		notes, err := e.Repo.ListNotes(ctx, input.RequestID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body NoteListResponse `json:"body"`
		}{Body: NoteListResponse{Notes: notes}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-request-tasks",
		Method:      http.MethodGet,
		Path:        "/requests/{request_id}/tasks",
		Summary:     "Tasks attached to a request",
	}, func(ctx context.Context, input *RequestPath) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.Repo.GetRequest(ctx, input.RequestID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.Access.Require(ctx, req, actorID, "", access.CapView); err != nil {
			return nil, handleError(err)
		}
		tasks, err := e.TasksForRequest(ctx, input.RequestID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: TaskListResponse{Tasks: tasks}}, nil
	})
}
