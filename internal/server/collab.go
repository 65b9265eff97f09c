package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"foiadesk/internal/domain"
	"foiadesk/internal/engine"
)

func registerCollaboration(api huma.API, e engine.Engine) {
	type collabFn func(ctx context.Context, requestID, userID, actorID string) (domain.Request, error)

	register := func(opID, path, summary string, fn collabFn) {
		huma.Register(api, huma.Operation{
			OperationID: opID,
			Method:      http.MethodPost,
			Path:        "/requests/{request_id}/" + path,
			Summary:     summary,
		}, func(ctx context.Context, input *struct {
			RequestPath
			Body CollaboratorRequest `json:"body"`
		}) (*struct {
			Body RequestResponse `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			if input.Body.UserID == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
			}
			req, err := fn(ctx, input.RequestID, input.Body.UserID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body RequestResponse `json:"body"`
			}{Body: RequestResponse{Request: req}}, nil
		})
	}

	register("add-editor", "editors", "Add an editor", e.AddEditor)
	register("remove-editor", "editors/remove", "Remove an editor", e.RemoveEditor)
	register("add-viewer", "viewers", "Add a viewer", e.AddViewer)
	register("remove-viewer", "viewers/remove", "Remove a viewer", e.RemoveViewer)
	register("promote-viewer", "viewers/promote", "Promote a viewer to editor", e.PromoteViewer)
	register("demote-editor", "editors/demote", "Demote an editor to viewer", e.DemoteEditor)

	huma.Register(api, huma.Operation{
		OperationID: "set-embargo",
		Method:      http.MethodPost,
		Path:        "/requests/{request_id}/embargo",
		Summary:     "Embargo a request",
	}, func(ctx context.Context, input *struct {
		RequestPath
		Body EmbargoRequest `json:"body"`
	}) (*struct {
		Body RequestResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.SetEmbargo(ctx, input.RequestID, input.Body.Permanent, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestResponse `json:"body"`
		}{Body: RequestResponse{Request: req}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-embargo",
		Method:      http.MethodDelete,
		Path:        "/requests/{request_id}/embargo",
		Summary:     "Lift an embargo",
	}, func(ctx context.Context, input *RequestPath) (*struct {
		Body RequestResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.RemoveEmbargo(ctx, input.RequestID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestResponse `json:"body"`
		}{Body: RequestResponse{Request: req}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "generate-access-key",
		Method:      http.MethodPost,
		Path:        "/requests/{request_id}/access-key",
		Summary:     "Create or rotate the share-link key",
	}, func(ctx context.Context, input *RequestPath) (*struct {
		Body AccessKeyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, err := e.GenerateAccessKey(ctx, input.RequestID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AccessKeyResponse `json:"body"`
		}{Body: AccessKeyResponse{AccessKey: key}}, nil
	})
}
