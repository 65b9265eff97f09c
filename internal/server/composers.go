package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"foiadesk/internal/engine"
)

type ComposerPath struct {
	ComposerID string `path:"composer_id"`
}

func composerOptions(body ComposerRequest, actorID string) engine.ComposerOptions {
	opts := engine.ComposerOptions{
		Title:   body.Title,
		Ask:     body.Ask,
		OwnerID: actorID,
		OrgID:   body.OrgID,
		ActorID: actorID,
	}
	for _, ref := range body.Agencies {
		opts.Agencies = append(opts.Agencies, engine.AgencyRef{
			ID:           ref.ID,
			Name:         ref.Name,
			Jurisdiction: ref.Jurisdiction,
		})
	}
	return opts
}

func registerComposers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-composer",
		Method:        http.MethodPost,
		Path:          "/composers",
		Summary:       "Start a draft",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body ComposerRequest `json:"body"`
	}) (*struct {
		Body ComposerResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateComposer(ctx, composerOptions(input.Body, actorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ComposerResponse `json:"body"`
		}{Body: ComposerResponse{Composer: c}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-composer",
		Method:      http.MethodPatch,
		Path:        "/composers/{composer_id}",
		Summary:     "Autosave a draft",
	}, func(ctx context.Context, input *struct {
		ComposerPath
		Body ComposerRequest `json:"body"`
	}) (*struct {
		Body ComposerResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.UpdateComposer(ctx, input.ComposerID, composerOptions(input.Body, actorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ComposerResponse `json:"body"`
		}{Body: ComposerResponse{Composer: c}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-composer",
		Method:      http.MethodGet,
		Path:        "/composers/{composer_id}",
		Summary:     "Get a draft",
	}, func(ctx context.Context, input *ComposerPath) (*struct {
		Body ComposerResponse `json:"body"`
	}, error) {
		if _, err := actorIDFromContext(ctx); err != nil {
			return nil, err
		}
		c, err := e.Repo.GetComposer(ctx, input.ComposerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ComposerResponse `json:"body"`
		}{Body: ComposerResponse{Composer: c}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-composer",
		Method:      http.MethodPost,
		Path:        "/composers/{composer_id}/submit",
		Summary:     "Fan the draft out into requests",
	}, func(ctx context.Context, input *ComposerPath) (*struct {
		Body ComposerSubmitResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.SubmitComposer(ctx, input.ComposerID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ComposerSubmitResponse `json:"body"`
		}{Body: newComposerSubmitResponse(res)}, nil
	})
}
