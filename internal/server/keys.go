package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"foiadesk/internal/domain"
	"foiadesk/internal/engine"
	"foiadesk/internal/repo"
)

// MintAPIKey generates a raw key, stores its hash, and returns both. The raw
// key is shown once and never recoverable afterwards.
func MintAPIKey(ctx context.Context, r repo.Repo, actorID, name string) (string, domain.APIKey, error) {
	raw := uuid.NewString() + uuid.NewString()
	key := domain.APIKey{
		ID:      uuid.NewString(),
		ActorID: actorID,
		Name:    name,
		KeyHash: repo.HashAPIKey(raw),
	}
	if err := r.InsertAPIKey(ctx, nil, key); err != nil {
		return "", domain.APIKey{}, err
	}
	return raw, key, nil
}

func registerKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/keys",
		Summary:       "Create an API key",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateKeyRequest `json:"body"`
	}) (*struct {
		Body KeyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		raw, key, err := MintAPIKey(ctx, e.Repo, actorID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body KeyResponse `json:"body"`
		}{Body: KeyResponse{ID: key.ID, Key: raw}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/keys",
		Summary:     "List API keys",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body KeyListResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.Repo.ListAPIKeys(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body KeyListResponse `json:"body"`
		}{Body: KeyListResponse{Keys: keys}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/keys/{key_id}",
		Summary:     "Delete an API key",
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct {
		Body map[string]bool `json:"body"`
	}, error) {
		if _, err := actorIDFromContext(ctx); err != nil {
			return nil, err
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]bool `json:"body"`
		}{Body: map[string]bool{"deleted": true}}, nil
	})
}
