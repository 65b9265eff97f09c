package server

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"foiadesk/internal/engine"
)

// registerInbound exposes the hook the mail gateway posts incoming replies
// to. It authenticates with a shared secret rather than a user identity.
func registerInbound(api huma.API, e engine.Engine, secret string) {
	huma.Register(api, huma.Operation{
		OperationID:   "ingest-inbound",
		Method:        http.MethodPost,
		Path:          "/inbound",
		Summary:       "Ingest an inbound message",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Secret string         `header:"X-Inbound-Secret"`
		Body   InboundRequest `json:"body"`
	}) (*struct {
		Body InboundResponse `json:"body"`
	}, error) {
		if secret != "" && subtle.ConstantTimeCompare([]byte(input.Secret), []byte(secret)) != 1 {
			return nil, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid inbound secret", nil)
		}
		if input.Body.From == "" || input.Body.To == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "from and to are required", nil)
		}
		comm, err := e.IngestInbound(ctx, engine.InboundMessage{
			To:      input.Body.To,
			From:    input.Body.From,
			Subject: input.Body.Subject,
			Body:    input.Body.Body,
			TS:      input.Body.TS,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InboundResponse `json:"body"`
		}{Body: InboundResponse{Communication: comm, RequestID: comm.RequestID}}, nil
	})
}
