package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"foiadesk/internal/engine"
	"foiadesk/internal/repo"
)

type AgencyPath struct {
	AgencyID string `path:"agency_id"`
}

func registerAgencies(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-agency",
		Method:        http.MethodPost,
		Path:          "/agencies",
		Summary:       "Register an agency",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateAgencyRequest `json:"body"`
	}) (*struct {
		Body AgencyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		approved := requireStaff(ctx, e) == nil
		a, err := e.CreateAgency(ctx, engine.AgencyCreateOptions{
			Name:           input.Body.Name,
			Jurisdiction:   input.Body.Jurisdiction,
			Email:          input.Body.Email,
			Fax:            input.Body.Fax,
			PortalURL:      input.Body.PortalURL,
			Address:        input.Body.Address,
			AppealAgencyID: input.Body.AppealAgencyID,
			Approved:       approved,
			ActorID:        actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgencyResponse `json:"body"`
		}{Body: AgencyResponse{Agency: a}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agency",
		Method:      http.MethodGet,
		Path:        "/agencies/{agency_id}",
		Summary:     "Get an agency",
	}, func(ctx context.Context, input *AgencyPath) (*struct {
		Body AgencyResponse `json:"body"`
	}, error) {
		a, err := e.Repo.GetAgency(ctx, input.AgencyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgencyResponse `json:"body"`
		}{Body: AgencyResponse{Agency: a}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agencies",
		Method:      http.MethodGet,
		Path:        "/agencies",
		Summary:     "List agencies",
	}, func(ctx context.Context, input *struct {
		Status       string `query:"status" enum:"pending,approved,rejected,"`
		Jurisdiction string `query:"jurisdiction"`
		Stale        string `query:"stale" enum:"true,false,"`
		Limit        int    `query:"limit" default:"100" minimum:"1" maximum:"500"`
	}) (*struct {
		Body AgencyListResponse `json:"body"`
	}, error) {
		agencies, err := e.Repo.ListAgencies(ctx, repo.AgencyFilters{
			Status:       input.Status,
			Jurisdiction: input.Jurisdiction,
			Stale:        boolFilter(input.Stale),
			Limit:        input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgencyListResponse `json:"body"`
		}{Body: AgencyListResponse{Agencies: agencies}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-agency",
		Method:      http.MethodPatch,
		Path:        "/agencies/{agency_id}",
		Summary:     "Update agency contact details",
	}, func(ctx context.Context, input *struct {
		AgencyPath
		Body UpdateAgencyRequest `json:"body"`
	}) (*struct {
		Body AgencyResponse `json:"body"`
	}, error) {
		if err := requireStaff(ctx, e); err != nil {
			return nil, err
		}
		actorID, _ := actorIDFromContext(ctx)
		a, err := e.UpdateAgency(ctx, input.AgencyID, engine.AgencyUpdateOptions{
			Email:          input.Body.Email,
			Fax:            input.Body.Fax,
			PortalURL:      input.Body.PortalURL,
			Address:        input.Body.Address,
			Status:         input.Body.Status,
			AppealAgencyID: input.Body.AppealAgencyID,
			ActorID:        actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgencyResponse `json:"body"`
		}{Body: AgencyResponse{Agency: a}}, nil
	})
}
