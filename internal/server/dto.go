package server

import (
	"foiadesk/internal/domain"
	"foiadesk/internal/engine"
)

// Request payloads

type CreateRequestRequest struct {
	AgencyID string `json:"agency_id"`
	Title    string `json:"title"`
	Ask      string `json:"ask,omitempty"`
	Embargo  bool   `json:"embargo,omitempty"`
}

type SubmitRequestRequest struct {
	Ask string `json:"ask,omitempty"`
}

type SetStatusRequest struct {
	Status string `json:"status" enum:"started,submitted,ack,processed,fix,payment,appealing,lawsuit,done,rejected,no_docs,partial,abandoned"`
}

type AppealRequest struct {
	Text string `json:"text"`
}

type NoteRequest struct {
	Body string `json:"body"`
}

type CollaboratorRequest struct {
	UserID string `json:"user_id"`
}

type EmbargoRequest struct {
	Permanent bool `json:"permanent,omitempty"`
}

type AgencyRefRequest struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name,omitempty"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
}

type ComposerRequest struct {
	Title    string             `json:"title,omitempty"`
	Ask      string             `json:"ask,omitempty"`
	OrgID    *string            `json:"org_id,omitempty"`
	Agencies []AgencyRefRequest `json:"agencies,omitempty"`
}

type CreateAgencyRequest struct {
	Name           string  `json:"name"`
	Jurisdiction   string  `json:"jurisdiction"`
	Email          string  `json:"email,omitempty"`
	Fax            string  `json:"fax,omitempty"`
	PortalURL      string  `json:"portal_url,omitempty"`
	Address        string  `json:"address,omitempty"`
	AppealAgencyID *string `json:"appeal_agency_id,omitempty"`
}

type UpdateAgencyRequest struct {
	Email          *string `json:"email,omitempty"`
	Fax            *string `json:"fax,omitempty"`
	PortalURL      *string `json:"portal_url,omitempty"`
	Address        *string `json:"address,omitempty"`
	Status         *string `json:"status,omitempty" enum:"pending,approved,rejected"`
	AppealAgencyID *string `json:"appeal_agency_id,omitempty"`
}

type ResolveTaskRequest struct {
	KeepOpen     bool     `json:"keep_open,omitempty"`
	Status       string   `json:"status,omitempty"`
	Propagate    bool     `json:"propagate,omitempty"`
	TrackingID   string   `json:"tracking_id,omitempty"`
	DateEstimate string   `json:"date_estimate,omitempty"`
	Price        *float64 `json:"price,omitempty"`
	RequestIDs   []string `json:"request_ids,omitempty"`
	Blacklist    bool     `json:"blacklist,omitempty"`
	CheckNumber  *int     `json:"check_number,omitempty"`
	UpdateDate   bool     `json:"update_date,omitempty"`
	Email        string   `json:"email,omitempty"`
	Approve      *bool    `json:"approve,omitempty"`
	Replacement  string   `json:"replacement_agency_id,omitempty"`
	Reply        string   `json:"reply,omitempty"`
}

type DeferTaskRequest struct {
	Until string `json:"until" format:"date-time"`
}

type InboundRequest struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
	TS      string `json:"ts,omitempty" format:"date-time"`
}

type CreateKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Responses

type RequestResponse struct {
	Request domain.Request `json:"request"`
}

type RequestListResponse struct {
	Requests   []domain.Request `json:"requests"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type CommunicationListResponse struct {
	Communications []domain.Communication `json:"communications"`
}

type NoteListResponse struct {
	Notes []domain.Note `json:"notes"`
}

type AccessKeyResponse struct {
	AccessKey string `json:"access_key"`
}

type ComposerResponse struct {
	Composer domain.Composer `json:"composer"`
}

type ComposerSubmitResponse struct {
	Composer domain.Composer  `json:"composer"`
	Requests []domain.Request `json:"requests,omitempty"`
	Unfunded []string         `json:"unfunded,omitempty"`
	Failed   []string         `json:"failed,omitempty"`
}

func newComposerSubmitResponse(res engine.ComposerSubmitResult) ComposerSubmitResponse {
	return ComposerSubmitResponse{
		Composer: res.Composer,
		Requests: res.Requests,
		Unfunded: res.Unfunded,
		Failed:   res.Failed,
	}
}

type AgencyResponse struct {
	Agency domain.Agency `json:"agency"`
}

type AgencyListResponse struct {
	Agencies []domain.Agency `json:"agencies"`
}

type TaskResponse struct {
	Task domain.Task `json:"task"`
}

type TaskListResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type InboundResponse struct {
	Communication domain.Communication `json:"communication"`
	RequestID     *string              `json:"request_id,omitempty"`
}

type EventListResponse struct {
	Events []domain.Event `json:"events"`
}

type KeyResponse struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

type KeyListResponse struct {
	Keys []domain.APIKey `json:"keys"`
}
