package domain

type User struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Email            string  `json:"email"`
	Tier             string  `json:"tier" enum:"basic,pro,org"`
	OrgID            *string `json:"org_id,omitempty"`
	OrgShare         bool    `json:"org_share"`
	Staff            bool    `json:"staff"`
	Active           bool    `json:"active"`
	MonthlyRequests  int     `json:"monthly_requests"`
	RegularRequests  int     `json:"regular_requests"`
	MonthlyResetDate string  `json:"monthly_reset_date,omitempty" format:"date-time"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

type Organization struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Active          bool   `json:"active"`
	MonthlyRequests int    `json:"monthly_requests"`
	RegularRequests int    `json:"regular_requests"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

type Agency struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Jurisdiction   string  `json:"jurisdiction"`
	Status         string  `json:"status" enum:"pending,approved,rejected"`
	Email          string  `json:"email,omitempty"`
	Fax            string  `json:"fax,omitempty"`
	PortalURL      string  `json:"portal_url,omitempty"`
	Address        string  `json:"address,omitempty"`
	Stale          bool    `json:"stale"`
	AppealAgencyID *string `json:"appeal_agency_id,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

type Request struct {
	ID               string   `json:"id"`
	ComposerID       *string  `json:"composer_id,omitempty"`
	AgencyID         string   `json:"agency_id"`
	OwnerID          string   `json:"owner_id"`
	Title            string   `json:"title"`
	Slug             string   `json:"slug"`
	Status           string   `json:"status" enum:"started,submitted,ack,processed,fix,payment,appealing,lawsuit,done,rejected,no_docs,partial,abandoned"`
	Embargo          bool     `json:"embargo"`
	PermanentEmbargo bool     `json:"permanent_embargo"`
	EmbargoExpires   *string  `json:"embargo_expires,omitempty" format:"date-time"`
	AccessKey        *string  `json:"-"`
	TrackingID       string   `json:"tracking_id,omitempty"`
	Price            *float64 `json:"price,omitempty"`
	DateEstimate     *string  `json:"date_estimate,omitempty" format:"date-time"`
	DateSubmitted    *string  `json:"date_submitted,omitempty" format:"date-time"`
	DateProcessing   *string  `json:"date_processing,omitempty" format:"date-time"`
	DateDone         *string  `json:"date_done,omitempty" format:"date-time"`
	EditorIDs        []string `json:"editor_ids,omitempty"`
	ViewerIDs        []string `json:"viewer_ids,omitempty"`
	CreatedAt        string   `json:"created_at" format:"date-time"`
	UpdatedAt        string   `json:"updated_at" format:"date-time"`
}

type Composer struct {
	ID          string   `json:"id"`
	OwnerID     string   `json:"owner_id"`
	OrgID       *string  `json:"org_id,omitempty"`
	Title       string   `json:"title"`
	Ask         string   `json:"ask"`
	Status      string   `json:"status" enum:"started,submitted,filed"`
	AgencyIDs   []string `json:"agency_ids,omitempty"`
	SubmittedAt *string  `json:"submitted_at,omitempty" format:"date-time"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

type Communication struct {
	ID         string   `json:"id"`
	RequestID  *string  `json:"request_id,omitempty"`
	Direction  string   `json:"direction" enum:"inbound,outbound"`
	TS         string   `json:"ts" format:"date-time"`
	From       string   `json:"from"`
	To         string   `json:"to,omitempty"`
	Subject    string   `json:"subject,omitempty"`
	Body       string   `json:"body"`
	Status     string   `json:"status,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	CreatedAt  string   `json:"created_at" format:"date-time"`
}

type EmailRecord struct {
	ID              string `json:"id"`
	CommunicationID string `json:"communication_id"`
	To              string `json:"to"`
	MessageID       string `json:"message_id,omitempty"`
	DeliveryStatus  string `json:"delivery_status" enum:"queued,sent,delivered,rejected"`
	Receipt         string `json:"receipt,omitempty"`
}

type FaxRecord struct {
	ID              string `json:"id"`
	CommunicationID string `json:"communication_id"`
	Number          string `json:"number"`
	DeliveryStatus  string `json:"delivery_status" enum:"queued,sent,failed"`
	Receipt         string `json:"receipt,omitempty"`
	ErrorDetail     string `json:"error_detail,omitempty"`
}

type LetterRecord struct {
	ID              string   `json:"id"`
	CommunicationID string   `json:"communication_id"`
	Address         string   `json:"address"`
	Category        string   `json:"category" enum:"letter,payment,appeal,followup"`
	Amount          *float64 `json:"amount,omitempty"`
	CheckNumber     *int     `json:"check_number,omitempty"`
	PDFURL          string   `json:"pdf_url,omitempty"`
}

type PortalRecord struct {
	ID              string `json:"id"`
	CommunicationID string `json:"communication_id"`
	PortalURL       string `json:"portal_url"`
	Confirmation    string `json:"confirmation,omitempty"`
	DeliveryStatus  string `json:"delivery_status" enum:"queued,sent,failed"`
}

// Task kinds handled by the operator queue.
const (
	TaskOrphan        = "orphan"
	TaskResponse      = "response"
	TaskSnailMail     = "snail_mail"
	TaskStaleAgency   = "stale_agency"
	TaskNewAgency     = "new_agency"
	TaskReviewAgency  = "review_agency"
	TaskFailedFax     = "failed_fax"
	TaskRejectedEmail = "rejected_email"
	TaskFlagged       = "flagged"
	TaskCrowdfund     = "crowdfund"
	TaskPortal        = "portal"
)

type Task struct {
	ID              string  `json:"id"`
	Kind            string  `json:"kind" enum:"orphan,response,snail_mail,stale_agency,new_agency,review_agency,failed_fax,rejected_email,flagged,crowdfund,portal"`
	Resolved        bool    `json:"resolved"`
	ResolvedBy      *string `json:"resolved_by,omitempty"`
	DeferredUntil   *string `json:"deferred_until,omitempty" format:"date-time"`
	CommunicationID *string `json:"communication_id,omitempty"`
	AgencyID        *string `json:"agency_id,omitempty"`
	RequestID       *string `json:"request_id,omitempty"`
	UserID          *string `json:"user_id,omitempty"`
	Category        string  `json:"category,omitempty"`
	Note            string  `json:"note,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	DoneAt          *string `json:"done_at,omitempty" format:"date-time"`
}

type Appeal struct {
	ID              string `json:"id"`
	RequestID       string `json:"request_id"`
	CommunicationID string `json:"communication_id"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

type Note struct {
	ID        string `json:"id"`
	RequestID string `json:"request_id"`
	AuthorID  string `json:"author_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
