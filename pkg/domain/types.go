package domain

import "time"

type SessionKind string

const (
	KindRequest SessionKind = "request"
	KindOrder   SessionKind = "order"
)

type SessionStatus string

const (
	// request variant
	StatusRequested       SessionStatus = "requested"
	StatusGeneratingDraft SessionStatus = "generating_draft"
	StatusConfirmed       SessionStatus = "confirmed"

	// order variant
	StatusPendingQuote      SessionStatus = "pending_quote"
	StatusQuoteProposed     SessionStatus = "quote_proposed"
	StatusQuoteRejected     SessionStatus = "quote_rejected"
	StatusPendingPayment    SessionStatus = "pending_payment"
	StatusPaid              SessionStatus = "paid"
	StatusInProgress        SessionStatus = "in_progress"
	StatusRevisionRequested SessionStatus = "revision_requested"
	StatusCompleted         SessionStatus = "completed"

	// shared
	StatusUploaded SessionStatus = "uploaded"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type FileKind string

const (
	FileDrawingSLD FileKind = "drawing_sld"
	FileSketch     FileKind = "sketch"
)

// Site holds free-form installation metadata supplied by the applicant.
type Site struct {
	Address         string `json:"address,omitempty"`
	PostalCode      string `json:"postalCode,omitempty"`
	BuildingType    string `json:"buildingType,omitempty"`
	SelectedKVA     int    `json:"selectedKva,omitempty"`
	ApplicationType string `json:"applicationType,omitempty"`
	SPAccountNo     string `json:"spAccountNo,omitempty"`
}

// DrawingSession is a drawing request or drawing order together with its
// lifecycle state. The accepted artifact reference is only ever set by
// MarkUploaded.
type DrawingSession struct {
	ID                string        `json:"id"`
	Kind              SessionKind   `json:"kind"`
	OwnerID           string        `json:"ownerId"`
	OwnerCompany      string        `json:"ownerCompany,omitempty"`
	AssignedID        string        `json:"assignedId,omitempty"`
	AssignedName      string        `json:"assignedName,omitempty"`
	AssignedLicenceNo string        `json:"assignedLicenceNo,omitempty"`
	Site              Site          `json:"site"`
	ApplicantNote     string        `json:"applicantNote,omitempty"`
	SketchFileID      string        `json:"sketchFileId,omitempty"`
	UploadedFileID    string        `json:"uploadedFileId,omitempty"`
	StaffNote         string        `json:"staffNote,omitempty"`
	RevisionComment   string        `json:"revisionComment,omitempty"`
	Status            SessionStatus `json:"status"`
	QuoteAmount       string        `json:"quoteAmount,omitempty"`
	QuoteNote         string        `json:"quoteNote,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

type Message struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"sessionId"`
	UserID    string         `json:"userId"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

type FileRecord struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"sessionId"`
	Kind         FileKind  `json:"kind"`
	StoragePath  string    `json:"-"`
	OriginalName string    `json:"originalName"`
	SizeBytes    int64     `json:"sizeBytes"`
	UploadedAt   time.Time `json:"uploadedAt"`
}
