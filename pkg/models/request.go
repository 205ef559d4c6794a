package models

import "time"

// RequestStatus mirrors the subset of donation states a request can hold.
type RequestStatus string

const (
	RequestOffered  RequestStatus = "OFFERED"
	RequestAccepted RequestStatus = "ACCEPTED"
)

// Request is a recipient's interest in one donation. Title, description and
// category are copied from the donation when the request is made.
type Request struct {
	ID          string        `db:"id" json:"id"`
	DonationID  string        `db:"donation_id" json:"donationId"`
	RecipientID string        `db:"recipient_id" json:"recipientId"`
	Title       string        `db:"title" json:"title"`
	Description string        `db:"description" json:"description"`
	Category    ItemCategory  `db:"category" json:"category"`
	Status      RequestStatus `db:"status" json:"status"`
	CreatedAt   time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updatedAt"`

	// Filled by detail queries only.
	Recipient *Party `db:"-" json:"recipient,omitempty"`
}

// HistoryEntry is one row of a status ledger. ParentID is a donation id in
// the donation ledger and a request id in the request ledger.
type HistoryEntry struct {
	ID        string    `db:"id" json:"id"`
	Seq       int64     `db:"seq" json:"-"`
	ParentID  string    `db:"parent_id" json:"parentId"`
	Status    string    `db:"status" json:"status"`
	Notes     *string   `db:"notes" json:"notes,omitempty"`
	ChangedBy string    `db:"changed_by" json:"changedBy"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// NotificationType tags what a notification is about.
type NotificationType string

const (
	NotificationNewRequest   NotificationType = "NEW_REQUEST"
	NotificationStatusUpdate NotificationType = "STATUS_UPDATE"
)

// Notification is an in-app notice to one user. Rows double as the outbox:
// PublishedAt is set once the relay has handed the notice to Kafka.
type Notification struct {
	ID          string           `db:"id" json:"id"`
	UserID      string           `db:"user_id" json:"userId"`
	Type        NotificationType `db:"type" json:"type"`
	Title       string           `db:"title" json:"title"`
	Message     string           `db:"message" json:"message"`
	Link        *string          `db:"link" json:"link,omitempty"`
	Read        bool             `db:"is_read" json:"read"`
	CreatedAt   time.Time        `db:"created_at" json:"createdAt"`
	PublishedAt *time.Time       `db:"published_at" json:"-"`
}

// Entity types referenced from the audit log.
const (
	EntityDonation = "DONATION"
	EntityRequest  = "REQUEST"
)

// Audit actions.
const (
	ActionDonationCreated       = "DONATION_CREATED"
	ActionDonationRequested     = "DONATION_REQUESTED"
	ActionRequestAccepted       = "REQUEST_ACCEPTED"
	ActionDonationStatusUpdated = "DONATION_STATUS_UPDATED"
	ActionDeliveryConfirmed     = "DELIVERY_CONFIRMED"
)

// AuditEntry is an immutable record of who did what to which entity.
type AuditEntry struct {
	ID         string    `db:"id" json:"id"`
	ActorID    string    `db:"actor_id" json:"actorId"`
	Action     string    `db:"action" json:"action"`
	EntityType string    `db:"entity_type" json:"entityType"`
	EntityID   string    `db:"entity_id" json:"entityId"`
	Details    Details   `db:"details" json:"details,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// DeliveryEvidence references the stored artefacts of a delivery.
type DeliveryEvidence struct {
	ID           string     `db:"id" json:"id"`
	DonationID   string     `db:"donation_id" json:"donationId"`
	PhotoRefs    StringList `db:"photo_refs" json:"photos"`
	SignatureRef *string    `db:"signature_ref" json:"signature,omitempty"`
	Notes        *string    `db:"notes" json:"notes,omitempty"`
	ConfirmedBy  string     `db:"confirmed_by" json:"confirmedBy"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
}
