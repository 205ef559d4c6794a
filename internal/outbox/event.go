// Package outbox relays notification rows to Kafka. The notifications table
// is the outbox: the lifecycle engine writes rows inside its transactions and
// the relay publishes whatever has not been published yet.
package outbox

import (
	"time"

	"github.com/jredh-dev/goodwill/pkg/models"
)

// Event is the JSON schema of messages on the notifications topic. The Kafka
// key is the user id so that one user's notices stay ordered within a
// partition.
//
//	{
//	  "id":        "550e8400-e29b-41d4-a716-446655440000",
//	  "userId":    "2b4c...",
//	  "type":      "STATUS_UPDATE",
//	  "title":     "Donation Status Updated",
//	  "message":   "Donation \"Walker\" status changed to IN TRANSIT",
//	  "link":      "/dashboard/donations/9f1e...",
//	  "createdAt": "2025-01-02T15:04:05Z"
//	}
type Event struct {
	// ID is the notification id; consumers use it to drop redeliveries.
	ID        string                  `json:"id"`
	UserID    string                  `json:"userId"`
	Type      models.NotificationType `json:"type"`
	Title     string                  `json:"title"`
	Message   string                  `json:"message"`
	Link      string                  `json:"link,omitempty"`
	CreatedAt time.Time               `json:"createdAt"`
}

// EventFromNotification converts a stored notification.
func EventFromNotification(n models.Notification) Event {
	ev := Event{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		CreatedAt: n.CreatedAt,
	}
	if n.Link != nil {
		ev.Link = *n.Link
	}
	return ev
}
