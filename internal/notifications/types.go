package notifications

import "context"

// Notification types understood by the delivery service. Each type selects
// an email template on the notifyd side.
const (
	TypeAdminInvitation = "admin-invitation"
	TypeUserInvitation  = "user-invitation"
	TypePasswordReset   = "password-reset"
	TypeProcessComplete = "process-complete"
)

// ServiceTokenHeader carries the shared secret that authenticates
// service-to-service notification requests.
const ServiceTokenHeader = "X-Service-Token"

// Message is the wire payload accepted by the notification service.
type Message struct {
	Type      string         `json:"type" binding:"required"`
	Recipient string         `json:"recipient" binding:"required"`
	Data      map[string]any `json:"data"`
}

// Sender dispatches a notification for delivery. Implementations must be
// safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ValidType reports whether the message type maps to a known template.
func ValidType(t string) bool {
	switch t {
	case TypeAdminInvitation, TypeUserInvitation, TypePasswordReset, TypeProcessComplete:
		return true
	}
	return false
}
