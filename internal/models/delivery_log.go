package models

import "gorm.io/datatypes"

// Delivery statuses recorded by the notification service.
const (
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
	DeliverySkipped = "skipped"
)

// DeliveryLog records a single notification delivery attempt, including
// requests that were skipped because SMTP is disabled.
type DeliveryLog struct {
	BaseModel

	Type      string         `gorm:"type:varchar(64);not null;index" json:"type"`
	Recipient string         `gorm:"not null;index" json:"recipient"`
	Subject   string         `json:"subject"`
	Status    string         `gorm:"type:varchar(16);not null;index" json:"status"`
	Detail    string         `gorm:"type:text" json:"detail,omitempty"`
	Payload   datatypes.JSON `json:"payload"`
}
