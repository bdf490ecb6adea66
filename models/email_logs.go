package models

import (
	"time"
)

type DeliveryStatus string

const (
	Pending DeliveryStatus = "pending"
	Sent    DeliveryStatus = "sent"
	Failed  DeliveryStatus = "failed"
)

func (s DeliveryStatus) Terminal() bool {
	return s == Sent || s == Failed
}

type EmailLogs struct {
	Base         `gorm:"embedded"`
	Recipient    string         `gorm:"column:recipient;size:320;<-:create;not null" json:"recipient"`
	Subject      string         `gorm:"column:subject;type:text;<-:create;not null" json:"subject"`
	Status       DeliveryStatus `gorm:"column:status;size:20;index;not null" json:"status"`
	ApiKeyID     uint           `gorm:"column:api_key_id;<-:create;index;not null" json:"api_key_id"`
	ApiKey       ApiKeys        `gorm:"foreignKey:ApiKeyID" json:"-"`
	ErrorMessage *string        `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	FinalizedAt  *time.Time     `gorm:"column:finalized_at" json:"finalized_at,omitempty"`
}
