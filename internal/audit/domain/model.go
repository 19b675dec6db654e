package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ActorType represents who triggered an action.
type ActorType string

const (
	ActorTypeUser     ActorType = "user"
	ActorTypeSystem   ActorType = "system"
	ActorTypeProvider ActorType = "provider"
)

// Payment actions recorded in the trail.
const (
	ActionPaymentMake     = "payment.make"
	ActionWebhookSettled  = "payment.webhook.settled"
	ActionWebhookRejected = "payment.webhook.rejected"
	ActionWebhookReplayed = "payment.webhook.replayed"
	ActionWebhookRefused  = "payment.webhook.refused"
)

// AuditLog captures an immutable record of a payment action.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	UserID     *snowflake.ID     `gorm:"index"`
	ActorType  string            `gorm:"type:text;not null"`
	ActorID    *string           `gorm:"type:text"`
	Action     string            `gorm:"type:text;not null;index"`
	TargetType string            `gorm:"type:text;not null"`
	TargetID   *string           `gorm:"type:text"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	IPAddress  *string           `gorm:"type:text"`
	UserAgent  *string           `gorm:"type:text"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }
