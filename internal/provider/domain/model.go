package domain

import (
	"time"

	financedomain "github.com/AlexProc13/external-payment/internal/finance/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// PaymentProvider is a configured payment method a company offers. Config
// holds the provider-specific credentials and endpoints as JSON; Min/Max
// bound a single request in minor units (zero means unbounded).
type PaymentProvider struct {
	ID         snowflake.ID            `gorm:"primaryKey"`
	Code       string                  `gorm:"type:text;not null;index"`
	Name       string                  `gorm:"type:text;not null"`
	Direction  financedomain.Direction `gorm:"type:text;not null;index"`
	IsActive   bool                    `gorm:"not null;default:true"`
	Min        int64                   `gorm:"not null;default:0"`
	Max        int64                   `gorm:"not null;default:0"`
	DailyLimit int64                   `gorm:"not null;default:0"`
	Config     datatypes.JSON          `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt  time.Time               `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time               `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PaymentProvider) TableName() string { return "payment_providers" }
