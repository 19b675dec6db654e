package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Entry is one action to record. Actor, IP and user agent fall back to
// whatever the audit context carries when left empty.
type Entry struct {
	UserID     *snowflake.ID
	ActorType  ActorType
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

// Service writes the audit trail. Record never fails the caller: a lost
// audit row is logged, not propagated, because the ledger operation it
// describes already committed.
type Service interface {
	Record(ctx context.Context, entry Entry)
	List(ctx context.Context, filter ListFilter) ([]*AuditLog, error)
}
