package service

import (
	"context"

	"github.com/AlexProc13/external-payment/internal/audit/domain"
	"github.com/AlexProc13/external-payment/internal/auditcontext"
	"github.com/AlexProc13/external-payment/internal/clock"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, entry domain.Entry) {
	actorType := string(entry.ActorType)
	actorID := entry.ActorID
	if actorType == "" {
		ctxType, ctxID := auditcontext.ActorFromContext(ctx)
		actorType = ctxType
		if actorID == "" {
			actorID = ctxID
		}
	}
	if actorType == "" {
		actorType = string(domain.ActorTypeSystem)
	}

	row := &domain.AuditLog{
		ID:         s.genID.Generate(),
		UserID:     entry.UserID,
		ActorType:  actorType,
		Action:     entry.Action,
		TargetType: entry.TargetType,
		Metadata:   datatypes.JSONMap(entry.Metadata),
		CreatedAt:  s.clock.Now(),
	}
	if row.Metadata == nil {
		row.Metadata = datatypes.JSONMap{}
	}
	if actorID != "" {
		row.ActorID = &actorID
	}
	if entry.TargetID != "" {
		targetID := entry.TargetID
		row.TargetID = &targetID
	}
	if ip := auditcontext.IPAddressFromContext(ctx); ip != "" {
		row.IPAddress = &ip
	}
	if agent := auditcontext.UserAgentFromContext(ctx); agent != "" {
		row.UserAgent = &agent
	}
	if requestID := auditcontext.RequestIDFromContext(ctx); requestID != "" {
		row.Metadata["request_id"] = requestID
	}

	if err := s.repo.Insert(ctx, s.db, row); err != nil {
		s.log.Error("audit record failed",
			zap.String("action", entry.Action),
			zap.Error(err),
		)
	}
}

func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	return s.repo.List(ctx, s.db, filter)
}
