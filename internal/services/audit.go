package services

import (
	"context"
	"encoding/json"

	"github.com/bizzylink/apiserver/types"
	"go.uber.org/zap"
)

// AuditRepository defines persistence for the admin audit trail.
type AuditRepository interface {
	Create(ctx context.Context, entry types.AuditLog) (types.AuditLog, error)
	List(ctx context.Context, action string, offset, limit int) ([]types.AuditLog, int, error)
}

// AuditTarget names the objects an audited action touched.
type AuditTarget struct {
	User   int
	Thread int
	Post   int
}

// Auditor records administrative actions. Failures are logged and not returned.
type Auditor struct {
	repo   AuditRepository
	logger *zap.Logger
}

func NewAuditor(repo AuditRepository, logger *zap.Logger) *Auditor {
	return &Auditor{repo: repo, logger: logger}
}

func (a *Auditor) Record(ctx context.Context, actor types.Actor, action string, target AuditTarget, details any) {
	entry := types.AuditLog{
		AdminID:      actor.UserID,
		Action:       action,
		TargetUser:   optionalID(target.User),
		TargetThread: optionalID(target.Thread),
		TargetPost:   optionalID(target.Post),
		IP:           actor.IP,
		UserAgent:    actor.UserAgent,
	}
	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			a.logger.Warn("failed to encode audit details", zap.String("action", action), zap.Error(err))
		} else {
			entry.Details = raw
		}
	}

	if _, err := a.repo.Create(ctx, entry); err != nil {
		a.logger.Error("failed to write audit log",
			zap.Int("admin_id", actor.UserID),
			zap.String("action", action),
			zap.Error(err),
		)
		return
	}
	a.logger.Info("admin action",
		zap.Int("admin_id", actor.UserID),
		zap.String("action", action),
		zap.Intp("target_user", entry.TargetUser),
	)
}

func (a *Auditor) List(ctx context.Context, action string, offset, limit int) ([]types.AuditLog, int, error) {
	return a.repo.List(ctx, action, offset, limit)
}

func optionalID(id int) *int {
	if id <= 0 {
		return nil
	}
	return &id
}
