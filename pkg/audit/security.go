// Package audit provides security audit logging for SIEM consumption.
// It logs role changes and rejected role changes in structured JSON format
// for easy parsing and alerting.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/crm-reconciler/pkg/auth"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventRoleChanged is logged when an admin changes an identity's role.
	EventRoleChanged SecurityEventType = "role_changed"
	// EventRoleRemoved is logged when an admin deletes an identity's role record.
	EventRoleRemoved SecurityEventType = "role_removed"
	// EventRoleChangeRejected is logged when row security refuses a role change.
	EventRoleChangeRejected SecurityEventType = "role_change_rejected"
)

// SecurityEvent represents an auditable security event with all relevant context
// for SIEM ingestion and analysis.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	ActorID   string            `json:"actor_id,omitempty"`
	TargetID  uuid.UUID         `json:"target_id"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Details   any               `json:"details,omitempty"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// SecurityAuditor logs security events for SIEM consumption.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor with a dedicated logger namespace.
// The "security_audit" name makes the events easy to filter in SIEM systems.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogRoleChange records a successful role change at INFO level.
func (a *SecurityAuditor) LogRoleChange(ctx context.Context, targetID uuid.UUID, role, clientIP string) {
	event := a.event(ctx, EventRoleChanged, targetID, clientIP, "info")
	event.Details = map[string]string{"role": role}

	a.logger.Info("Role changed",
		zap.String("event_json", marshal(event)),
		zap.String("actor_id", event.ActorID),
		zap.String("target_id", targetID.String()),
		zap.String("role", role),
		zap.String("client_ip", clientIP),
		zap.String("severity", event.Severity),
	)
}

// LogRoleRemoval records a deleted role record at INFO level.
func (a *SecurityAuditor) LogRoleRemoval(ctx context.Context, targetID uuid.UUID, clientIP string) {
	event := a.event(ctx, EventRoleRemoved, targetID, clientIP, "info")

	a.logger.Info("Role removed",
		zap.String("event_json", marshal(event)),
		zap.String("actor_id", event.ActorID),
		zap.String("target_id", targetID.String()),
		zap.String("client_ip", clientIP),
		zap.String("severity", event.Severity),
	)
}

// LogRoleChangeRejected records a role change row security refused.
// Logged at WARN level: repeated rejections from one actor suggest privilege probing.
func (a *SecurityAuditor) LogRoleChangeRejected(ctx context.Context, targetID uuid.UUID, action, clientIP string) {
	event := a.event(ctx, EventRoleChangeRejected, targetID, clientIP, "warning")
	event.Details = map[string]string{"action": action}

	a.logger.Warn("Role change rejected",
		zap.String("event_json", marshal(event)),
		zap.String("actor_id", event.ActorID),
		zap.String("target_id", targetID.String()),
		zap.String("action", action),
		zap.String("client_ip", clientIP),
		zap.String("severity", event.Severity),
	)
}

func (a *SecurityAuditor) event(ctx context.Context, eventType SecurityEventType, targetID uuid.UUID, clientIP, severity string) SecurityEvent {
	var actorID string
	if id, ok := auth.GetIdentityIDFromContext(ctx); ok {
		actorID = id.String()
	}
	return SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		ActorID:   actorID,
		TargetID:  targetID,
		ClientIP:  clientIP,
		Severity:  severity,
	}
}

// marshal serializes an event for SIEM ingestion.
// Marshaling known types should never fail, so the error is ignored.
func marshal(event SecurityEvent) string {
	eventJSON, _ := json.Marshal(event)
	return string(eventJSON)
}
