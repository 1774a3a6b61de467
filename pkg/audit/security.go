// Package audit provides security audit logging for SIEM consumption.
// Events are logged as structured JSON under the "security_audit" logger
// so they can be filtered and alerted on separately from request logs.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/farmer-power/collection-engine/pkg/models"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventInjectionAttempt is logged when libinjection flags a search value.
	EventInjectionAttempt SecurityEventType = "injection_attempt"
	// EventAuthFailure is logged when a producer token is missing or invalid.
	EventAuthFailure SecurityEventType = "auth_failure"
	// EventSourceDenied is logged when a valid token is not granted the source type.
	EventSourceDenied SecurityEventType = "source_denied"
)

// SecurityEvent is one auditable event.
type SecurityEvent struct {
	Timestamp  time.Time         `json:"timestamp"`
	EventType  SecurityEventType `json:"event_type"`
	Producer   string            `json:"producer,omitempty"`
	SourceType string            `json:"source_type,omitempty"`
	ClientIP   string            `json:"client_ip,omitempty"`
	Details    any               `json:"details,omitempty"`
	Severity   string            `json:"severity"` // info, warning, critical
}

// InjectionDetails describes a flagged value. The value itself is not
// recorded; the fingerprint is enough for pattern analysis.
type InjectionDetails struct {
	Surface     string `json:"surface"` // e.g. "search"
	ParamName   string `json:"param_name"`
	Class       string `json:"class"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// SecurityAuditor logs security events.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates an auditor logging under the "security_audit" name.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogInjectionAttempt records a value rejected by the injection check. The
// producer, if any, is taken from the request provenance.
func (a *SecurityAuditor) LogInjectionAttempt(ctx context.Context, details InjectionDetails) {
	a.emit(zap.ErrorLevel, "Injection attempt detected", SecurityEvent{
		EventType: EventInjectionAttempt,
		Producer:  models.GetProvenance(ctx).Producer,
		Details:   details,
		Severity:  "critical",
	},
		zap.String("surface", details.Surface),
		zap.String("param_name", details.ParamName),
		zap.String("class", details.Class),
		zap.String("fingerprint", details.Fingerprint))
}

// LogAuthFailure records a rejected producer token.
func (a *SecurityAuditor) LogAuthFailure(reason, clientIP, path string) {
	a.emit(zap.WarnLevel, "Producer authentication failed", SecurityEvent{
		EventType: EventAuthFailure,
		ClientIP:  clientIP,
		Details:   map[string]string{"reason": reason, "path": path},
		Severity:  "warning",
	}, zap.String("reason", reason), zap.String("path", path))
}

// LogSourceDenied records a producer submitting a source type its token
// does not grant.
func (a *SecurityAuditor) LogSourceDenied(producer, sourceType, clientIP string) {
	a.emit(zap.WarnLevel, "Producer denied for source type", SecurityEvent{
		EventType:  EventSourceDenied,
		Producer:   producer,
		SourceType: sourceType,
		ClientIP:   clientIP,
		Severity:   "warning",
	})
}

func (a *SecurityAuditor) emit(level zapcore.Level, msg string, event SecurityEvent, extra ...zap.Field) {
	event.Timestamp = time.Now().UTC()
	// Marshaling known types cannot fail.
	eventJSON, _ := json.Marshal(event)

	fields := append([]zap.Field{
		zap.String("event_json", string(eventJSON)),
		zap.String("event_type", string(event.EventType)),
		zap.String("producer", event.Producer),
		zap.String("source_type", event.SourceType),
		zap.String("client_ip", event.ClientIP),
		zap.String("severity", event.Severity),
	}, extra...)

	if ce := a.logger.Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}
