// Package audit logs security-relevant events in structured JSON so they
// can be shipped to a SIEM alongside the regular application log.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SecurityEventType categorizes events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a search value.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventDatasourceSwitch is logged for every switch request, successful or not.
	EventDatasourceSwitch SecurityEventType = "datasource_switch"
	// EventPoolRetired is logged when an operator retires a superseded pool.
	EventPoolRetired SecurityEventType = "pool_retired"
)

// SecurityEvent is the JSON document emitted for every audited event.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventID   uuid.UUID         `json:"event_id"`
	EventType SecurityEventType `json:"event_type"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// SQLInjectionDetails describes a rejected search filter. The offending value
// itself is not recorded.
type SQLInjectionDetails struct {
	Table       string `json:"table"`
	Field       string `json:"field"`
	Fingerprint string `json:"fingerprint"`
}

// SwitchDetails describes a datasource switch request.
type SwitchDetails struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
	PoolID  string `json:"pool_id,omitempty"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type clientIPKey struct{}

// WithClientIP stores the caller's address for later audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIPFrom returns the address stored by WithClientIP.
func ClientIPFrom(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// SecurityAuditor writes security events. A nil *SecurityAuditor discards
// everything, so callers never need to check.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates an auditor logging under the "security_audit"
// namespace.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

func (a *SecurityAuditor) event(ctx context.Context, typ SecurityEventType, severity string, details any) (SecurityEvent, string) {
	ev := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventID:   uuid.New(),
		EventType: typ,
		ClientIP:  ClientIPFrom(ctx),
		Details:   details,
		Severity:  severity,
	}
	// Marshaling these known types cannot fail.
	raw, _ := json.Marshal(ev)
	return ev, string(raw)
}

// LogInjectionAttempt records a search filter rejected by libinjection.
// Logged at ERROR with "critical" severity.
func (a *SecurityAuditor) LogInjectionAttempt(ctx context.Context, details SQLInjectionDetails) {
	if a == nil {
		return
	}
	ev, raw := a.event(ctx, EventSQLInjectionAttempt, "critical", details)
	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", raw),
		zap.String("event_id", ev.EventID.String()),
		zap.String("table", details.Table),
		zap.String("field", details.Field),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("client_ip", ev.ClientIP),
		zap.String("severity", ev.Severity),
	)
}

// LogDatasourceSwitch records a switch request. Failed switches are
// warnings; successful ones are informational.
func (a *SecurityAuditor) LogDatasourceSwitch(ctx context.Context, details SwitchDetails) {
	if a == nil {
		return
	}
	severity := "info"
	if !details.Success {
		severity = "warning"
	}
	ev, raw := a.event(ctx, EventDatasourceSwitch, severity, details)

	fields := []zap.Field{
		zap.String("event_json", raw),
		zap.String("event_id", ev.EventID.String()),
		zap.String("from", details.From),
		zap.String("to", details.To),
		zap.Bool("success", details.Success),
		zap.String("client_ip", ev.ClientIP),
		zap.String("severity", severity),
	}
	if details.Success {
		a.logger.Info("Datasource switched", fields...)
	} else {
		a.logger.Warn("Datasource switch failed", fields...)
	}
}

// LogPoolRetired records an operator-requested pool retirement.
func (a *SecurityAuditor) LogPoolRetired(ctx context.Context, poolID string, err error) {
	if a == nil {
		return
	}
	details := map[string]string{"pool_id": poolID}
	if err != nil {
		details["error"] = err.Error()
	}
	ev, raw := a.event(ctx, EventPoolRetired, "info", details)
	a.logger.Info("Pool retirement requested",
		zap.String("event_json", raw),
		zap.String("event_id", ev.EventID.String()),
		zap.String("pool_id", poolID),
		zap.Bool("success", err == nil),
		zap.String("client_ip", ev.ClientIP),
	)
}
