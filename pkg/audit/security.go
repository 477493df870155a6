package audit

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/models"
	sqlutil "github.com/ekaya-inc/ekaya-sqlbot/pkg/sql"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a parameter value.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventParameterValidation is logged when required parameters are missing.
	EventParameterValidation SecurityEventType = "parameter_validation_failure"
)

// SecurityEvent is the JSON document embedded in every security log line
// for SIEM ingestion.
type SecurityEvent struct {
	Timestamp     time.Time         `json:"timestamp"`
	EventType     SecurityEventType `json:"event_type"`
	CorrelationID string            `json:"correlation_id"`
	Interface     string            `json:"interface"`
	UserID        string            `json:"user_id,omitempty"`
	QueryName     string            `json:"query_name"`
	Details       any               `json:"details"`
	Severity      string            `json:"severity"` // info, warning, critical
}

// SQLInjectionDetails contains specifics of a flagged parameter value.
type SQLInjectionDetails struct {
	ParamName   string `json:"param_name"`
	ParamValue  string `json:"param_value"`
	Fingerprint string `json:"fingerprint"`
}

// SecurityAuditor logs security events under the "security_audit" logger.
// It never blocks execution: values are always bound as driver parameters.
type SecurityAuditor struct {
	logger *zap.Logger
}

func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// ScreenParameters runs injection heuristics over every parameter value and
// logs each hit. Returns the number of flagged values.
func (a *SecurityAuditor) ScreenParameters(ec models.ExecutionContext, queryName string, params map[string]string) int {
	hits := sqlutil.CheckAllParameters(params)
	for _, hit := range hits {
		a.LogInjectionAttempt(ec, queryName, SQLInjectionDetails{
			ParamName:   hit.ParamName,
			ParamValue:  hit.ParamValue,
			Fingerprint: hit.Fingerprint,
		})
	}
	return len(hits)
}

// LogInjectionAttempt records a flagged parameter value at ERROR level with
// "critical" severity.
func (a *SecurityAuditor) LogInjectionAttempt(ec models.ExecutionContext, queryName string, details SQLInjectionDetails) {
	event := a.newEvent(ec, EventSQLInjectionAttempt, queryName, details, "critical")

	// Marshaling known types cannot fail
	eventJSON, _ := json.Marshal(event)

	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", string(eventJSON)),
		zap.String("correlation_id", ec.CorrelationID),
		zap.String("interface", ec.Interface),
		zap.String("user_id", ec.UserID),
		zap.String("query_name", queryName),
		zap.String("param_name", details.ParamName),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("severity", event.Severity),
	)
}

// LogParameterValidation records a validation failure at WARN level; these
// are usually user mistakes rather than attacks.
func (a *SecurityAuditor) LogParameterValidation(ec models.ExecutionContext, queryName, errorMessage string) {
	event := a.newEvent(ec, EventParameterValidation, queryName, map[string]string{"error": errorMessage}, "warning")
	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("Parameter validation failed",
		zap.String("event_json", string(eventJSON)),
		zap.String("correlation_id", ec.CorrelationID),
		zap.String("interface", ec.Interface),
		zap.String("user_id", ec.UserID),
		zap.String("query_name", queryName),
		zap.String("error", errorMessage),
		zap.String("severity", event.Severity),
	)
}

func (a *SecurityAuditor) newEvent(ec models.ExecutionContext, eventType SecurityEventType, queryName string, details any, severity string) SecurityEvent {
	return SecurityEvent{
		Timestamp:     time.Now().UTC(),
		EventType:     eventType,
		CorrelationID: ec.CorrelationID,
		Interface:     ec.Interface,
		UserID:        ec.UserID,
		QueryName:     queryName,
		Details:       details,
		Severity:      severity,
	}
}
