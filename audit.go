package authgate

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Audit event types.
const (
	AuditLoginSuccess         = "login_success"
	AuditLoginFailure         = "login_failure"
	AuditLoginBlocked         = "login_blocked"
	AuditAccountLocked        = "account_locked"
	AuditSecondFactorRequired = "second_factor_required"
	AuditAnomalousOrigin      = "anomalous_origin"
	AuditSessionIssued        = "session_issued"
	AuditSessionEvicted       = "session_evicted"
	AuditRefresh              = "refresh"
	AuditLogout               = "logout"
	AuditLogoutDevice         = "logout_device"
	AuditLogoutAll            = "logout_all"
)

// AuditEvent is one security-relevant fact.
type AuditEvent struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	EventType   string            `json:"event_type"`
	PrincipalID string            `json:"principal_id,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	DeviceID    string            `json:"device_id,omitempty"`
	IP          string            `json:"ip,omitempty"`
	Success     bool              `json:"success"`
	Error       string            `json:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives events from the audit dispatcher goroutine.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink forwards events to a channel. Useful in tests.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan AuditEvent, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON document per line. Encoding errors drop the
// event.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	if w == nil {
		return &JSONWriterSink{}
	}
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Emit(_ context.Context, event AuditEvent) {
	if s == nil || s.enc == nil {
		return
	}
	s.mu.Lock()
	_ = s.enc.Encode(event)
	s.mu.Unlock()
}

// SlogSink logs events at info level.
type SlogSink struct {
	Logger *slog.Logger
}

func (s SlogSink) Emit(ctx context.Context, event AuditEvent) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "audit",
		slog.String("event_type", event.EventType),
		slog.String("principal_id", event.PrincipalID),
		slog.String("session_id", event.SessionID),
		slog.String("device_id", event.DeviceID),
		slog.String("ip", event.IP),
		slog.Bool("success", event.Success),
		slog.String("error", event.Error),
	)
}
