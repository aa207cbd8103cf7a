// Package audit provides an append-only JSONL journal of every
// state-changing engine action.
package audit

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// EventType identifies the kind of audited action.
type EventType string

const (
	EventPlanCreated  EventType = "PLAN_CREATED"
	EventPlanApproved EventType = "PLAN_APPROVED"
	EventPlanRejected EventType = "PLAN_REJECTED"
	EventPlanExpired  EventType = "PLAN_EXPIRED"

	EventOrderPlaced   EventType = "ORDER_PLACED"
	EventOrderFailed   EventType = "ORDER_FAILED"
	EventPositionOpen  EventType = "POSITION_OPENED"
	EventPositionClose EventType = "POSITION_CLOSED"
	EventDCARound      EventType = "DCA_ROUND"
	EventPartialExit   EventType = "PARTIAL_EXIT"

	EventLockCreated  EventType = "LOCK_CREATED"
	EventLockReleased EventType = "LOCK_RELEASED"

	EventEnginePaused  EventType = "ENGINE_PAUSED"
	EventEngineResumed EventType = "ENGINE_RESUMED"
	EventEmergencyStop EventType = "EMERGENCY_STOP"
	EventHardBreach    EventType = "HARD_BREACH"
	EventControlAction EventType = "CONTROL_ACTION"
)

// Severity classifies an event for downstream filtering.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is a single journal entry.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	Severity  Severity               `json:"severity"`
	Actor     string                 `json:"actor,omitempty"`
	Symbol    string                 `json:"symbol,omitempty"`
	PlanID    string                 `json:"plan_id,omitempty"`
	OrderID   string                 `json:"order_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Success   bool                   `json:"success"`
	ErrorMsg  string                 `json:"error,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
}

// Logger appends events to a size-rotated JSONL file. Writes are
// serialized; a nil *Logger is safe to call and records nothing.
type Logger struct {
	writer    *lumberjack.Logger
	mu        sync.Mutex
	sessionID string
}

// Config holds journal file settings.
type Config struct {
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// DefaultConfig returns the default journal configuration.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		FilePath:   filepath.Join(home, ".config", "equity-engine", "audit", "audit.log"),
		MaxSize:    50,
		MaxBackups: 30,
		MaxAge:     365,
		Compress:   true,
	}
}

// NewLogger creates a new audit logger, creating the journal directory
// with restricted permissions.
func NewLogger(cfg Config) (*Logger, error) {
	if cfg.FilePath == "" {
		cfg = DefaultConfig()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	writer := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	return &Logger{
		writer:    writer,
		sessionID: generateSessionID(),
	}, nil
}

// Log appends one event to the journal.
func (l *Logger) Log(ctx context.Context, event Event) error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	event.Timestamp = time.Now().UTC()
	event.SessionID = l.sessionID
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serializing audit event: %w", err)
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	return nil
}

// LogPlan records a plan lifecycle transition.
func (l *Logger) LogPlan(ctx context.Context, eventType EventType, planID, symbol, actor string) error {
	return l.Log(ctx, Event{
		EventType: eventType,
		PlanID:    planID,
		Symbol:    symbol,
		Actor:     actor,
		Success:   true,
	})
}

// LogTrade records a position open or close.
func (l *Logger) LogTrade(ctx context.Context, eventType EventType, symbol, planID string, shares int, price, pnl float64, reason string) error {
	return l.Log(ctx, Event{
		EventType: eventType,
		Symbol:    symbol,
		PlanID:    planID,
		Success:   true,
		Details: map[string]interface{}{
			"shares": shares,
			"price":  price,
			"pnl":    pnl,
			"reason": reason,
		},
	})
}

// LogOrderFailure records a rejected or partially filled order.
func (l *Logger) LogOrderFailure(ctx context.Context, orderID, symbol, action string, err error) error {
	return l.Log(ctx, Event{
		EventType: EventOrderFailed,
		Severity:  SeverityWarning,
		OrderID:   orderID,
		Symbol:    symbol,
		Actor:     action,
		Success:   false,
		ErrorMsg:  err.Error(),
	})
}

// LogLock records a protective lock being created or released.
func (l *Logger) LogLock(ctx context.Context, eventType EventType, symbol, reason, actor string) error {
	return l.Log(ctx, Event{
		EventType: eventType,
		Severity:  SeverityWarning,
		Symbol:    symbol,
		Actor:     actor,
		Success:   true,
		Details:   map[string]interface{}{"reason": reason},
	})
}

// LogControl records a manual or automatic control action. Hard breaches
// and emergency stops are critical; the rest informational.
func (l *Logger) LogControl(ctx context.Context, eventType EventType, actor, detail string) error {
	severity := SeverityInfo
	if eventType == EventEmergencyStop || eventType == EventHardBreach {
		severity = SeverityCritical
	}
	return l.Log(ctx, Event{
		EventType: eventType,
		Severity:  severity,
		Actor:     actor,
		Success:   true,
		Details:   map[string]interface{}{"detail": detail},
	})
}

// Close flushes and closes the journal file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	return l.writer.Close()
}

func generateSessionID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}
