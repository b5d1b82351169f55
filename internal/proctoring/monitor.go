package proctoring

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/SAP-F-2025/tryout-runtime/internal/models"
	"github.com/SAP-F-2025/tryout-runtime/internal/oneshot"
	"github.com/jonboulle/clockwork"
)

// Analyzer submits one captured frame to the analyze-face endpoint.
type Analyzer interface {
	AnalyzeFace(ctx context.Context, sessionID string, frame []byte) (*models.AnalysisResult, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, sessionID string, frame []byte) (*models.AnalysisResult, error)

func (f AnalyzerFunc) AnalyzeFace(ctx context.Context, sessionID string, frame []byte) (*models.AnalysisResult, error) {
	return f(ctx, sessionID, frame)
}

// Alert is the blocking notice shown when a HIGH severity violation arrives.
type Alert struct {
	Level    int    `json:"level"`
	MaxLevel int    `json:"maxLevel"`
	Message  string `json:"message"`
}

func (a Alert) String() string {
	return fmt.Sprintf("Warning %d/%d: %s", a.Level, a.MaxLevel, a.Message)
}

// State is a copy of the escalation state safe to hand to renderers.
type State struct {
	Violations        []models.Violation `json:"violations"`
	WarningLevel      int                `json:"warningLevel"`
	MaxWarningLevel   int                `json:"maxWarningLevel"`
	TotalViolations   int                `json:"totalViolations"`
	HighSeverityCount int                `json:"highSeverityCount"`
	IsMonitoring      bool               `json:"isMonitoring"`
	Cancelled         bool               `json:"cancelled"`
	LastAlert         *Alert             `json:"lastAlert,omitempty"`
}

type Config struct {
	SessionID string

	OnLevelChanged func(level int)
	OnAlert        func(alert Alert)
	// OnCancelled fires exactly once when the attempt reaches the terminal
	// CANCELLED state.
	OnCancelled func()
	// OnViolation is called for every recorded violation, in order.
	OnViolation func(v models.Violation)

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Monitor accumulates violations for one exam attempt and escalates the
// warning level reported by the server until the attempt is cancelled.
type Monitor struct {
	cfg    Config
	clock  clockwork.Clock
	logger *slog.Logger

	mu                sync.Mutex
	violations        []models.Violation
	warningLevel      int
	highSeverityCount int
	isMonitoring      bool
	lastAlert         *Alert

	cancelled oneshot.Latch
}

func NewMonitor(cfg Config) *Monitor {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Monitor{
		cfg:    cfg,
		clock:  cfg.Clock,
		logger: cfg.Logger.With("session_id", cfg.SessionID),
	}
}

// StartMonitoring marks webcam capture as running.
func (m *Monitor) StartMonitoring() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelled.Fired() {
		return
	}
	m.isMonitoring = true
}

func (m *Monitor) StopMonitoring() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isMonitoring = false
}

// Analyze sends a frame to the analyzer and applies the result. Analyzer
// failures are logged and swallowed: proctoring never interrupts the exam.
func (m *Monitor) Analyze(ctx context.Context, frame []byte, analyzer Analyzer) {
	if m.Cancelled() {
		return
	}

	result, err := analyzer.AnalyzeFace(ctx, m.cfg.SessionID, frame)
	if err != nil {
		m.logger.Warn("Face analysis failed", "error", err)
		return
	}
	if result == nil {
		return
	}
	m.Apply(*result)
}

// Apply runs the escalation transition for one analysis result. Results
// arriving after cancellation are ignored.
func (m *Monitor) Apply(result models.AnalysisResult) {
	m.mu.Lock()
	if m.cancelled.Fired() {
		m.mu.Unlock()
		m.logger.Debug("Ignoring analysis result after cancellation")
		return
	}

	now := m.clock.Now()
	recorded := make([]models.Violation, 0, len(result.Violations))
	var firstHigh *models.Violation
	for _, v := range result.Violations {
		if v.Timestamp.IsZero() {
			v.Timestamp = now
		}
		m.violations = append(m.violations, v)
		recorded = append(recorded, v)
		if v.Severity == models.SeverityHigh {
			m.highSeverityCount++
			if firstHigh == nil {
				first := v
				firstHigh = &first
			}
		}
	}

	levelChanged := false
	if result.WarningLevel != nil {
		level := clampLevel(*result.WarningLevel)
		// mirror the server, but the level never goes back down within an attempt
		if level > m.warningLevel {
			m.warningLevel = level
		}
		levelChanged = true
	}
	level := m.warningLevel

	var alert *Alert
	if firstHigh != nil {
		message := result.Message
		if message == "" {
			message = firstHigh.Message
		}
		alert = &Alert{Level: level, MaxLevel: models.MaxWarningLevel, Message: message}
		m.lastAlert = alert
	}

	shouldCancel := result.ShouldCancel || level >= models.MaxWarningLevel
	if shouldCancel {
		m.isMonitoring = false
	}
	m.mu.Unlock()

	for _, v := range recorded {
		if m.cfg.OnViolation != nil {
			m.cfg.OnViolation(v)
		}
	}
	if levelChanged {
		m.logger.Info("Warning level updated", "warning_level", level)
		if m.cfg.OnLevelChanged != nil {
			m.cfg.OnLevelChanged(level)
		}
	}
	if alert != nil {
		m.logger.Warn("High severity violation", "warning_level", level, "message", alert.Message)
		if m.cfg.OnAlert != nil {
			m.cfg.OnAlert(*alert)
		}
	}
	if shouldCancel {
		if m.cancelled.Fire(m.cfg.OnCancelled) {
			m.logger.Warn("Attempt cancelled by proctoring", "warning_level", level)
		}
	}
}

func (m *Monitor) Cancelled() bool {
	return m.cancelled.Fired()
}

func (m *Monitor) WarningLevel() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.warningLevel
}

func (m *Monitor) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	violations := make([]models.Violation, len(m.violations))
	copy(violations, m.violations)

	var alert *Alert
	if m.lastAlert != nil {
		a := *m.lastAlert
		alert = &a
	}

	return State{
		Violations:        violations,
		WarningLevel:      m.warningLevel,
		MaxWarningLevel:   models.MaxWarningLevel,
		TotalViolations:   len(m.violations),
		HighSeverityCount: m.highSeverityCount,
		IsMonitoring:      m.isMonitoring,
		Cancelled:         m.cancelled.Fired(),
		LastAlert:         alert,
	}
}

func clampLevel(level int) int {
	if level < 0 {
		return 0
	}
	if level > models.MaxWarningLevel {
		return models.MaxWarningLevel
	}
	return level
}
