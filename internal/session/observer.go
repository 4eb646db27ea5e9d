package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MeKo-Tech/arenacal/internal/compose"
)

// Stage names a step of the calibration workflow.
type Stage string

// Workflow stages reported to observers.
const (
	StageLoad     Stage = "load"
	StageExtract  Stage = "extract"
	StageMatch    Stage = "match"
	StageEstimate Stage = "estimate"
	StageCompose  Stage = "compose"
	StageCorners  Stage = "corners"
	StageSquare   Stage = "square"
	StageSave     Stage = "save"
)

// Observer receives synchronous notifications at stage boundaries. Callbacks
// run on the goroutine doing the work and must not block for long.
type Observer interface {
	// OnStage is called when a stage begins.
	OnStage(stage Stage)

	// OnStatus reports a human readable status line for a stage.
	OnStatus(stage Stage, message string)

	// OnError is called when a stage fails.
	OnError(stage Stage, err error)

	// OnStitched is called after a new panorama has been published.
	OnStitched(p *compose.Panorama)
}

// NoOpObserver implements Observer but does nothing.
type NoOpObserver struct{}

func (NoOpObserver) OnStage(Stage)                {}
func (NoOpObserver) OnStatus(Stage, string)       {}
func (NoOpObserver) OnError(Stage, error)         {}
func (NoOpObserver) OnStitched(*compose.Panorama) {}

// LogObserver logs workflow events using slog.
type LogObserver struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogObserver creates a log-based observer. A nil logger uses slog.Default().
func NewLogObserver(logger *slog.Logger, level slog.Level) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger, level: level}
}

func (l *LogObserver) OnStage(stage Stage) {
	l.logger.Log(context.Background(), l.level, "Stage started", "stage", stage)
}

func (l *LogObserver) OnStatus(stage Stage, message string) {
	l.logger.Log(context.Background(), l.level, message, "stage", stage)
}

func (l *LogObserver) OnError(stage Stage, err error) {
	l.logger.Log(context.Background(), slog.LevelError, "Stage failed", "stage", stage, "error", err)
}

func (l *LogObserver) OnStitched(p *compose.Panorama) {
	if p == nil {
		return
	}
	args := []any{"width", p.CanvasWidth(), "warp_scale", p.WarpScale}
	for _, t := range p.Timings {
		args = append(args, t.Name+"_ms", t.Duration.Milliseconds())
	}
	l.logger.Log(context.Background(), l.level, "Panorama stitched", args...)
}

// MultiObserver fans notifications out to several observers.
type MultiObserver struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewMultiObserver creates an observer that reports to all given observers.
func NewMultiObserver(observers ...Observer) *MultiObserver {
	return &MultiObserver{observers: observers}
}

// Add adds another observer.
func (m *MultiObserver) Add(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

func (m *MultiObserver) each(fn func(Observer)) {
	m.mu.RLock()
	obs := append([]Observer(nil), m.observers...)
	m.mu.RUnlock()
	for _, o := range obs {
		fn(o)
	}
}

func (m *MultiObserver) OnStage(stage Stage) {
	m.each(func(o Observer) { o.OnStage(stage) })
}

func (m *MultiObserver) OnStatus(stage Stage, message string) {
	m.each(func(o Observer) { o.OnStatus(stage, message) })
}

func (m *MultiObserver) OnError(stage Stage, err error) {
	m.each(func(o Observer) { o.OnError(stage, err) })
}

func (m *MultiObserver) OnStitched(p *compose.Panorama) {
	m.each(func(o Observer) { o.OnStitched(p) })
}
