// Package emitter generates a deterministic, parameterized burst of log
// events for regression scripts to observe through the tracing pipeline.
package emitter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/tracekit/tracetest/internal/rendezvous"
)

// Event names recorded by the emitter. The second event is distinctly named
// so that scripts can assert on its presence independently of the primary
// burst.
const (
	PrimaryEventName = "tracetest-ev-test1"
	SecondEventName  = "tracetest-ev-test2"
)

// Severity is the level an event is recorded at.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityDebug Severity = "DEBUG"
)

// Event is one emitted log event.
type Event struct {
	Name      string
	Severity  Severity
	Message   string
	Iteration int
}

// Sink receives emitted events. The production sink forwards them to the
// logging subsystem; tests install a recording sink.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// SlogSink records events through a slog logger.
type SlogSink struct {
	Logger *slog.Logger
}

func (s *SlogSink) Emit(_ context.Context, ev Event) error {
	level := slog.LevelInfo
	if ev.Severity == SeverityDebug {
		level = slog.LevelDebug
	}
	s.Logger.Log(context.Background(), level, ev.Message,
		"event", ev.Name,
		"iteration", ev.Iteration,
	)
	return nil
}

// ConfigError indicates invalid emitter options. It is surfaced before any
// side effect.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("emitter configuration: %s", e.Message)
}

// Config parameterizes one emission run.
type Config struct {
	// Iterations is the number of primary events to emit.
	Iterations int

	// Wait is the delay after each primary event.
	Wait time.Duration

	// FireDebugEvent also emits a debug-level companion alongside each
	// primary event.
	FireDebugEvent bool

	// FireSecondEvent emits one additional, distinctly named event after
	// the loop completes.
	FireSecondEvent bool

	// Sync is the optional ready/go handshake performed before the loop
	// begins. The zero value disables synchronization.
	Sync rendezvous.Pair

	// AfterFirstEventPath, when set, is touched once the first primary
	// event has been emitted, letting a controller know tracing is
	// observably live.
	AfterFirstEventPath string
}

// Validate checks the configuration without performing side effects.
func (c Config) Validate() error {
	if c.Iterations < 0 {
		return &ConfigError{Message: "iteration count must not be negative"}
	}
	if c.Wait < 0 {
		return &ConfigError{Message: "inter-event wait must not be negative"}
	}
	if (c.Sync.ReadyPath == "") != (c.Sync.GoPath == "") {
		return &ConfigError{Message: "ready and go marker paths must be supplied together"}
	}
	return nil
}

// Emitter runs one configured emission.
type Emitter struct {
	cfg  Config
	sink Sink
	log  *slog.Logger
}

// New validates cfg and builds an emitter delivering events to sink. A nil
// sink logs events through logger; a nil logger discards diagnostics.
func New(cfg Config, sink Sink, logger *slog.Logger) (*Emitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if sink == nil {
		sink = &SlogSink{Logger: logger}
	}
	return &Emitter{cfg: cfg, sink: sink, log: logger}, nil
}

// Run performs the handshake (if configured), emits the event burst, then
// removes the ready marker. Marker preconditions are checked before any
// event fires.
func (e *Emitter) Run(ctx context.Context) error {
	if err := e.cfg.Sync.CheckPreconditions(); err != nil {
		return err
	}

	if err := e.cfg.Sync.SignalReady(); err != nil {
		return err
	}
	if err := e.cfg.Sync.AwaitGo(ctx); err != nil {
		return err
	}

	if err := e.emitAll(ctx); err != nil {
		return err
	}

	if err := e.cfg.Sync.Cleanup(); err != nil {
		// The emission work is already done; report the cleanup failure
		// without pretending the events never fired.
		e.log.Warn("failed to remove ready marker", "error", err)
		return err
	}
	return nil
}

func (e *Emitter) emitAll(ctx context.Context) error {
	firstEventSignaled := false

	for i := 0; i < e.cfg.Iterations; i++ {
		ev := Event{
			Name:      PrimaryEventName,
			Severity:  SeverityInfo,
			Message:   fmt.Sprintf("%s fired [INFO]", PrimaryEventName),
			Iteration: i,
		}
		if err := e.sink.Emit(ctx, ev); err != nil {
			return fmt.Errorf("emitting primary event %d: %w", i, err)
		}

		if e.cfg.FireDebugEvent {
			ev := Event{
				Name:      PrimaryEventName,
				Severity:  SeverityDebug,
				Message:   fmt.Sprintf("%s fired [DEBUG]", PrimaryEventName),
				Iteration: i,
			}
			if err := e.sink.Emit(ctx, ev); err != nil {
				return fmt.Errorf("emitting debug event %d: %w", i, err)
			}
		}

		if e.cfg.AfterFirstEventPath != "" && !firstEventSignaled {
			if err := touchFile(e.cfg.AfterFirstEventPath); err != nil {
				return fmt.Errorf("creating after-first-event marker: %w", err)
			}
			firstEventSignaled = true
		}

		if e.cfg.Wait > 0 {
			if err := sleepCtx(ctx, e.cfg.Wait); err != nil {
				return err
			}
		}
	}

	if e.cfg.FireSecondEvent {
		ev := Event{
			Name:     SecondEventName,
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("%s fired [INFO]", SecondEventName),
		}
		if err := e.sink.Emit(ctx, ev); err != nil {
			return fmt.Errorf("emitting second event: %w", err)
		}
	}
	return nil
}

func touchFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	return f.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
