package scenario

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/tracekit/tracetest/internal/emitter"
	"github.com/tracekit/tracetest/internal/rendezvous"
	"github.com/tracekit/tracetest/internal/tracing"
)

func init() {
	Register(&Scenario{
		Name:          "destroy-no-rotation",
		Description:   "destroying a session without a prior rotation reports no archive location",
		TestCount:     3,
		NeedsSessiond: true,
		Run:           runDestroyNoRotation,
	})
	Register(&Scenario{
		Name:          "destroy-archive-location",
		Description:   "destroying a session after a completed rotation reports the archive location",
		TestCount:     6,
		NeedsSessiond: true,
		Run:           runDestroyArchiveLocation,
	})
	Register(&Scenario{
		Name:        "emitter-event-count",
		Description: "the event emitter fires the configured number of events plus a distinct final one",
		TestCount:   3,
		Run:         runEmitterEventCount,
	})
}

func runDestroyNoRotation(ctx context.Context, sc *Context) error {
	client := sc.Env.Client()

	var session *tracing.Session
	sc.Report.Case("create tracing session", func() error {
		var err error
		session, err = client.CreateSession("")
		return err
	})

	var result tracing.DestroyResult
	sc.Report.Case("destroy tracing session", func() error {
		if session == nil {
			return fmt.Errorf("no session to destroy")
		}
		var err error
		result, err = session.Destroy()
		return err
	})

	sc.Report.Case("no archive location without rotation", func() error {
		if result.ArchiveLocation != "" {
			return fmt.Errorf("unexpected archive location %q", result.ArchiveLocation)
		}
		return nil
	})
	return nil
}

func runDestroyArchiveLocation(ctx context.Context, sc *Context) error {
	client := sc.Env.Client()

	var session *tracing.Session
	sc.Report.Case("create tracing session", func() error {
		var err error
		session, err = client.CreateSession("")
		return err
	})
	if session == nil {
		return fmt.Errorf("session creation failed")
	}

	sc.Report.Case("start tracing session", session.Start)
	sc.Report.Case("rotate session archive", session.Rotate)
	sc.Report.Case("rotation completes", func() error {
		waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return session.AwaitRotationCompletion(waitCtx)
	})
	sc.Report.Case("stop tracing session", session.Stop)

	sc.Report.Case("destroy reports archive location", func() error {
		result, err := session.Destroy()
		if err != nil {
			return err
		}
		if result.ArchiveLocation == "" {
			return fmt.Errorf("archive location missing from output")
		}
		return nil
	})
	return nil
}

// recordingSink captures emitted events for the in-process emitter
// scenario.
type recordingSink struct {
	mu     sync.Mutex
	events []emitter.Event
}

func (s *recordingSink) Emit(_ context.Context, ev emitter.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func runEmitterEventCount(ctx context.Context, sc *Context) error {
	rundir := sc.Env.Rundir()
	pair, err := rendezvous.New(
		filepath.Join(rundir, "emitter.ready"),
		filepath.Join(rundir, "emitter.go"),
	)
	if err != nil {
		return err
	}
	pair.PollInterval = 5 * time.Millisecond

	sink := &recordingSink{}
	em, err := emitter.New(emitter.Config{
		Iterations:      3,
		Wait:            5 * time.Millisecond,
		FireSecondEvent: true,
		Sync:            pair,
	}, sink, nil)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- em.Run(ctx) }()

	// Controller half of the handshake: release the emitter once it is
	// standing by, then reap the go marker.
	if err := pair.AwaitReady(ctx); err != nil {
		return err
	}
	if err := pair.SignalGo(); err != nil {
		return err
	}
	if err := <-done; err != nil {
		return err
	}
	if err := pair.RemoveGo(); err != nil {
		return err
	}

	events := sink.events
	sc.Report.Case("emitter fires configured event count", func() error {
		if len(events) != 4 {
			return fmt.Errorf("expected 4 events, got %d", len(events))
		}
		return nil
	})
	sc.Report.Case("primary events precede the final event", func() error {
		for i := 0; i < len(events)-1; i++ {
			if events[i].Name != emitter.PrimaryEventName {
				return fmt.Errorf("event %d is %q, want %q", i, events[i].Name, emitter.PrimaryEventName)
			}
		}
		return nil
	})
	sc.Report.Case("final event uses the distinct name", func() error {
		if len(events) == 0 {
			return fmt.Errorf("no events emitted")
		}
		last := events[len(events)-1]
		if last.Name != emitter.SecondEventName {
			return fmt.Errorf("final event is %q, want %q", last.Name, emitter.SecondEventName)
		}
		return nil
	})
	return nil
}
