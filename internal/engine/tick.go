// Package engine provides the tick-based simulation loop.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Engine drives the simulation forward one round per tick.
type Engine struct {
	Tick        uint64        // Next tick to run (starts at 0, monotonic)
	Interval    time.Duration // Base tick interval in continuous mode
	ReportEvery uint64        // OnReport cadence in ticks, 0 disables

	// Callbacks populated during setup.
	OnTick   func(tick uint64) // Every round
	OnReport func(tick uint64) // After every ReportEvery rounds

	mu      sync.Mutex
	speed   float64 // 1.0 = real-time, 0 = paused
	running bool
	stop    chan struct{}
}

// NewEngine creates a simulation engine with default settings.
func NewEngine() *Engine {
	return &Engine{
		Interval:    time.Second,
		ReportEvery: 10,
		speed:       1.0,
	}
}

// Speed returns the current speed multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the speed multiplier. Zero or negative pauses the loop.
func (e *Engine) SetSpeed(speed float64) {
	e.mu.Lock()
	e.speed = speed
	e.mu.Unlock()
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Step runs the round for the current tick and then advances the counter.
func (e *Engine) Step() {
	tick := e.Tick

	if e.OnTick != nil {
		e.OnTick(tick)
	}

	if e.ReportEvery > 0 && (tick+1)%e.ReportEvery == 0 && e.OnReport != nil {
		e.OnReport(tick)
	}

	e.Tick++
}

// RunTicks runs n rounds back to back, ignoring Interval and Speed.
// Returns the context error if cancelled between rounds.
func (e *Engine) RunTicks(ctx context.Context, n uint64) error {
	slog.Info("batch run started", "from_tick", e.Tick, "ticks", n)
	for i := uint64(0); i < n; i++ {
		if err := ctx.Err(); err != nil {
			slog.Info("batch run cancelled", "tick", e.Tick)
			return err
		}
		e.Step()
	}
	slog.Info("batch run finished", "tick", e.Tick)
	return nil
}

// Run starts the continuous simulation loop. Blocks until Stop is called or
// ctx is done.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	e.running = true
	e.stop = make(chan struct{})
	stop := e.stop
	e.mu.Unlock()

	slog.Info("simulation engine started", "tick", e.Tick, "speed", e.Speed())

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		slog.Info("simulation engine stopped", "tick", e.Tick)
	}()

	for {
		speed := e.Speed()
		if speed <= 0 {
			// Paused, check again shortly.
			if !e.sleep(ctx, stop, 100*time.Millisecond) {
				return
			}
			continue
		}

		start := time.Now()
		e.Step()

		// Sleep for the remainder of the tick interval, adjusted for speed.
		target := time.Duration(float64(e.Interval) / speed)
		if wait := target - time.Since(start); wait > 0 {
			if !e.sleep(ctx, stop, wait) {
				return
			}
		} else if ctx.Err() != nil {
			return
		} else {
			select {
			case <-stop:
				return
			default:
			}
		}
	}
}

// sleep waits for d and reports false if the loop should exit instead.
func (e *Engine) sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}

// Stop halts the simulation loop.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running && e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
}
