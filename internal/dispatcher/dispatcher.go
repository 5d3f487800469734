// Package dispatcher schedules and executes delayed template sends using
// the gocron library. Each scheduled dispatch is an independent one-time
// job keyed by its fire time; dispatches are ephemeral and lost on restart.
package dispatcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

// Timeout applied to each template send when its dispatch fires.
const fireTimeout = 30 * time.Second

// TemplateSender executes the provider template send for a fired dispatch.
type TemplateSender interface {
	SendTemplate(ctx context.Context, to, template string) error
}

// Dispatch is one pending template send: the target conversation, the
// template to send, and the time at or after which it fires.
type Dispatch struct {
	To       string
	Template string
	FireAt   time.Time
}

// Handle identifies a scheduled dispatch. The ID is the underlying job id,
// so cancellation can be added later without changing this contract.
type Handle struct {
	ID uuid.UUID
	Dispatch
}

// Dispatcher manages delayed dispatches on a gocron scheduler.
type Dispatcher struct {
	scheduler gocron.Scheduler
	sender    TemplateSender
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
}

// New creates a dispatcher that fires dispatches through the given sender.
func New(logger *slog.Logger, sender TemplateSender) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if sender == nil {
		return nil, fmt.Errorf("template sender is required")
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Dispatcher{
		scheduler: s,
		sender:    sender,
		logger:    logger.With("component", "dispatcher"),
	}, nil
}

// Start begins executing scheduled dispatches. Dispatches scheduled before
// Start are held until it is called.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}
	d.scheduler.Start()
	d.running = true
	d.logger.Info("Dispatcher started")
}

// Schedule registers a dispatch to fire at or after its fire time. A zero
// or past fire time fires as soon as possible. Steps of one trigger are
// scheduled independently; nothing chains or waits on completion.
func (d *Dispatcher) Schedule(dispatch Dispatch) (Handle, error) {
	if dispatch.To == "" {
		return Handle{}, fmt.Errorf("dispatch target is required")
	}
	if dispatch.Template == "" {
		return Handle{}, fmt.Errorf("dispatch template is required")
	}
	if dispatch.FireAt.IsZero() {
		dispatch.FireAt = time.Now()
	}

	startAt := gocron.OneTimeJobStartDateTime(dispatch.FireAt)
	if !dispatch.FireAt.After(time.Now()) {
		startAt = gocron.OneTimeJobStartImmediately()
	}

	job, err := d.scheduler.NewJob(
		gocron.OneTimeJob(startAt),
		gocron.NewTask(d.fire, dispatch),
		gocron.WithName("dispatch:"+dispatch.Template),
	)
	if err != nil {
		return Handle{}, fmt.Errorf("failed to schedule dispatch: %w", err)
	}

	d.logger.Debug("Dispatch scheduled",
		"to", dispatch.To,
		"template", dispatch.Template,
		"fire_at", dispatch.FireAt)

	return Handle{ID: job.ID(), Dispatch: dispatch}, nil
}

// fire executes one dispatch. Send failures are logged and the dispatch
// discarded; there is no retry.
func (d *Dispatcher) fire(dispatch Dispatch) {
	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()

	startTime := time.Now()
	d.logger.Info("Firing dispatch", "to", dispatch.To, "template", dispatch.Template)

	if err := d.sender.SendTemplate(ctx, dispatch.To, dispatch.Template); err != nil {
		d.logger.Error("Dispatch failed, discarding",
			"to", dispatch.To,
			"template", dispatch.Template,
			"error", err)
		return
	}

	d.logger.Info("Dispatch completed",
		"to", dispatch.To,
		"template", dispatch.Template,
		"duration", time.Since(startTime))
}

// Stop shuts the scheduler down, waiting for in-flight dispatches to
// finish. Unfired dispatches are lost.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}

	err := d.scheduler.Shutdown()
	if err != nil {
		d.logger.Error("Error during dispatcher shutdown", "error", err)
	} else {
		d.logger.Info("Dispatcher stopped gracefully.")
	}
	d.running = false
	return err
}
