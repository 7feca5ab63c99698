package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrQueueFull is returned when a delivery cannot be enqueued because
// the buffer is at capacity.
var ErrQueueFull = errors.New("delivery queue full")

// ErrStopped is returned when a delivery arrives after shutdown began.
var ErrStopped = errors.New("dispatcher stopped")

const (
	defaultWorkers = 2
	defaultBuffer  = 100
	maxAttempts    = 3
	retryDelay     = 2 * time.Second
)

type delivery struct {
	phoneNumber string
	code        string
}

// Dispatcher queues verification-code deliveries and sends them from a
// worker pool, so a slow bot API call never blocks code issuance.
// Implements devauth.CodeTransport.
type Dispatcher struct {
	sender  Sender
	chatID  int64
	workers int
	log     zerolog.Logger

	jobs     chan delivery
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewDispatcher creates a dispatcher targeting the given delivery chat.
func NewDispatcher(sender Sender, chatID int64, workers int, baseLogger *zerolog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Dispatcher{
		sender:  sender,
		chatID:  chatID,
		workers: workers,
		log:     baseLogger.With().Str("component", "tg_dispatcher").Logger(),
		jobs:    make(chan delivery, defaultBuffer),
		stopped: make(chan struct{}),
	}
}

// Start launches the worker pool. Workers drain the queue until Stop
// is called or ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.log.Info().Int("workers", d.workers).Msg("Starting delivery workers")
	for w := 1; w <= d.workers; w++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			log := d.log.With().Int("worker_id", id).Logger()
			log.Info().Msg("Starting delivery worker")
			for {
				select {
				case <-ctx.Done():
					log.Info().Msg("Stopping delivery worker (context done)")
					return
				case <-d.stopped:
					log.Info().Msg("Stopping delivery worker (dispatcher stopped)")
					return
				case job := <-d.jobs:
					d.send(ctx, log, job)
				}
			}
		}(w)
	}
}

// Stop shuts the dispatcher down and waits for in-flight sends.
// Queued but unstarted deliveries are dropped; the codes stay
// confirmable until their TTL, the user just never receives them.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopped) })
	d.wg.Wait()
	d.log.Info().Msg("Dispatcher stopped")
}

// DeliverCode enqueues one code for delivery. Returns immediately;
// the actual send happens on a worker.
func (d *Dispatcher) DeliverCode(ctx context.Context, phoneNumber, code string) error {
	select {
	case <-d.stopped:
		return ErrStopped
	default:
	}

	select {
	case d.jobs <- delivery{phoneNumber: phoneNumber, code: code}:
		return nil
	default:
		d.log.Warn().Str("phone_number", phoneNumber).Msg("Delivery queue full, dropping code")
		return ErrQueueFull
	}
}

// send pushes one delivery through the bot API with bounded retries.
func (d *Dispatcher) send(ctx context.Context, log zerolog.Logger, job delivery) {
	text := fmt.Sprintf("ChatWeb verification code for %s: %s", job.phoneNumber, job.code)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lastErr = d.sender.SendText(ctx, d.chatID, text); lastErr == nil {
			log.Info().Str("phone_number", job.phoneNumber).Msg("Verification code delivered")
			return
		}
		log.Warn().Err(lastErr).Int("attempt", attempt).Msg("Delivery attempt failed")
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-d.stopped:
			return
		case <-time.After(retryDelay):
		}
	}
	log.Error().Err(lastErr).Str("phone_number", job.phoneNumber).Msg("Giving up on delivery")
}
