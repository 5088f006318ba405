package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DispatcherConfig sizes the worker pool.
type DispatcherConfig struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

// Dispatcher fans submitted messages out to a fixed pool of workers that call
// the Notifier. Submit never blocks; delivery errors are only logged.
type Dispatcher struct {
	notifier Notifier
	log      *zap.Logger
	cfg      DispatcherConfig

	mu      sync.RWMutex
	queue   chan Message
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewDispatcher constructs a Dispatcher. Call Start before submitting.
func NewDispatcher(notifier Notifier, log *zap.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 64
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	return &Dispatcher{
		notifier: notifier,
		log:      log,
		cfg:      cfg,
		queue:    make(chan Message, cfg.QueueSize),
	}
}

// Start launches the workers.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	d.log.Info("notification dispatcher started", zap.Int("workers", d.cfg.Workers))
}

// Submit queues msg for delivery. It returns false when the queue is full or
// the dispatcher is stopped; the message is dropped in that case.
func (d *Dispatcher) Submit(msg Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("notification dropped: dispatcher stopped", zap.String("booking_id", msg.BookingID))
		return false
	}
	select {
	case d.queue <- msg:
		return true
	default:
		d.log.Warn("notification dropped: queue full",
			zap.String("booking_id", msg.BookingID),
			zap.Int("queue_size", d.cfg.QueueSize),
		)
		return false
	}
}

// Stop stops accepting messages and waits for queued ones to be delivered or
// for ctx to expire.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.log.Info("notification dispatcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for msg := range d.queue {
		d.deliver(id, msg)
	}
}

func (d *Dispatcher) deliver(worker int, msg Message) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Error("notifier panicked", zap.Any("panic", p), zap.String("booking_id", msg.BookingID))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
	defer cancel()
	if err := d.notifier.Send(ctx, msg); err != nil {
		d.log.Error("notification delivery failed",
			zap.Int("worker", worker),
			zap.String("kind", string(msg.Kind)),
			zap.String("booking_id", msg.BookingID),
			zap.String("recipient", msg.Recipient),
			zap.Error(err),
		)
	}
}
