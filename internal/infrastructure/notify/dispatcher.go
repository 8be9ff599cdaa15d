package notify

import (
	"context"
	"sync"
	"time"

	"academy-checkout/internal/domain"

	"github.com/rs/zerolog/log"
)

// Sender delivers one notification to the email collaborator.
type Sender interface {
	Send(ctx context.Context, n domain.Notification) error
}

// Dispatcher hands notifications off without blocking the caller.
type Dispatcher interface {
	Dispatch(n domain.Notification)
}

// AsyncDispatcher queues notifications and sends them from a single
// background goroutine. Failures are logged and dropped.
type AsyncDispatcher struct {
	sender  Sender
	queue   chan domain.Notification
	timeout time.Duration
	wg      sync.WaitGroup
	once    sync.Once
}

func NewAsyncDispatcher(sender Sender, buffer int) *AsyncDispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	d := &AsyncDispatcher{
		sender:  sender,
		queue:   make(chan domain.Notification, buffer),
		timeout: 5 * time.Second,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *AsyncDispatcher) Dispatch(n domain.Notification) {
	select {
	case d.queue <- n:
	default:
		log.Warn().
			Str("kind", string(n.Kind)).
			Str("order_number", n.Order.OrderNumber).
			Msg("notification queue full, dropping")
	}
}

func (d *AsyncDispatcher) run() {
	defer d.wg.Done()
	for n := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.sender.Send(ctx, n); err != nil {
			log.Error().Err(err).
				Str("kind", string(n.Kind)).
				Str("order_number", n.Order.OrderNumber).
				Msg("failed to send notification")
		}
		cancel()
	}
}

// Close stops accepting work and waits for the queue to drain or ctx to end.
// Dispatch must not be called after Close.
func (d *AsyncDispatcher) Close(ctx context.Context) error {
	d.once.Do(func() { close(d.queue) })
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogSender writes notifications to the log instead of a broker.
type LogSender struct{}

func (LogSender) Send(_ context.Context, n domain.Notification) error {
	log.Info().
		Str("kind", string(n.Kind)).
		Str("recipient", n.Recipient).
		Str("order_number", n.Order.OrderNumber).
		Str("status", string(n.Order.Status)).
		Msg("notification")
	return nil
}
