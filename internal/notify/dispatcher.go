package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tgpromo/promobot/internal/config"
	"github.com/tgpromo/promobot/internal/events"
)

const initialBackoff = 500 * time.Millisecond

// delivery is one notification to one recipient. An event can fan out to
// several deliveries; each retries and fails independently.
type delivery struct {
	recipientID int64
	text        string
}

// Dispatcher consumes reconciliation events from a bounded in-process queue
// and delivers notifications at-least-once, off the verification path. When
// the queue overflows, the oldest event is dropped with a warning:
// notifications are best-effort relative to ledger state.
type Dispatcher struct {
	cfg       *config.Config
	transport Transport
	webhook   Transport // optional admin mirror
	queue     chan events.Event
	log       *logrus.Entry
}

func NewDispatcher(cfg *config.Config, transport Transport) *Dispatcher {
	d := &Dispatcher{
		cfg:       cfg,
		transport: transport,
		queue:     make(chan events.Event, cfg.NotifyQueueSize),
		log:       logrus.WithField("component", "notify"),
	}
	if cfg.NotifyWebhookURL != "" {
		d.webhook = NewWebhookTransport(cfg.NotifyWebhookURL)
	}
	return d
}

// Publish enqueues an event without ever blocking the caller.
func (d *Dispatcher) Publish(event events.Event) {
	for {
		select {
		case d.queue <- event:
			return
		default:
		}

		select {
		case dropped := <-d.queue:
			d.log.Warnf("notification queue full, dropping oldest event %q", dropped.Type())
		default:
		}
	}
}

// Run consumes the queue until the context is cancelled, finishing the
// delivery in flight before returning.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case event := <-d.queue:
			d.dispatch(ctx, event)
		case <-ctx.Done():
			// Drain what is already queued, best-effort with a short grace.
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			for {
				select {
				case event := <-d.queue:
					d.dispatch(drainCtx, event)
				default:
					cancel()
					d.log.Info("dispatcher stopped")
					return
				}
			}
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, event events.Event) {
	for _, dl := range d.deliveries(event) {
		if err := d.deliver(ctx, dl); err != nil {
			d.log.Errorf(
				"permanent delivery failure for %q to %d after %d attempts: %v",
				event.Type(), dl.recipientID, d.cfg.NotifyMaxAttempts, err,
			)
		}
	}

	if d.webhook != nil {
		if err := d.webhook.Send(ctx, d.cfg.AdminID, fmt.Sprintf("event: %s", event.Type())); err != nil {
			d.log.Warnf("webhook mirror failed: %v", err)
		}
	}
}

// deliveries renders an event into its independent recipient messages.
// OrderCompleted fans out to the order owner and the administrator.
func (d *Dispatcher) deliveries(event events.Event) []delivery {
	switch e := event.(type) {
	case events.Joined:
		if e.OwnerID == 0 || e.OwnerID == e.UserID {
			return nil
		}
		who := e.Username
		if who == "" {
			who = fmt.Sprintf("user %d", e.UserID)
		}
		return []delivery{{
			recipientID: e.OwnerID,
			text:        fmt.Sprintf("New verified member in @%s: %s (+%d points credited)", e.ChannelUsername, who, e.Points),
		}}

	case events.Left:
		return []delivery{{
			recipientID: d.cfg.AdminID,
			text:        fmt.Sprintf("User %d left @%s, penalized %d points", e.UserID, e.ChannelUsername, e.Penalty),
		}}

	case events.Broadcast:
		ds := make([]delivery, 0, len(e.Recipients))
		for _, id := range e.Recipients {
			ds = append(ds, delivery{recipientID: id, text: e.Text})
		}
		return ds

	case events.OrderCompleted:
		ds := []delivery{{
			recipientID: d.cfg.AdminID,
			text:        fmt.Sprintf("Order %d completed: @%s reached %d members and was removed from listings", e.OrderID, e.ChannelUsername, e.Target),
		}}
		if e.OwnerID != 0 && e.OwnerID != d.cfg.AdminID {
			ds = append(ds, delivery{
				recipientID: e.OwnerID,
				text:        fmt.Sprintf("Your order for @%s is complete: %d verified members reached", e.ChannelUsername, e.Target),
			})
		}
		return ds

	default:
		d.log.Warnf("no deliveries for event type %q", event.Type())
		return nil
	}
}

// deliver retries with exponential backoff up to the configured attempts.
func (d *Dispatcher) deliver(ctx context.Context, dl delivery) error {
	backoff := initialBackoff

	var lastErr error
	for attempt := 1; attempt <= d.cfg.NotifyMaxAttempts; attempt++ {
		if lastErr = d.transport.Send(ctx, dl.recipientID, dl.text); lastErr == nil {
			return nil
		}

		d.log.Debugf("delivery attempt %d to %d failed: %v", attempt, dl.recipientID, lastErr)

		if attempt == d.cfg.NotifyMaxAttempts {
			break
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
