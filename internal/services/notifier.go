package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-access-bot/internal/domain"
)

// Sender delivers a chat message. The bot transport implements it.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string, buttons ...domain.Button) error
}

// NotificationKind classifies operator notifications.
type NotificationKind string

const (
	NotifyGranted  NotificationKind = "granted"
	NotifyReissued NotificationKind = "reissued"
	NotifyFailure  NotificationKind = "failure"
	NotifySchema   NotificationKind = "schema"
)

// Notification is one operator-facing event. Unlike user replies and logs it
// carries the raw identity token and error detail.
type Notification struct {
	Kind         NotificationKind
	SubscriberID int64
	Username     string
	Identity     string
	Credential   string
	Generated    bool
	Detail       string
	At           time.Time
}

// Notifier forwards notifications to a single operator chat. Notify never
// blocks the caller: events are queued and drained by Run. A full queue drops
// the event; delivery failures are logged and counted.
type Notifier struct {
	sender   Sender
	operator int64
	queue    chan Notification
	sendWait time.Duration
}

// NewNotifier returns a notifier for operator. A zero operator id or nil
// sender yields a disabled notifier whose Notify is a no-op.
func NewNotifier(sender Sender, operator int64, queueSize int) *Notifier {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Notifier{
		sender:   sender,
		operator: operator,
		queue:    make(chan Notification, queueSize),
		sendWait: 10 * time.Second,
	}
}

// Enabled reports whether notifications are delivered anywhere.
func (n *Notifier) Enabled() bool {
	return n != nil && n.sender != nil && n.operator != 0
}

// Notify enqueues ev. It is safe on a nil or disabled Notifier.
func (n *Notifier) Notify(ev Notification) {
	if !n.Enabled() {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case n.queue <- ev:
	default:
		notifications.WithLabelValues("dropped").Inc()
		log.Warn().
			Str("kind", string(ev.Kind)).
			Int64("subscriber_id", ev.SubscriberID).
			Msg("operator notification queue full; dropped")
	}
}

// Run drains the queue until ctx is cancelled. Events still queued at
// cancellation stay queued for Flush.
func (n *Notifier) Run(ctx context.Context) error {
	if !n.Enabled() {
		<-ctx.Done()
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-n.queue:
			n.deliver(ctx, ev)
		}
	}
}

// Flush delivers the events still queued and returns once the queue is
// empty or ctx ends. Call it after Run has returned and producers stopped.
func (n *Notifier) Flush(ctx context.Context) {
	if !n.Enabled() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.queue:
			n.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, ev Notification) {
	sendCtx, cancel := context.WithTimeout(ctx, n.sendWait)
	defer cancel()

	if err := n.sender.Send(sendCtx, n.operator, Format(ev)); err != nil {
		notifications.WithLabelValues("failed").Inc()
		log.Error().Err(err).
			Str("kind", string(ev.Kind)).
			Int64("subscriber_id", ev.SubscriberID).
			Msg("operator notification failed")
		return
	}
	notifications.WithLabelValues("sent").Inc()
}

// Format renders ev as plain operator text.
func Format(ev Notification) string {
	var b strings.Builder
	switch ev.Kind {
	case NotifyGranted:
		if ev.Generated {
			b.WriteString("New access granted")
		} else {
			b.WriteString("Access re-verified")
		}
	case NotifyReissued:
		b.WriteString("Code re-displayed")
	case NotifySchema:
		b.WriteString("Sheet schema problem")
	default:
		b.WriteString("Access issuance failed")
	}
	b.WriteString("\n")

	user := fmt.Sprintf("%d", ev.SubscriberID)
	if ev.Username != "" {
		user = fmt.Sprintf("@%s (%d)", ev.Username, ev.SubscriberID)
	}
	fmt.Fprintf(&b, "User: %s\n", user)
	if ev.Identity != "" {
		fmt.Fprintf(&b, "Email: %s\n", ev.Identity)
	}
	if ev.Credential != "" {
		fmt.Fprintf(&b, "Code: %s\n", ev.Credential)
	}
	if ev.Detail != "" {
		fmt.Fprintf(&b, "Error: %s\n", ev.Detail)
	}
	if !ev.At.IsZero() {
		fmt.Fprintf(&b, "Time: %s", ev.At.UTC().Format(time.RFC3339))
	}
	return strings.TrimRight(b.String(), "\n")
}
