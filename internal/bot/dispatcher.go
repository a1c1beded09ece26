// Package bot turns chat transport updates into conversation steps.
//
// The Dispatcher owns routing and the per-subscriber conversation state. It
// calls the issuance engine, renders replies from the message catalog and
// hands operator events to the notifier. Every failure is contained here:
// nothing a single event does can stop the process or affect other
// subscribers.
package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-access-bot/internal/domain"
	"github.com/tbourn/go-access-bot/internal/messages"
	"github.com/tbourn/go-access-bot/internal/redact"
	"github.com/tbourn/go-access-bot/internal/repo"
	"github.com/tbourn/go-access-bot/internal/services"
	"github.com/tbourn/go-access-bot/internal/sysutil"
	"github.com/tbourn/go-access-bot/internal/utils"
)

// Button payloads and command names.
const (
	PayloadAccess = "access"

	CmdAccess  = "access"
	CmdCancel  = "cancel"
	CmdMyCode  = "mycode"
	CmdHelp    = "help"
	CmdHeaders = "headers"
)

// Issuer is the issuance engine as seen by the dispatcher.
type Issuer interface {
	IssueAccess(ctx context.Context, identity string, subscriberID int64) (domain.IssuanceResult, error)
	LookupBySubscriber(ctx context.Context, subscriberID int64) (domain.IssuanceResult, error)
	Diagnose(ctx context.Context, sample int) (services.Diagnostics, error)
}

// Messenger sends replies on the chat transport.
type Messenger interface {
	services.Sender
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Notifier receives operator events. *services.Notifier implements it.
type Notifier interface {
	Notify(services.Notification)
}

// Options configures a Dispatcher.
type Options struct {
	DeepLinkParam  string
	LessonsURL     string
	AccessPassword string
	SupportContact string
	// OperatorID may run diagnostics; 0 disables operator commands.
	OperatorID int64
	// CredentialColumn is hidden in diagnostic samples.
	CredentialColumn string

	Catalog *messages.Catalog
	Limiter *Limiter
}

// Dispatcher routes inbound events. It is safe for concurrent use; events of
// different subscribers may be handled in parallel.
type Dispatcher struct {
	issuer   Issuer
	out      Messenger
	notify   Notifier
	sessions *services.SessionStore
	opts     Options
}

// NewDispatcher wires a dispatcher. A nil notifier disables notifications; a
// nil catalog uses the embedded defaults.
func NewDispatcher(issuer Issuer, out Messenger, notify Notifier, sessions *services.SessionStore, opts Options) *Dispatcher {
	if opts.Catalog == nil {
		opts.Catalog = messages.Default()
	}
	if sessions == nil {
		sessions = services.NewSessionStore()
	}
	if notify == nil {
		notify = (*services.Notifier)(nil)
	}
	return &Dispatcher{issuer: issuer, out: out, notify: notify, sessions: sessions, opts: opts}
}

// Sessions exposes the conversation state store.
func (d *Dispatcher) Sessions() *services.SessionStore { return d.sessions }

// Handle processes one event to completion. It never panics and never
// returns an error; failures are logged, counted and turned into replies.
func (d *Dispatcher) Handle(ctx context.Context, ev domain.Event) {
	start := time.Now()
	kind := ev.Kind.String()
	lg := log.With().
		Str("event_id", ev.ID).
		Int("update_id", ev.UpdateID).
		Int64("subscriber_id", ev.SubscriberID).
		Str("kind", kind).
		Logger()
	ctx = lg.WithContext(ctx)

	result := "ok"
	defer func() {
		if rec := recover(); rec != nil {
			result = "panic"
			lg.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("event handler panicked")
		}
		eventsTotal.WithLabelValues(kind, result).Inc()
		eventDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		tracked.WithLabelValues("sessions").Set(float64(d.sessions.Len()))
		tracked.WithLabelValues("rate_buckets").Set(float64(d.opts.Limiter.Len()))
		lg.Debug().Dur("latency", time.Since(start)).Str("result", result).Msg("event handled")
	}()

	if ev.Kind == domain.EventCallback && ev.CallbackID != "" {
		if err := d.out.AnswerCallback(ctx, ev.CallbackID, ""); err != nil {
			lg.Warn().Err(err).Msg("answer callback failed")
		}
	}

	if !d.opts.Limiter.Allow(ev.SubscriberID) {
		result = "throttled"
		d.reply(ctx, ev, d.opts.Catalog.Throttled)
		return
	}

	switch ev.Kind {
	case domain.EventStart:
		d.onStart(ctx, ev)
	case domain.EventCommand:
		d.onCommand(ctx, ev)
	case domain.EventCallback:
		d.onCallback(ctx, ev)
	case domain.EventText:
		d.onText(ctx, ev)
	}
}

func (d *Dispatcher) onStart(ctx context.Context, ev domain.Event) {
	payload := ev.Payload
	if payload == "" {
		payload = utils.FirstField(ev.Args)
	}
	if payload != "" && payload == d.opts.DeepLinkParam {
		d.requestIdentity(ctx, ev)
		return
	}
	d.reply(ctx, ev, d.opts.Catalog.Welcome, domain.Button{
		Text: d.opts.Catalog.WelcomeButton,
		Data: PayloadAccess,
	})
}

func (d *Dispatcher) onCommand(ctx context.Context, ev domain.Event) {
	switch strings.ToLower(ev.Command) {
	case CmdAccess:
		d.requestIdentity(ctx, ev)
	case CmdCancel:
		d.sessions.Reset(ev.SubscriberID)
		d.reply(ctx, ev, d.opts.Catalog.Cancelled)
	case CmdMyCode:
		d.lookup(ctx, ev)
	case CmdHelp:
		d.reply(ctx, ev, d.opts.Catalog.Help)
	case CmdHeaders:
		if !d.isOperator(ev) {
			d.reply(ctx, ev, d.opts.Catalog.Guidance)
			return
		}
		d.diagnose(ctx, ev)
	default:
		d.reply(ctx, ev, d.opts.Catalog.Guidance)
	}
}

func (d *Dispatcher) onCallback(ctx context.Context, ev domain.Event) {
	if ev.Payload == PayloadAccess {
		d.requestIdentity(ctx, ev)
		return
	}
	d.reply(ctx, ev, d.opts.Catalog.Guidance)
}

func (d *Dispatcher) onText(ctx context.Context, ev domain.Event) {
	text := strings.TrimSpace(ev.Text)
	wellFormed := IsIdentityToken(text)

	switch {
	case wellFormed:
		// Also reached from IDLE: a bare email is treated as an access request.
		d.sessions.Await(ev.SubscriberID)
		d.issue(ctx, ev, text)
	case d.sessions.State(ev.SubscriberID) == domain.StateAwaitingIdentity:
		d.reply(ctx, ev, d.opts.Catalog.Malformed)
	default:
		d.reply(ctx, ev, d.opts.Catalog.Guidance)
	}
}

func (d *Dispatcher) requestIdentity(ctx context.Context, ev domain.Event) {
	d.sessions.Await(ev.SubscriberID)
	d.reply(ctx, ev, d.opts.Catalog.Prompt)
}

// issue runs one issuance attempt. The session returns to IDLE whatever the
// outcome; a retry is another well-formed message.
func (d *Dispatcher) issue(ctx context.Context, ev domain.Event, identity string) {
	lg := zerolog.Ctx(ctx).With().Str("identity", redact.Email(identity)).Logger()

	d.replyWith(ctx, ev, d.opts.Catalog.Checking, messages.Vars{Email: identity})

	res, err := d.issuer.IssueAccess(ctx, identity, ev.SubscriberID)
	d.sessions.Reset(ev.SubscriberID)
	if err != nil {
		lg.Error().Err(err).Msg("issuance failed")
		d.fail(ctx, ev, identity, err)
		return
	}

	switch res.Outcome {
	case domain.OutcomeGranted:
		lg.Info().Int("row", res.Row).Bool("generated", res.Generated).Msg("access granted")
		d.replyWith(ctx, ev, d.opts.Catalog.Granted, d.grantedVars(res), d.lessonsButton())
		d.notify.Notify(services.Notification{
			Kind:         services.NotifyGranted,
			SubscriberID: ev.SubscriberID,
			Username:     ev.Username,
			Identity:     identity,
			Credential:   res.Credential,
			Generated:    res.Generated,
		})
	default:
		lg.Info().Msg("identity not found")
		d.reply(ctx, ev, d.opts.Catalog.NotFound)
	}
}

func (d *Dispatcher) lookup(ctx context.Context, ev domain.Event) {
	lg := zerolog.Ctx(ctx)

	res, err := d.issuer.LookupBySubscriber(ctx, ev.SubscriberID)
	if err != nil {
		lg.Error().Err(err).Msg("lookup failed")
		d.fail(ctx, ev, "", err)
		return
	}
	if !res.Granted() {
		d.reply(ctx, ev, d.opts.Catalog.NoCode)
		return
	}
	d.replyWith(ctx, ev, d.opts.Catalog.MyCode, d.grantedVars(res), d.lessonsButton())
	if res.Generated {
		d.notify.Notify(services.Notification{
			Kind:         services.NotifyReissued,
			SubscriberID: ev.SubscriberID,
			Username:     ev.Username,
			Credential:   res.Credential,
			Generated:    true,
		})
	}
}

// fail maps an issuance error to a user reply and an operator event. Raw
// detail only goes to the operator.
func (d *Dispatcher) fail(ctx context.Context, ev domain.Event, identity string, err error) {
	kind := services.NotifyFailure
	text := d.opts.Catalog.Failed
	switch {
	case errors.Is(err, repo.ErrSchema):
		kind = services.NotifySchema
	case errors.Is(err, repo.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		text = d.opts.Catalog.Unavailable
	}
	d.reply(ctx, ev, text)
	d.notify.Notify(services.Notification{
		Kind:         kind,
		SubscriberID: ev.SubscriberID,
		Username:     ev.Username,
		Identity:     identity,
		Detail:       err.Error(),
	})
}

func (d *Dispatcher) diagnose(ctx context.Context, ev domain.Event) {
	n := utils.Clamp(utils.AtoiDefault(ev.Args, 0), 0, repo.MaxSampleRows)
	diag, err := d.issuer.Diagnose(ctx, n)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("diagnose failed")
		d.send(ctx, ev.ChatID, "Diagnostics failed: "+err.Error())
		return
	}
	d.send(ctx, ev.ChatID, FormatDiagnostics(diag, d.opts.CredentialColumn))
}

func (d *Dispatcher) isOperator(ev domain.Event) bool {
	return d.opts.OperatorID != 0 && ev.SubscriberID == d.opts.OperatorID
}

func (d *Dispatcher) grantedVars(res domain.IssuanceResult) messages.Vars {
	return messages.Vars{
		URL:      d.opts.LessonsURL,
		Code:     res.Credential,
		Password: d.opts.AccessPassword,
	}
}

func (d *Dispatcher) lessonsButton() domain.Button {
	return domain.Button{Text: d.opts.Catalog.GrantedButton, URL: d.opts.LessonsURL}
}

// reply renders text for ev's chat.
func (d *Dispatcher) reply(ctx context.Context, ev domain.Event, text string, buttons ...domain.Button) {
	d.replyWith(ctx, ev, text, messages.Vars{}, buttons...)
}

// replyWith is reply with extra placeholder values. Name, support contact
// and lessons URL are always filled in.
func (d *Dispatcher) replyWith(ctx context.Context, ev domain.Event, text string, vars messages.Vars, buttons ...domain.Button) {
	vars.Name = sysutil.FirstNonEmpty(ev.FirstName, ev.Username, "друг")
	vars.Support = sysutil.FirstNonEmpty(d.opts.SupportContact, "-")
	if vars.URL == "" {
		vars.URL = d.opts.LessonsURL
	}
	d.send(ctx, ev.ChatID, messages.Render(text, vars), buttons...)
}

func (d *Dispatcher) send(ctx context.Context, chatID int64, text string, buttons ...domain.Button) {
	if err := d.out.Send(ctx, chatID, text, buttons...); err != nil {
		sendFailures.Inc()
		zerolog.Ctx(ctx).Warn().Err(err).Int64("chat_id", chatID).Msg("send failed")
	}
}

// FormatDiagnostics renders a diagnostics report for the operator. Emails in
// sampled rows are masked and the credential column is hidden.
func FormatDiagnostics(d services.Diagnostics, credentialColumn string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sheet: %s\n", d.Sheet)
	fmt.Fprintf(&b, "Headers (%d): %s\n", len(d.Headers), strings.Join(d.Headers, " | "))
	if len(d.Missing) > 0 {
		fmt.Fprintf(&b, "Missing columns: %s\n", strings.Join(d.Missing, ", "))
	} else {
		b.WriteString("All configured columns present\n")
	}
	for i, rec := range d.Sample {
		fields := make([]string, 0, len(d.Headers))
		for _, h := range d.Headers {
			if h == "" {
				continue
			}
			v := rec.Get(h)
			switch {
			case v == "":
			case credentialColumn != "" && repo.NormalizeKey(h) == repo.NormalizeKey(credentialColumn):
				v = sysutil.MaskSecret(v)
			default:
				v = redact.Emails(v)
			}
			fields = append(fields, h+"="+v)
		}
		fmt.Fprintf(&b, "Row %d: %s\n", i+2, strings.Join(fields, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}
