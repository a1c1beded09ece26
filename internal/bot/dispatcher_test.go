package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-access-bot/internal/domain"
	"github.com/tbourn/go-access-bot/internal/messages"
	"github.com/tbourn/go-access-bot/internal/repo"
	"github.com/tbourn/go-access-bot/internal/services"
)

const lessons = "https://example.com/lessons"

type outMsg struct {
	chat    int64
	text    string
	buttons []domain.Button
}

type fakeMessenger struct {
	mu       sync.Mutex
	msgs     []outMsg
	answered []string
	sendErr  error
}

func (f *fakeMessenger) Send(_ context.Context, chat int64, text string, buttons ...domain.Button) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, outMsg{chat, text, buttons})
	return f.sendErr
}

func (f *fakeMessenger) AnswerCallback(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, id)
	return nil
}

func (f *fakeMessenger) last(t *testing.T) outMsg {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.msgs)
	return f.msgs[len(f.msgs)-1]
}

func (f *fakeMessenger) all() []outMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]outMsg(nil), f.msgs...)
}

func (f *fakeMessenger) reset() {
	f.mu.Lock()
	f.msgs = nil
	f.mu.Unlock()
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []services.Notification
}

func (r *recordingNotifier) Notify(n services.Notification) {
	r.mu.Lock()
	r.got = append(r.got, n)
	r.mu.Unlock()
}

func (r *recordingNotifier) events() []services.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]services.Notification(nil), r.got...)
}

var memDBSeq atomic.Int64

// newSheetEngine returns an issuance engine over an in-memory sheet with
// the default column names.
func newSheetEngine(t *testing.T, rows ...[]string) (*services.IssuanceService, *repo.CellSheet) {
	t.Helper()
	dsn := fmt.Sprintf("file:bot_%d?mode=memory&cache=shared", memDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, repo.AutoMigrate(db))

	sheet := repo.NewCellSheet(db, "КУРС")
	ctx := context.Background()
	_, err = sheet.AppendRow(ctx, "Email", "AccessCode", "TelegramID")
	require.NoError(t, err)
	for _, r := range rows {
		_, err := sheet.AppendRow(ctx, r...)
		require.NoError(t, err)
	}
	svc := services.NewIssuanceService(repo.NewRecordStore(sheet, time.Minute), services.Columns{
		Identity: "Email", Credential: "AccessCode", Subscriber: "TelegramID",
	})
	return svc, sheet
}

type harness struct {
	d      *Dispatcher
	out    *fakeMessenger
	notify *recordingNotifier
	cat    *messages.Catalog
}

func newHarness(t *testing.T, issuer Issuer, mutate ...func(*Options)) *harness {
	t.Helper()
	out := &fakeMessenger{}
	n := &recordingNotifier{}
	cat := messages.Default()
	opts := Options{
		DeepLinkParam:    "course_access",
		LessonsURL:       lessons,
		AccessPassword:   "open-sesame",
		SupportContact:   "@support",
		OperatorID:       900,
		CredentialColumn: "AccessCode",
		Catalog:          cat,
	}
	for _, m := range mutate {
		m(&opts)
	}
	return &harness{d: NewDispatcher(issuer, out, n, nil, opts), out: out, notify: n, cat: cat}
}

func text(sub int64, s string) domain.Event {
	return domain.Event{ID: "t", Kind: domain.EventText, SubscriberID: sub, ChatID: sub, Text: s}
}

func command(sub int64, cmd, args string) domain.Event {
	return domain.Event{ID: "c", Kind: domain.EventCommand, SubscriberID: sub, ChatID: sub, Command: cmd, Args: args}
}

func start(sub int64, payload string) domain.Event {
	return domain.Event{ID: "s", Kind: domain.EventStart, SubscriberID: sub, ChatID: sub, Command: "start", Args: payload, Payload: payload}
}

func TestDispatcher_EndToEnd_IssueThenMyCode(t *testing.T) {
	svc, sheet := newSheetEngine(t, []string{"a@b.com", "", ""})
	h := newHarness(t, svc)
	ctx := context.Background()
	const sub = 4242

	h.d.Handle(ctx, start(sub, "course_access"))
	assert.Equal(t, domain.StateAwaitingIdentity, h.d.Sessions().State(sub))
	assert.Equal(t, h.cat.Prompt, h.out.last(t).text)

	h.out.reset()
	h.d.Handle(ctx, text(sub, "A@B.COM "))
	msgs := h.out.all()
	require.Len(t, msgs, 2, "checking message, then result")
	assert.Contains(t, msgs[0].text, "A@B.COM")

	code, err := sheet.Cell(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, code, services.CredentialLength)
	bound, err := sheet.Cell(ctx, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, "4242", bound)

	granted := msgs[1]
	assert.Contains(t, granted.text, code)
	assert.Contains(t, granted.text, "open-sesame")
	require.Len(t, granted.buttons, 1)
	assert.Equal(t, lessons, granted.buttons[0].URL)
	assert.Equal(t, domain.StateIdle, h.d.Sessions().State(sub))

	ev := h.notify.events()
	require.Len(t, ev, 1)
	assert.Equal(t, services.NotifyGranted, ev[0].Kind)
	assert.Equal(t, "A@B.COM", ev[0].Identity)
	assert.Equal(t, code, ev[0].Credential)
	assert.True(t, ev[0].Generated)

	h.d.Handle(ctx, command(sub, "mycode", ""))
	assert.Contains(t, h.out.last(t).text, code, "re-display returns the same credential")
}

func TestDispatcher_StateMachine(t *testing.T) {
	svc, _ := newSheetEngine(t, []string{"a@b.com", "CODE1234", ""})
	h := newHarness(t, svc)
	ctx := context.Background()
	const sub = 1

	// IDLE + arbitrary text -> guidance, stays IDLE.
	h.d.Handle(ctx, text(sub, "hello"))
	assert.Equal(t, h.cat.Guidance, h.out.last(t).text)
	assert.Equal(t, domain.StateIdle, h.d.Sessions().State(sub))

	// /access -> AWAITING.
	h.d.Handle(ctx, command(sub, "access", ""))
	assert.Equal(t, domain.StateAwaitingIdentity, h.d.Sessions().State(sub))

	// Malformed -> re-prompt, stays AWAITING.
	h.d.Handle(ctx, text(sub, "not an email"))
	assert.Equal(t, h.cat.Malformed, h.out.last(t).text)
	assert.Equal(t, domain.StateAwaitingIdentity, h.d.Sessions().State(sub))

	// Not found -> IDLE.
	h.d.Handle(ctx, text(sub, "zzz@b.com"))
	assert.Contains(t, h.out.last(t).text, "@support")
	assert.Equal(t, domain.StateIdle, h.d.Sessions().State(sub))

	// /cancel from AWAITING -> IDLE.
	h.d.Handle(ctx, command(sub, "access", ""))
	h.d.Handle(ctx, command(sub, "cancel", ""))
	assert.Equal(t, h.cat.Cancelled, h.out.last(t).text)
	assert.Equal(t, domain.StateIdle, h.d.Sessions().State(sub))

	// IDLE + well-formed email -> processed immediately.
	h.d.Handle(ctx, text(sub, "a@b.com"))
	assert.Contains(t, h.out.last(t).text, "CODE1234")
	assert.Equal(t, domain.StateIdle, h.d.Sessions().State(sub))
}

func TestDispatcher_StartWithoutParamShowsWelcome(t *testing.T) {
	h := newHarness(t, &stubIssuer{})
	ctx := context.Background()

	ev := start(5, "")
	ev.FirstName = "Ann"
	h.d.Handle(ctx, ev)
	msg := h.out.last(t)
	assert.Contains(t, msg.text, "Ann")
	require.Len(t, msg.buttons, 1)
	assert.Equal(t, PayloadAccess, msg.buttons[0].Data)
	assert.Equal(t, domain.StateIdle, h.d.Sessions().State(5))

	h.d.Handle(ctx, start(5, "other_campaign"))
	assert.Equal(t, domain.StateIdle, h.d.Sessions().State(5), "unknown deep-link parameter")

	h.d.Handle(ctx, domain.Event{Kind: domain.EventCallback, SubscriberID: 5, ChatID: 5, Payload: PayloadAccess, CallbackID: "cb-1"})
	assert.Equal(t, domain.StateAwaitingIdentity, h.d.Sessions().State(5))
	assert.Equal(t, []string{"cb-1"}, h.out.answered)
}

func TestDispatcher_MyCodeWithoutBinding(t *testing.T) {
	svc, _ := newSheetEngine(t, []string{"a@b.com", "CODE1234", ""})
	h := newHarness(t, svc)
	h.d.Handle(context.Background(), command(77, "mycode", ""))
	assert.Equal(t, h.cat.NoCode, h.out.last(t).text)
}

type stubIssuer struct {
	res     domain.IssuanceResult
	err     error
	diag    services.Diagnostics
	diagN   int
	panicky bool
}

func (s *stubIssuer) IssueAccess(context.Context, string, int64) (domain.IssuanceResult, error) {
	if s.panicky {
		panic("boom")
	}
	return s.res, s.err
}

func (s *stubIssuer) LookupBySubscriber(context.Context, int64) (domain.IssuanceResult, error) {
	return s.res, s.err
}

func (s *stubIssuer) Diagnose(_ context.Context, n int) (services.Diagnostics, error) {
	s.diagN = n
	return s.diag, s.err
}

func TestDispatcher_ErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantText func(*messages.Catalog) string
		wantKind services.NotificationKind
	}{
		{
			name:     "store unavailable",
			err:      fmt.Errorf("%w: %w", services.ErrIssuance, repo.ErrStoreUnavailable),
			wantText: func(c *messages.Catalog) string { return c.Unavailable },
			wantKind: services.NotifyFailure,
		},
		{
			name:     "timeout",
			err:      fmt.Errorf("%w: %w", services.ErrIssuance, context.DeadlineExceeded),
			wantText: func(c *messages.Catalog) string { return c.Unavailable },
			wantKind: services.NotifyFailure,
		},
		{
			name:     "schema",
			err:      fmt.Errorf("%w: %w", services.ErrIssuance, repo.ErrSchema),
			wantText: func(c *messages.Catalog) string { return c.Failed },
			wantKind: services.NotifySchema,
		},
		{
			name:     "other",
			err:      fmt.Errorf("%w: %w", services.ErrIssuance, errors.New("weird")),
			wantText: func(c *messages.Catalog) string { return c.Failed },
			wantKind: services.NotifyFailure,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, &stubIssuer{err: tc.err, res: domain.IssuanceResult{Outcome: domain.OutcomeFailed}})
			h.d.Handle(context.Background(), text(3, "a@b.com"))

			want := messages.Render(tc.wantText(h.cat), messages.Vars{Support: "@support", URL: lessons, Name: "друг"})
			got := h.out.last(t).text
			assert.Equal(t, want, got)
			assert.NotContains(t, got, "weird", "raw detail stays with the operator")

			ev := h.notify.events()
			require.Len(t, ev, 1)
			assert.Equal(t, tc.wantKind, ev[0].Kind)
			assert.Equal(t, "a@b.com", ev[0].Identity)
			assert.Equal(t, int64(3), ev[0].SubscriberID)
			assert.Contains(t, ev[0].Detail, tc.err.Error())
			assert.Equal(t, domain.StateIdle, h.d.Sessions().State(3))
		})
	}
}

func TestDispatcher_PanicIsContained(t *testing.T) {
	h := newHarness(t, &stubIssuer{panicky: true})
	assert.NotPanics(t, func() {
		h.d.Handle(context.Background(), text(3, "a@b.com"))
	})
	// The next event is still served.
	h.d.Handle(context.Background(), command(3, "help", ""))
	assert.Equal(t, h.cat.Help, h.out.last(t).text)
}

func TestDispatcher_SendFailureDoesNotStopFlow(t *testing.T) {
	st := &stubIssuer{res: domain.IssuanceResult{Outcome: domain.OutcomeGranted, Credential: "ABCD1234"}}
	h := newHarness(t, st)
	h.out.sendErr = errors.New("blocked by user")
	h.d.Handle(context.Background(), text(3, "a@b.com"))
	assert.Len(t, h.notify.events(), 1, "issuance and notification still happen")
}

func TestDispatcher_Throttled(t *testing.T) {
	st := &stubIssuer{res: domain.IssuanceResult{Outcome: domain.OutcomeNotFound}}
	h := newHarness(t, st, func(o *Options) { o.Limiter = NewLimiter(0.001, 1) })
	ctx := context.Background()

	h.d.Handle(ctx, text(8, "a@b.com"))
	h.d.Handle(ctx, text(8, "b@b.com"))
	assert.Equal(t, h.cat.Throttled, h.out.last(t).text)

	h.d.Handle(ctx, command(9, "help", ""))
	assert.Equal(t, h.cat.Help, h.out.last(t).text, "limits are per subscriber")
}

func TestDispatcher_HeadersOperatorOnly(t *testing.T) {
	st := &stubIssuer{diag: services.Diagnostics{
		Sheet:   "КУРС",
		Headers: []string{"Email", "AccessCode", "TelegramID"},
		Sample: []repo.Record{
			{"Email": "alice@example.com", "AccessCode": "ABCD1234", "TelegramID": "1"},
		},
	}}
	h := newHarness(t, st)
	ctx := context.Background()

	h.d.Handle(ctx, command(1, "headers", "3"))
	assert.Equal(t, h.cat.Guidance, h.out.last(t).text)

	h.d.Handle(ctx, command(900, "headers", "10"))
	out := h.out.last(t).text
	assert.Equal(t, repo.MaxSampleRows, st.diagN, "sample size is clamped")
	assert.Contains(t, out, "Email | AccessCode | TelegramID")
	assert.Contains(t, out, "a***@example.com")
	assert.NotContains(t, out, "alice@example.com")
	assert.NotContains(t, out, "ABCD1234")
	assert.Contains(t, out, "All configured columns present")
}

func TestFormatDiagnostics_Missing(t *testing.T) {
	out := FormatDiagnostics(services.Diagnostics{
		Sheet:   "S",
		Headers: []string{"Email"},
		Missing: []string{"AccessCode", "TelegramID"},
	}, "AccessCode")
	assert.Equal(t, "Sheet: S\nHeaders (1): Email\nMissing columns: AccessCode, TelegramID", out)
	assert.False(t, strings.Contains(out, "Row"))
}
