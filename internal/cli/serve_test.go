package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-access-bot/internal/bot"
	"github.com/tbourn/go-access-bot/internal/config"
)

// botAPI answers every Bot API method with success and records method names.
type botAPI struct {
	mu      sync.Mutex
	methods []string
}

func (b *botAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	b.mu.Lock()
	b.methods = append(b.methods, method)
	b.mu.Unlock()

	var result any = true
	switch method {
	case "getMe":
		result = map[string]any{"id": 1, "is_bot": true, "first_name": "Access", "username": "access_bot"}
	case "sendMessage":
		result = map[string]any{"message_id": 1, "date": 0, "chat": map[string]any{"id": 1, "type": "private"}}
	case "getUpdates":
		result = []any{}
		time.Sleep(5 * time.Millisecond)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

func (b *botAPI) called(method string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.methods {
		if m == method {
			return true
		}
	}
	return false
}

func newTestApp(t *testing.T, webhook bool) (*app, *botAPI) {
	t.Helper()
	useSQLiteStore(t, "КУРС")
	_, err := execute(t, "sheet", "import", writeCSV(t, "Email,AccessCode,TelegramID\nann@example.com,,\n"))
	require.NoError(t, err)

	cfg, err := config.LoadStore()
	require.NoError(t, err)
	cfg.Port = "0"
	cfg.GinMode = "test"
	cfg.Bot.LessonsURL = "https://lessons.example.com"
	cfg.Bot.AccessPassword = "pw"
	cfg.Bot.AdminChatID = 900
	if webhook {
		cfg.Bot.WebhookURL = "https://bot.example.com"
		cfg.Bot.WebhookSecret = "s3cr3t"
	}

	api := &botAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	tg, err := bot.NewTelegramWithEndpoint("TOKEN", srv.URL+"/bot%s/%s", srv.Client())
	require.NoError(t, err)

	a, err := newApp(context.Background(), cfg, tg)
	require.NoError(t, err)
	return a, api
}

func TestNewApp_ReadyAndWebhook(t *testing.T) {
	a, _ := newTestApp(t, true)
	defer a.closeStore()

	w := httptest.NewRecorder()
	a.server.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	update := `{"update_id":1,"message":{"message_id":1,"date":0,"from":{"id":77,"is_bot":false,"first_name":"Ann"},"chat":{"id":77,"type":"private"},"text":"ANN@example.com"}}`
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook/s3cr3t", strings.NewReader(update))
	req.Header.Set("Content-Type", "application/json")
	a.server.Handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"accepted":true}`, w.Body.String())

	a.runner.Wait()
	res, err := a.svc.LookupBySubscriber(context.Background(), 77)
	require.NoError(t, err)
	assert.Len(t, res.Credential, 8, "the webhook update issued a code")
}

func TestApp_RunRegistersWebhookAndStops(t *testing.T) {
	a, api := newTestApp(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	require.Eventually(t, func() bool { return api.called("setWebhook") }, 3*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
}

func TestApp_RunPollsUntilCancelled(t *testing.T) {
	a, api := newTestApp(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	require.Eventually(t, func() bool { return api.called("getUpdates") }, 3*time.Second, 10*time.Millisecond)
	assert.True(t, api.called("deleteWebhook"))
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
}
