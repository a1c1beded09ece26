package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-access-bot/internal/bot"
	"github.com/tbourn/go-access-bot/internal/config"
	httpapi "github.com/tbourn/go-access-bot/internal/http"
	"github.com/tbourn/go-access-bot/internal/messages"
	"github.com/tbourn/go-access-bot/internal/observability"
	"github.com/tbourn/go-access-bot/internal/services"
	"github.com/tbourn/go-access-bot/internal/sysutil"
)

// NewServeCommand creates the command that runs the bot.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and its ops HTTP server",
		Long: `Run the bot: receive updates by long polling (or by webhook when
WEBHOOK_URL is set), issue access codes and serve /health, /ready and
/metrics. SIGINT or SIGTERM stops intake and lets in-flight events finish.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts, cmd)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	observability.SetupLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)

	transport := "polling"
	if cfg.Bot.Webhook() {
		transport = "webhook"
	}
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, observability.ServiceInfo{
		Name:        cfg.OTEL.ServiceName,
		Version:     opts.Version,
		StoreDriver: cfg.Store.Driver,
		Transport:   transport,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "setup tracing", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("tracer shutdown")
		}
	}()

	tg, err := bot.NewTelegram(cfg.Bot.Token)
	if err != nil {
		return WrapExitError(ExitFailure, "connect to telegram", err)
	}
	a, err := newApp(ctx, cfg, tg)
	if err != nil {
		return WrapExitError(ExitCommandError, "initialise", err)
	}

	log.Info().
		Str("bot", tg.Username()).
		Str("token", sysutil.MaskSecret(cfg.Bot.Token)).
		Str("store", cfg.Store.Driver).
		Str("sheet", cfg.Store.SheetName).
		Str("transport", transport).
		Bool("operator_notifications", cfg.Bot.AdminChatID != 0).
		Msg("starting")

	if err := a.run(ctx); err != nil {
		return WrapExitError(ExitFailure, "serve", err)
	}
	log.Info().Msg("stopped")
	return nil
}

// app is the wired bot: store, engine, dispatcher and ops server.
type app struct {
	cfg        config.Config
	tg         *bot.Telegram
	svc        *services.IssuanceService
	notifier   *services.Notifier
	runner     *bot.Runner
	server     *http.Server
	closeStore func() error
}

func newApp(ctx context.Context, cfg config.Config, tg *bot.Telegram) (*app, error) {
	catalog := messages.Default()
	if cfg.Bot.MessagesFile != "" {
		c, err := messages.Load(cfg.Bot.MessagesFile)
		if err != nil {
			return nil, err
		}
		catalog = c
	}

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	svc := newIssuanceService(store, cfg.Store)
	notifier := services.NewNotifier(tg, cfg.Bot.AdminChatID, cfg.Bot.NotifyQueue)

	d := bot.NewDispatcher(svc, tg, notifier, services.NewSessionStore(), bot.Options{
		DeepLinkParam:    cfg.Bot.DeepLinkParam,
		LessonsURL:       cfg.Bot.LessonsURL,
		AccessPassword:   cfg.Bot.AccessPassword,
		SupportContact:   cfg.Bot.SupportContact,
		OperatorID:       cfg.Bot.AdminChatID,
		CredentialColumn: cfg.Store.CodeColumn,
		Catalog:          catalog,
		Limiter:          bot.NewLimiter(cfg.Bot.RateRPS, cfg.Bot.RateBurst),
	})
	runner := bot.NewRunner(ctx, d, bot.NewDeduper(cfg.Bot.UpdateDedupTTL), cfg.Bot.MaxConcurrentEvents)

	deps := httpapi.Deps{Ready: svc}
	if cfg.Bot.Webhook() {
		deps.Updates = runner
	}
	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, deps, cfg)

	return &app{
		cfg:        cfg,
		tg:         tg,
		svc:        svc,
		notifier:   notifier,
		runner:     runner,
		server:     httpapi.NewServer(cfg, engine),
		closeStore: closeStore,
	}, nil
}

// run serves until ctx is cancelled or a component fails. On the way out it
// stops intake, waits for in-flight events and flushes queued operator
// notifications.
func (a *app) run(ctx context.Context) error {
	defer a.closeStore()

	notifyCtx, stopNotify := context.WithCancel(context.WithoutCancel(ctx))
	notifyDone := make(chan struct{})
	go func() {
		defer close(notifyDone)
		_ = a.notifier.Run(notifyCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", a.server.Addr).Msg("ops http listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(sctx)
	})
	if a.cfg.Bot.Webhook() {
		g.Go(func() error {
			return a.tg.SetWebhook(httpapi.WebhookURL(a.cfg.Bot.WebhookURL, a.cfg.Bot.WebhookSecret))
		})
	} else {
		g.Go(func() error {
			return a.tg.Poll(gctx, func(up tgbotapi.Update) { a.runner.Submit(up) })
		})
	}

	err := g.Wait()
	a.runner.Wait()

	stopNotify()
	<-notifyDone
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	a.notifier.Flush(fctx)
	cancel()
	return err
}
