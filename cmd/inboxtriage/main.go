package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ndpham/inboxtriage/internal/api"
	"github.com/ndpham/inboxtriage/internal/calendar"
	"github.com/ndpham/inboxtriage/internal/classify"
	"github.com/ndpham/inboxtriage/internal/credential"
	"github.com/ndpham/inboxtriage/internal/mailbox"
	"github.com/ndpham/inboxtriage/internal/mailbox/gmail"
	"github.com/ndpham/inboxtriage/internal/mailbox/imapbox"
	"github.com/ndpham/inboxtriage/internal/model"
	"github.com/ndpham/inboxtriage/internal/notify"
	"github.com/ndpham/inboxtriage/internal/pipeline"
	"github.com/ndpham/inboxtriage/internal/store"
	"github.com/ndpham/inboxtriage/internal/triage"
	"github.com/ndpham/inboxtriage/internal/websearch"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", model.DefaultConfigPath(), "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := run(*configPath, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	replied, err := mailbox.NewRepliedLog(cfg.Mailbox.RepliedLogPath)
	if err != nil {
		return err
	}

	provider, err := buildProvider(ctx, cfg, replied)
	if err != nil {
		return err
	}

	classifier := classify.New(
		credential.Resolve("GROQ_API_KEY", credential.KeyGroqAPIKey),
		cfg.AI.Model,
		cfg.AI.MaxTokens,
	)

	notifier := notify.NewSlack(
		credential.Resolve("SLACK_BOT_TOKEN", credential.KeySlackToken),
		cfg.Slack.ChannelID,
	)

	scheduler, searcher := buildOptionalServices(ctx, cfg, logger)

	pipe := pipeline.New(
		db, provider, classifier, notifier, scheduler, searcher,
		logger, cfg.Mailbox.MaxResults, cfg.Pipeline.PurgeMissing,
	)
	poller := pipeline.NewPoller(
		pipe, time.Duration(cfg.Pipeline.PollIntervalSec)*time.Second, logger,
	)

	service := triage.NewService(db, provider, classifier, notifier, pipe, logger)
	cooldown := api.NewCooldown(time.Duration(cfg.HTTP.FetchCooldownSec) * time.Second)
	apiServer := api.NewServer(service, cooldown, logger)

	httpAddr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	httpSrv := &http.Server{
		Addr:    httpAddr,
		Handler: apiServer,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "addr", httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		err := poller.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()

		poller.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildProvider constructs the configured mailbox provider.
func buildProvider(
	ctx context.Context,
	cfg *model.AppConfig,
	replied *mailbox.RepliedLog,
) (mailbox.Provider, error) {
	switch cfg.Mailbox.Provider {
	case "gmail":
		return gmail.New(ctx, gmail.Config{
			ClientID:     credential.Resolve("GMAIL_CLIENT_ID", credential.KeyGmailClientID),
			ClientSecret: credential.Resolve("GMAIL_CLIENT_SECRET", credential.KeyGmailClientSecret),
			RefreshToken: credential.Resolve("GMAIL_REFRESH_TOKEN", credential.KeyGmailRefreshToken),
			BotAddress:   cfg.Mailbox.BotAddress,
		}, replied)
	case "imap":
		return imapbox.New(imapbox.Config{
			IMAPHost:   cfg.Mailbox.IMAPHost,
			IMAPPort:   cfg.Mailbox.IMAPPort,
			SMTPHost:   cfg.Mailbox.SMTPHost,
			SMTPPort:   cfg.Mailbox.SMTPPort,
			Username:   cfg.Mailbox.Username,
			Password:   credential.Resolve("IMAP_PASSWORD", credential.KeyIMAPPassword),
			UseTLS:     cfg.Mailbox.UseTLS,
			BotAddress: cfg.Mailbox.BotAddress,
		}, replied), nil
	default:
		return nil, fmt.Errorf("unknown mailbox provider %q", cfg.Mailbox.Provider)
	}
}

// buildOptionalServices wires the calendar and web search integrations
// when their credentials are present. Either may be nil; the pipeline
// falls back to plain replies.
func buildOptionalServices(
	ctx context.Context,
	cfg *model.AppConfig,
	logger *slog.Logger,
) (pipeline.Scheduler, pipeline.Searcher) {
	var scheduler pipeline.Scheduler
	var searcher pipeline.Searcher

	calCfg := calendar.Config{
		ClientID:     credential.Resolve("GMAIL_CLIENT_ID", credential.KeyGmailClientID),
		ClientSecret: credential.Resolve("GMAIL_CLIENT_SECRET", credential.KeyGmailClientSecret),
		RefreshToken: credential.Resolve("GMAIL_REFRESH_TOKEN", credential.KeyGmailRefreshToken),
	}
	if calCfg.RefreshToken != "" {
		sched, err := calendar.New(ctx, calCfg)
		if err != nil {
			logger.Warn("calendar integration unavailable", "error", err)
		} else {
			scheduler = sched
		}
	}

	searchKey := credential.Resolve("SEARCH_API_KEY", credential.KeySearchAPIKey)
	if searchKey != "" && cfg.Search.EngineID != "" {
		ws, err := websearch.New(ctx, searchKey, cfg.Search.EngineID)
		if err != nil {
			logger.Warn("web search integration unavailable", "error", err)
		} else {
			searcher = &searchAdapter{ws}
		}
	}

	return scheduler, searcher
}

// searchAdapter maps websearch results onto the pipeline's type.
type searchAdapter struct {
	ws *websearch.Searcher
}

func (a *searchAdapter) Search(ctx context.Context, query string) ([]pipeline.SearchResult, error) {
	results, err := a.ws.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]pipeline.SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, pipeline.SearchResult{
			Title:   r.Title,
			Link:    r.Link,
			Snippet: r.Snippet,
		})
	}
	return out, nil
}
