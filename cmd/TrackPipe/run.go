package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/TrackPipe/internal/api"
	"github.com/BTreeMap/TrackPipe/internal/bot"
	"github.com/BTreeMap/TrackPipe/internal/flow"
	"github.com/BTreeMap/TrackPipe/internal/genai"
	"github.com/BTreeMap/TrackPipe/internal/lockfile"
	"github.com/BTreeMap/TrackPipe/internal/messaging"
	"github.com/BTreeMap/TrackPipe/internal/models"
	"github.com/BTreeMap/TrackPipe/internal/recovery"
	"github.com/BTreeMap/TrackPipe/internal/reminder"
	"github.com/BTreeMap/TrackPipe/internal/report"
	"github.com/BTreeMap/TrackPipe/internal/scheduler"
	"github.com/BTreeMap/TrackPipe/internal/store"
	"github.com/BTreeMap/TrackPipe/internal/tracker"
	"github.com/BTreeMap/TrackPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/TrackPipe/internal/whatsapp"
)

const outboxPollInterval = 5 * time.Second

// sender is what outbox delivery needs from a transport.
type sender interface {
	SendMessage(ctx context.Context, to, body string) error
}

// transport is a started messaging service plus its optional HTTP webhook.
type transport struct {
	svc     messaging.Service
	webhook http.HandlerFunc
	close   func()
}

// run wires every component and blocks until ctx is cancelled or the API server fails.
func run(ctx context.Context, cfg Config) error {
	loc, err := cfg.location()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lock, err := lockfile.Acquire(cfg.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.New(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	slog.Info("Store opened", "type", store.DetectDSNType(cfg.DatabaseDSN))

	tr, err := openTransport(ctx, cfg)
	if err != nil {
		return err
	}
	defer tr.close()

	sinkOpts := []tracker.Option{tracker.WithLocation(loc)}
	if cfg.OpenAIKey != "" {
		gc, err := genai.NewClient(genai.WithAPIKey(cfg.OpenAIKey), genai.WithDebugMode(cfg.Debug), genai.WithStateDir(cfg.StateDir))
		if err != nil {
			return fmt.Errorf("create genai client: %w", err)
		}
		sinkOpts = append(sinkOpts, tracker.WithEstimator(genai.NewNutritionEstimator(gc)))
	} else {
		slog.Info("No OpenAI key configured, unknown products are recorded without nutrients")
	}

	// The engine and bot reference each other through the expiry callback.
	var b *bot.Bot
	engine := flow.NewEngine(
		flow.DefaultRegistry(flow.FormDeps{Categories: st, Products: st}),
		flow.NewStoreBasedStateManager(st),
		tracker.NewSink(st, sinkOpts...),
		st,
		flow.WithLocation(loc),
		flow.WithIdleTimeout(cfg.IdleTimeout),
		flow.WithExpiryHandler(func(ctx context.Context, userID string, form models.FormKind) {
			b.NotifyExpired(ctx, userID, form)
		}),
	)

	reporter := report.NewReporter(st, report.WithLocation(loc))
	sched := scheduler.NewScheduler(scheduler.WithLocation(loc))
	defer sched.Stop()
	reminders := reminder.NewService(st, sched, reminder.WithLocation(loc))

	b = bot.New(engine, reporter, st,
		bot.WithClock(func() time.Time { return time.Now().In(loc) }),
		bot.WithReminders(reminders),
		bot.WithOutbox(st),
		bot.WithPublicURL(cfg.PublicURL))

	rm := recovery.NewRecoveryManager(st)
	rm.Register("forms", engine)
	rm.Register("reminders", reminders)
	if err := rm.RecoverAll(ctx); err != nil {
		slog.Warn("State recovery finished with errors", "error", err)
	}

	if err := tr.svc.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	defer tr.svc.Stop()

	handler := messaging.NewResponseHandler(tr.svc, b.Handle,
		messaging.WithDedup(st),
		messaging.WithMessageLog(st))
	handler.Start(ctx)

	outbox := store.NewOutboxSender(st, deliverOutbox(tr.svc), outboxPollInterval)
	if err := outbox.RecoverStaleMessages(ctx); err != nil {
		slog.Warn("Outbox recovery failed", "error", err)
	}
	go outbox.Run(ctx)

	apiOpts := []api.Option{api.WithAddr(cfg.APIAddr), api.WithToken(cfg.APIToken)}
	if tr.webhook != nil {
		apiOpts = append(apiOpts, api.WithTwilioWebhook(tr.webhook))
	}
	slog.Info("TrackPipe ready", "commands", len(b.Commands()))
	err = api.NewServer(reporter, st, apiOpts...).Run(ctx)
	cancel()
	handler.Wait()
	return err
}

// openTransport connects the configured chat transport.
func openTransport(ctx context.Context, cfg Config) (*transport, error) {
	switch cfg.Transport {
	case TransportTwilio:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(cfg.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(cfg.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(cfg.TwilioFrom))
		if err != nil {
			return nil, fmt.Errorf("create twilio client: %w", err)
		}
		var opts []messaging.TwilioOption
		if cfg.PublicURL != "" && cfg.TwilioAuthToken != "" {
			opts = append(opts, messaging.WithSignatureValidation(cfg.TwilioAuthToken, webhookURL(cfg.PublicURL)))
		} else {
			slog.Warn("Twilio webhook signatures are not checked; set TRACKPIPE_PUBLIC_URL to enable")
		}
		svc := messaging.NewTwilioService(client, opts...)
		return &transport{svc: svc, webhook: svc.WebhookHandler, close: func() {}}, nil
	default:
		var opts []whatsapp.Option
		opts = append(opts, whatsapp.WithDBDSN(cfg.WhatsAppDSN))
		if cfg.QROutput != "" {
			opts = append(opts, whatsapp.WithQRCodeOutput(cfg.QROutput))
		}
		if cfg.NumericCode {
			opts = append(opts, whatsapp.WithNumericCode())
		}
		if cfg.Debug {
			opts = append(opts, whatsapp.WithLogLevel("DEBUG"))
		}
		client, err := whatsapp.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create whatsapp client: %w", err)
		}
		return &transport{svc: messaging.NewWhatsAppService(client), close: client.Disconnect}, nil
	}
}

func webhookURL(publicURL string) string {
	return strings.TrimRight(publicURL, "/") + "/webhook/twilio"
}

// deliverOutbox sends queued reminders and notices to the user they belong to.
func deliverOutbox(s sender) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		if err := s.SendMessage(ctx, msg.UserID, msg.Body); err != nil {
			return fmt.Errorf("deliver %s %s: %w", msg.Kind, msg.ID, err)
		}
		return nil
	}
}
