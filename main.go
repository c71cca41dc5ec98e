package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Martian-dev/mail-gateway/internal/api"
	"github.com/Martian-dev/mail-gateway/internal/auth"
	"github.com/Martian-dev/mail-gateway/internal/config"
	"github.com/Martian-dev/mail-gateway/internal/identity"
	"github.com/Martian-dev/mail-gateway/internal/logger"
	"github.com/Martian-dev/mail-gateway/internal/mail"
	"github.com/Martian-dev/mail-gateway/internal/model"
	natsjs "github.com/Martian-dev/mail-gateway/internal/nats"
	"github.com/Martian-dev/mail-gateway/internal/oauth"
	"github.com/Martian-dev/mail-gateway/internal/providers/gmail"
	"github.com/Martian-dev/mail-gateway/internal/providers/outlook"
	"github.com/Martian-dev/mail-gateway/internal/providers/yahoo"
	"github.com/Martian-dev/mail-gateway/internal/store"
	"github.com/Martian-dev/mail-gateway/internal/waitlist"
)

const shutdownTimeout = 10 * time.Second

// accountEvents receives welcome notifications and account deletions.
type accountEvents interface {
	identity.Notifier
	api.Events
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewConfig()
	if err != nil {
		logger.New(0).Fatal("failed to load config", "error", err)
	}
	log := logger.New(cfg.LogLevel)

	db, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatal("failed to open database", "error", err)
	}
	defer db.Close()

	var cipher auth.TokenCipher = auth.NoopCipher{}
	if key := cfg.EncryptionKey(); key != nil {
		aead, err := auth.NewAEADCipher(key)
		if err != nil {
			log.Fatal("failed to init token cipher", "error", err)
		}
		cipher = aead
	}

	tokens, err := auth.NewTokenService(db, cfg.JWT.AccessSecret, cfg.JWT.RefreshSecret)
	if err != nil {
		log.Fatal("failed to init token service", "error", err)
	}

	var events accountEvents = natsjs.NewLogSink(log)
	if cfg.NATSURL != "" {
		publisher, err := natsjs.NewPublisher(cfg.NATSURL)
		if err != nil {
			log.Fatal("failed to connect to NATS", "error", err)
		}
		defer publisher.Close()
		if err := publisher.EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure stream", "error", err)
		}
		events = publisher
	}

	linker := identity.NewLinker(db, tokens, cipher, log,
		identity.WithNotifier(events),
		identity.WithPictureFetcher(model.ProviderMicrosoft, outlook.NewProfiles(nil)),
	)

	registry := oauth.FromConfig(cfg)
	dial := yahoo.IMAPDialer(cfg.Yahoo.IMAPAddr)
	send := yahoo.SMTPSender(cfg.Yahoo.SMTPAddr, log)
	verify := func(ctx context.Context, creds mail.Credentials) error {
		return yahoo.Verify(ctx, dial, creds)
	}
	controller := oauth.NewController(registry, waitlist.NewGate(db), linker, verify, log)

	mailboxes := mail.Registry{
		model.ProviderGoogle:    gmail.Factory(),
		model.ProviderMicrosoft: outlook.Factory,
		model.ProviderYahoo:     yahoo.Factory(dial, send, log),
	}
	mailSvc := mail.NewService(db, mailboxes, oauth.NewRefresher(registry), cipher, nil, log)

	server := api.NewServer(api.Deps{
		Config:   cfg,
		Accounts: db,
		Waitlist: db,
		Tokens:   tokens,
		Local:    auth.NewLocalService(db, tokens),
		OAuth:    controller,
		Mail:     mailSvc,
		Events:   events,
		Log:      log,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr, "providers", registry.Names())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
