package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/llmpot/internal/config"
	"github.com/zhouzirui/llmpot/internal/handler"
	"github.com/zhouzirui/llmpot/internal/handler/sshd"
	"github.com/zhouzirui/llmpot/internal/logging"
	"github.com/zhouzirui/llmpot/internal/model/account"
	"github.com/zhouzirui/llmpot/internal/model/persona"
	"github.com/zhouzirui/llmpot/internal/service/ai"
	"github.com/zhouzirui/llmpot/internal/service/chat"
	"github.com/zhouzirui/llmpot/internal/service/monitor"
	"github.com/zhouzirui/llmpot/internal/service/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logrus.SetFormatter(&logging.Formatter{})

	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Debugf("no .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(logging.Config{
		File:   cfg.Log.File,
		Level:  cfg.Log.Level,
		Stderr: cfg.Log.Stderr,
	})
	if err != nil {
		logrus.Fatalf("failed to open log: %v", err)
	}
	defer logger.Close()
	log := logger.Entry()

	accounts, err := account.LoadFile(cfg.Accounts.Path)
	if err != nil {
		log.Fatalf("failed to load accounts: %v", err)
	}
	log.Infof("loaded %d accounts from %s", len(accounts.Usernames()), cfg.Accounts.Path)

	signer, err := sshd.LoadHostSigner(cfg.Server.HostKeyPath, cfg.Server.HostCertPath)
	if err != nil {
		log.Fatalf("failed to load host key: %v", err)
	}

	personaStore := persona.NewMemoryStore(persona.Seed())
	if _, ok := personaStore.FindByID(cfg.Engine.PersonaID); !ok {
		log.Fatalf("unknown persona %q", cfg.Engine.PersonaID)
	}

	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		log.Fatalf("failed to initialize %s chat model: %v", cfg.AI.Provider, err)
	}

	chatService := chat.NewService()
	aiService, err := ai.NewService(ctx, chatModel, personaStore, chatService, ai.Config{
		Timeout:      cfg.Engine.Timeout,
		HistoryLimit: cfg.Engine.HistoryLimit,
	})
	if err != nil {
		log.Fatalf("failed to initialize AI service: %v", err)
	}
	log.Infof("AI service initialized provider=%s persona=%s", cfg.AI.Provider, cfg.Engine.PersonaID)

	var hub *monitor.Hub
	var events monitor.Publisher
	if cfg.Monitor.Enabled() {
		hub = monitor.NewHub(0)
		events = hub
	}

	manager := session.NewManager(aiService, chatService, logger, events, session.Config{
		PersonaID:      cfg.Engine.PersonaID,
		MaxRetries:     cfg.Engine.MaxRetries,
		BaseBackoff:    cfg.Engine.RetryBackoff,
		MaxBackoff:     cfg.Engine.RetryMaxBackoff,
		FailureMessage: cfg.Engine.FailureMessage,
	})

	gate := sshd.NewGate(accounts, log)
	server := sshd.NewServer(cfg.Server, signer, gate, manager, logger)

	if cfg.Monitor.Enabled() {
		router := handler.NewRouter(personaStore, cfg.Engine.PersonaID, chatService, hub, log)
		go startMonitor(ctx, cfg.Monitor, router, log)
	}

	if err := server.ListenAndServe(ctx); err != nil {
		log.Fatalf("ssh server error: %v", err)
	}
	log.Info("honeypot stopped")
}

func startMonitor(ctx context.Context, monitorCfg config.MonitorConfig, router http.Handler, log *logrus.Entry) {
	srv := &http.Server{
		Addr:              monitorCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Infof("monitor API listening on %s", monitorCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Errorf("monitor server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
