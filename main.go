package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v3"
	log "github.com/sirupsen/logrus"

	"github.com/po-studio/negotiator/config"
	"github.com/po-studio/negotiator/engine"
	"github.com/po-studio/negotiator/internal/logging"
	"github.com/po-studio/negotiator/negotiation"
	"github.com/po-studio/negotiator/relay"
	"github.com/po-studio/negotiator/routes"
	"github.com/po-studio/negotiator/session"
	"github.com/po-studio/negotiator/signaling"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "optional TOML config file; environment variables override it")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	pionLogs := logging.NewLoggerFactory(logger)

	log.Infof("Starting negotiator in %s environment", cfg.Environment)
	cfg.Log()

	if cfg.NeedsParameterStore() {
		store, err := config.NewParameterStore(cfg.AWSRegion)
		if err != nil {
			log.Fatalf("Failed to create parameter store client: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = cfg.ResolveICECredential(ctx, store)
		cancel()
		if err != nil {
			log.Fatalf("Failed to resolve ICE credential: %v", err)
		}
	}

	iceServers := iceServersFrom(cfg.ICE)

	var turnServer *relay.Server
	if cfg.TURN.Enabled {
		turnServer, err = relay.Start(cfg.TURN, pionLogs)
		if err != nil {
			log.Fatalf("Failed to start TURN server: %v", err)
		}
		iceServers = append(iceServers, turnServer.ICEServer())
	}

	factory, err := engine.NewPionFactory(engine.PionConfig{
		ICEServers:    iceServers,
		RelayOnly:     cfg.ICE.RelayOnly,
		UDPPortMin:    cfg.ICE.UDPPortMin,
		UDPPortMax:    cfg.ICE.UDPPortMax,
		Video:         true,
		Audio:         true,
		LoggerFactory: pionLogs,
	})
	if err != nil {
		log.Fatalf("Failed to configure WebRTC: %v", err)
	}

	n := negotiation.New(negotiation.Config{
		MaxCandidates:           cfg.Negotiation.MaxCandidates,
		GatherQuiescence:        cfg.Negotiation.GatherQuiescence.Duration,
		LocalDescriptionTimeout: cfg.Negotiation.LocalDescriptionTimeout.Duration,
		NegotiationTimeout:      cfg.Negotiation.NegotiationTimeout.Duration,
		BundleMLineIndex:        cfg.Negotiation.BundleMLineIndex,
	}, session.NewRegistry(), factory)

	browserConfig := webrtc.Configuration{ICEServers: iceServers}
	if cfg.ICE.RelayOnly {
		browserConfig.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}
	handler := signaling.NewHandler(n, browserConfig)

	opts := routes.Options{APIKey: cfg.APIKey, StaticDir: cfg.StaticDir}
	if turnServer != nil {
		opts.Healthy = turnServer.IsHealthy
	}
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           routes.NewRouter(handler, opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		<-signals
		log.Info("Received shutdown signal. Stopping...")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("HTTP shutdown did not complete")
		}
	}()

	log.Infof("Server started at http://%s", cfg.ListenAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("HTTP server failed: %v", err)
	}

	n.Close()
	if turnServer != nil {
		if err := turnServer.Close(); err != nil {
			log.WithError(err).Warn("failed to close TURN server")
		}
	}
	log.Info("Stopped")
}

func iceServersFrom(cfg config.ICE) []webrtc.ICEServer {
	if len(cfg.Servers) == 0 {
		return nil
	}
	server := webrtc.ICEServer{URLs: cfg.Servers}
	if cfg.Username != "" {
		server.Username = cfg.Username
		server.Credential = cfg.Credential
		server.CredentialType = webrtc.ICECredentialTypePassword
	}
	return []webrtc.ICEServer{server}
}
