package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"communique/internal/audit"
	"communique/internal/delivery"
	deliverymetrics "communique/internal/delivery/metrics"
	"communique/internal/identity/credential"
	"communique/internal/identity/token"
	"communique/internal/identity/verification"
	"communique/internal/platform/config"
	"communique/internal/platform/httpserver"
	"communique/internal/platform/logger"
	platformmetrics "communique/internal/platform/metrics"
	"communique/internal/platform/redis"
	"communique/internal/proof"
	"communique/internal/submission"
	submissionmetrics "communique/internal/submission/metrics"
	"communique/internal/submission/store"
	httptransport "communique/internal/transport/http"
	"communique/internal/witness"
	"communique/internal/witness/keystore"
)

// main wires dependencies and owns the process lifecycle: HTTP server,
// delivery workers, and the audit drain all stop on the same signal.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage.
	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient == nil {
		return errors.New("REDIS_URL is required")
	}
	defer redisClient.Close()

	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()
	if _, err := pool.Exec(ctx, store.Schema); err != nil {
		return err
	}
	ledger := store.NewPostgres(pool)

	attemptDB, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer attemptDB.Close()
	attempts := delivery.NewPostgresAttempts(attemptDB)

	// Audit stream. Without brokers configured, events are dropped.
	var publisher audit.Publisher = audit.NopPublisher{}
	var auditWorker *audit.Worker
	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := audit.NewKafkaSink(ctx, cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			return err
		}
		defer sink.Close()
		channelPublisher := audit.NewChannelPublisher(1024, func() {
			log.Warn("audit event dropped, inbox full")
		})
		publisher = channelPublisher
		auditWorker = audit.NewWorker(sink, channelPublisher.Inbox(), log)
	}

	// Identity.
	minter := token.NewService(cfg.Server.JWTSigningKey, "communique")
	creds := credential.NewRedis(redisClient.Client)
	providers := []verification.Provider{
		verification.NewPasskeyProvider(
			verification.NewHTTPPasskeyChecker(cfg.Verification.PasskeyURL, nil),
			cfg.Credential.TTL, log,
		),
		verification.NewAttestationProvider(
			verification.NewHTTPAddressAttestor(cfg.Verification.AttestorURL, nil),
			[]byte(cfg.Verification.CommitmentSalt), cfg.Credential.TTL,
		),
		verification.NewDocumentProvider(
			verification.NewHTTPDocumentChecker(cfg.Verification.DocumentURL, nil),
			cfg.Credential.TTL,
		),
	}
	verifier, err := verification.New(providers, creds, minter, cfg.Credential.TTL,
		verification.WithLogger(log),
		verification.WithAuditPublisher(publisher),
	)
	if err != nil {
		return err
	}

	// Proofs.
	codec := witness.NewCodec(witness.VersionV1)
	keys := keystore.NewRedis(redisClient.Client, 15*time.Minute)
	prover := proof.NewHTTPProver(cfg.Proof.ProverURL, nil)
	inclusion := proof.NewHTTPInclusionSource(cfg.Proof.RegistryURL, nil)
	orchestrator, err := proof.NewOrchestrator(prover, inclusion, codec, cfg.Proof.ProveTimeout,
		proof.WithLogger(log),
	)
	if err != nil {
		return err
	}

	// Ledger.
	policy := credential.DefaultPolicy(cfg.Credential.MessageFreshness)
	ledgerService, err := submission.NewService(ledger, creds, policy, prover,
		submission.WithLogger(log),
		submission.WithMetrics(submissionmetrics.New()),
		submission.WithAuditPublisher(publisher),
	)
	if err != nil {
		return err
	}

	// Delivery.
	opener := delivery.NewKeystoreOpener(keys, codec)
	router := delivery.NewRouter(
		delivery.NewCWCClient(cfg.Delivery.CWCBaseURL, cfg.Delivery.CWCAPIKey, cfg.Delivery.CWCCampaignID, nil),
		delivery.NewEmailClient(cfg.Delivery.EmailRelayURL, cfg.Delivery.EmailRelayAPIKey, cfg.Delivery.EmailFromDomain, nil),
	)
	worker := delivery.NewWorker(attempts, ledger, opener, router, delivery.WorkerConfig{
		Workers:        cfg.Delivery.Workers,
		PollInterval:   cfg.Delivery.PollInterval,
		LeaseDuration:  cfg.Delivery.LeaseDuration,
		CallTimeout:    cfg.Delivery.CallTimeout,
		MaxAttempts:    cfg.Delivery.MaxAttempts,
		InitialBackoff: cfg.Delivery.InitialBackoff,
		MaxBackoff:     cfg.Delivery.MaxBackoff,
	},
		delivery.WithWorkerLogger(log),
		delivery.WithWorkerMetrics(deliverymetrics.New()),
		delivery.WithWorkerAudit(publisher),
	)

	// HTTP surface.
	handler := httptransport.NewRouter(httptransport.RouterDeps{
		Verify:     httptransport.NewVerifyHandler(verifier, log),
		Proofs:     httptransport.NewProofHandler(orchestrator, keys, creds, log),
		Submission: httptransport.NewSubmissionHandler(ledgerService, delivery.NewTracker(ledger, attempts), log),
		Validator:  minter,
		Metrics:    platformmetrics.New(),
		Health:     []httptransport.HealthChecker{redisClient},
		Logger:     log,
	})
	srv := httpserver.New(cfg.Server.Addr, handler)

	log.Info("starting communique", "addr", cfg.Server.Addr)

	errCh := make(chan error, 3)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()
	if auditWorker != nil {
		go func() { _ = auditWorker.Run(ctx) }()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		stop()
		log.Error("component failed, shutting down", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
