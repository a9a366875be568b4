package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/twmb/franz-go/pkg/kgo"

	"safezone/internal/alert"
	"safezone/internal/alert/guard"
	"safezone/internal/alert/publisher"
	"safezone/internal/alert/push"
	"safezone/internal/caregiver"
	"safezone/internal/geofence/handler"
	geofencemetrics "safezone/internal/geofence/metrics"
	geofenceservice "safezone/internal/geofence/service"
	"safezone/internal/geofence/store/ledger"
	"safezone/internal/geofence/store/zone"
	jwttoken "safezone/internal/jwt_token"
	"safezone/internal/platform/config"
	"safezone/internal/platform/httpserver"
	"safezone/internal/platform/kafka"
	"safezone/internal/platform/logger"
	"safezone/internal/platform/metrics"
	"safezone/internal/platform/postgres"
	"safezone/internal/platform/redis"
	id "safezone/pkg/domain"
	"safezone/pkg/platform/circuit"
	"safezone/pkg/platform/httputil"
)

// infra holds the optional external clients. Any of them may be nil when the
// matching setting is empty.
type infra struct {
	db    *sql.DB
	redis *redis.Client
	kafka *kgo.Client
}

func (i *infra) close() {
	if i.kafka != nil {
		i.kafka.Close()
	}
	if i.redis != nil {
		_ = i.redis.Close()
	}
	if i.db != nil {
		_ = i.db.Close()
	}
}

func openInfra(ctx context.Context, cfg *config.Config, log *slog.Logger) (*infra, error) {
	in := &infra{}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	in.db = db
	if db != nil && cfg.Database.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			in.close()
			return nil, err
		}
		log.Info("database schema applied")
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		in.close()
		return nil, err
	}
	in.redis = rc

	kc, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		in.close()
		return nil, err
	}
	in.kafka = kc
	if kc != nil && cfg.Kafka.EnsureTopic {
		if err := kafka.EnsureTopic(ctx, kc, cfg.Kafka.AlertTopic, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor); err != nil {
			in.close()
			return nil, err
		}
	}
	return in, nil
}

type stores struct {
	zones     geofenceservice.ZoneStore
	ledger    geofenceservice.Ledger
	directory interface {
		geofenceservice.Directory
		alert.Directory
	}
}

func newStores(db *sql.DB, seed []config.SeedPatient) (stores, error) {
	if db != nil {
		return stores{
			zones:     zone.NewPostgresStore(db),
			ledger:    ledger.NewPostgresStore(db),
			directory: caregiver.NewPostgresDirectory(db),
		}, nil
	}
	dir, err := seedDirectory(seed)
	if err != nil {
		return stores{}, err
	}
	return stores{
		zones:     zone.NewInMemoryStore(),
		ledger:    ledger.NewInMemoryStore(),
		directory: dir,
	}, nil
}

// seedDirectory loads the configured patients and caregivers into an
// in-memory directory.
func seedDirectory(seed []config.SeedPatient) (*caregiver.InMemoryDirectory, error) {
	dir := caregiver.NewInMemoryDirectory()
	for _, p := range seed {
		patientID, err := id.ParsePatientID(p.ID)
		if err != nil {
			return nil, fmt.Errorf("directory patient %q: %w", p.ID, err)
		}
		dir.AddPatient(caregiver.Patient{
			ID:        patientID,
			Username:  p.Username,
			FirstName: p.FirstName,
			LastName:  p.LastName,
		})
		for _, c := range p.Caregivers {
			caregiverID, err := id.ParseUserID(c.ID)
			if err != nil {
				return nil, fmt.Errorf("directory caregiver %q: %w", c.ID, err)
			}
			dir.Link(caregiver.Caregiver{
				ID:        caregiverID,
				PatientID: patientID,
				Username:  c.Username,
				FirstName: c.FirstName,
				LastName:  c.LastName,
				PushToken: c.PushToken,
			})
		}
	}
	return dir, nil
}

func newDispatcher(cfg *config.Config, in *infra, dir alert.Directory, reg prometheus.Registerer, log *slog.Logger) *alert.Dispatcher {
	breaker := circuit.New("expo-push",
		circuit.WithFailureThreshold(cfg.Push.BreakerFailures),
		circuit.WithCooldown(cfg.Push.BreakerCooldown),
	)
	sender := push.NewExpoClient(
		push.WithEndpoint(cfg.Push.Endpoint),
		push.WithAccessToken(cfg.Push.AccessToken),
		push.WithHTTPClient(&http.Client{Timeout: cfg.Push.Timeout}),
		push.WithRateLimit(cfg.Push.RatePerSecond, cfg.Push.Burst),
		push.WithBreaker(breaker),
		push.WithLogger(log),
	)

	opts := []alert.Option{
		alert.WithLogger(log),
		alert.WithMetrics(alert.NewMetrics(reg)),
		alert.WithMaxAttempts(cfg.Alerts.MaxAttempts),
		alert.WithAttemptTimeout(cfg.Push.Timeout),
		alert.WithBackoff(cfg.Alerts.BaseBackoff, cfg.Alerts.MaxBackoff),
		alert.WithConcurrency(cfg.Alerts.Concurrency),
	}
	if in.redis != nil {
		opts = append(opts, alert.WithGuard(guard.NewRedisGuard(in.redis, cfg.Alerts.GuardTTL)))
	} else {
		opts = append(opts, alert.WithGuard(guard.NewInMemoryGuard(cfg.Alerts.GuardTTL)))
	}
	if in.kafka != nil {
		opts = append(opts, alert.WithPublisher(publisher.NewKafkaPublisher(in.kafka, cfg.Kafka.AlertTopic)))
	}
	return alert.New(dir, sender, opts...)
}

// readiness pings every configured backend.
func readiness(in *infra) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var errs []error
		if in.db != nil {
			if err := in.db.PingContext(ctx); err != nil {
				errs = append(errs, fmt.Errorf("postgres: %w", err))
			}
		}
		if in.redis != nil {
			if err := in.redis.Health(ctx); err != nil {
				errs = append(errs, fmt.Errorf("redis: %w", err))
			}
		}
		if in.kafka != nil {
			if err := kafka.Health(ctx, in.kafka); err != nil {
				errs = append(errs, fmt.Errorf("kafka: %w", err))
			}
		}
		if err := errors.Join(errs...); err != nil {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	if cfg.UsesDevSigningKey() {
		log.Warn("using the built-in development JWT signing key")
	}

	in, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer in.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	st, err := newStores(in.db, cfg.Directory)
	if err != nil {
		return err
	}
	if in.db == nil && len(cfg.Directory) == 0 {
		log.Warn("no database and no seeded directory: every patient request will be forbidden")
	}
	dispatcher := newDispatcher(cfg, in, st.directory, reg, log)

	svcOpts := []geofenceservice.Option{
		geofenceservice.WithLogger(log),
		geofenceservice.WithMetrics(geofencemetrics.New(reg)),
		geofenceservice.WithDispatcher(dispatcher),
		geofenceservice.WithHistoryLimits(cfg.History.DefaultLimit, cfg.History.MaxLimit),
	}
	if in.db != nil {
		svcOpts = append(svcOpts, geofenceservice.WithTx(newTrackingPostgresTx(in.db)))
	}
	svc := geofenceservice.New(st.zones, st.ledger, st.directory, svcOpts...)

	validator := jwttoken.NewJWTServiceAdapter(
		jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience),
	)

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Get("/readyz", readiness(in))
	router.Handle("/metrics", metrics.Handler(reg))
	handler.New(svc, log, metrics.New(reg), validator, cfg.Server.RequestTimeout).Register(router)

	srv := httpserver.New(cfg.Server, router)
	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting safezone", "addr", cfg.Server.Addr, "postgres", in.db != nil, "redis", in.redis != nil, "kafka", in.kafka != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	log.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Error("alert dispatches still in flight at shutdown", "error", err)
	}
	return nil
}
