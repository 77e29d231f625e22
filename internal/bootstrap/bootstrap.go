package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/kirillkom/patient-deep-search/internal/config"
	"github.com/kirillkom/patient-deep-search/internal/core/domain"
	"github.com/kirillkom/patient-deep-search/internal/core/ports"
	"github.com/kirillkom/patient-deep-search/internal/core/usecase"
	"github.com/kirillkom/patient-deep-search/internal/core/voice"
	auditnats "github.com/kirillkom/patient-deep-search/internal/infrastructure/audit/nats"
	"github.com/kirillkom/patient-deep-search/internal/infrastructure/prefs"
	"github.com/kirillkom/patient-deep-search/internal/infrastructure/recordsapi"
	"github.com/kirillkom/patient-deep-search/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/patient-deep-search/internal/infrastructure/resilience"
	"github.com/kirillkom/patient-deep-search/internal/infrastructure/speech"
	"github.com/kirillkom/patient-deep-search/internal/infrastructure/upload/localfs"
	"github.com/kirillkom/patient-deep-search/internal/observability/metrics"
)

type Options struct {
	Logger   *slog.Logger
	Observer ports.DeepSearchObserver
	// OnBreakerChange receives circuit breaker transitions of backend operations.
	OnBreakerChange func(operation string, from, to resilience.BreakerState)
	// HostSpeech uses this machine's microphone and speaker and persists the
	// voice toggle in PREFS_PATH. Servers leave it off.
	HostSpeech bool
}

type App struct {
	Config config.Config

	Records *recordsapi.Client
	Audit   ports.AuditSink
	Loader  *localfs.Loader

	speechIn  ports.SpeechInput
	speechOut ports.SpeechOutput
	prefs     ports.PreferenceStore
	observer  ports.DeepSearchObserver
	logger    *slog.Logger

	closeFn func()
}

func New(_ context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	contract, err := recordsapi.LoadContract()
	if err != nil {
		return nil, fmt.Errorf("load records contract: %w", err)
	}

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts: cfg.RetryMaxAttempts,
		AttemptTimeout:   cfg.RetryAttemptTimeout,
		BreakerEnabled:   cfg.BreakerEnabled,
		OnBreakerChange:  opts.OnBreakerChange,
		Logger:           logger,
	})

	var limiter *rate.Limiter
	if cfg.RecordsRateLimitRPS > 0 {
		burst := cfg.RecordsRateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RecordsRateLimitRPS), burst)
	}

	records := recordsapi.New(cfg.RecordsAPIURL, recordsapi.Options{
		Executor:   executor,
		Limiter:    limiter,
		Contract:   contract,
		QueryField: cfg.RecordsQueryField,
	})

	app := &App{
		Config:   cfg,
		Records:  records,
		Loader:   localfs.NewLoader(logger),
		observer: opts.Observer,
		logger:   logger,
	}

	closers := []func(){}
	if cfg.AuditEnabled {
		bus, err := auditnats.NewWithOptions(cfg.NATSURL, cfg.AuditNATSSubject, auditnats.Options{
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init audit bus: %w", err)
		}
		app.Audit = bus
		closers = append(closers, bus.Close)
	} else {
		app.Audit = logAuditSink{logger: logger}
	}

	if opts.HostSpeech {
		app.speechIn, app.speechOut = speech.Detect(speech.Config{
			TranscribeURL:  cfg.SpeechTranscribeURL,
			CaptureCommand: cfg.SpeechCaptureCommand,
			TTSURL:         cfg.SpeechTTSURL,
			TTSVoice:       cfg.SpeechTTSVoice,
			PlayerCommand:  cfg.SpeechPlayerCommand,
			Executor:       executor,
		}, logger)
		app.prefs = prefs.NewFileStore(cfg.PrefsPath)
	} else {
		app.speechIn, app.speechOut = speech.Unsupported{}, speech.Unsupported{}
	}

	app.closeFn = func() {
		for _, closeFn := range closers {
			closeFn()
		}
	}
	return app, nil
}

// NewConversation builds an unopened Deep Search controller for session.
func (a *App) NewConversation(session domain.Session) *usecase.DeepSearch {
	store := a.prefs
	if store == nil {
		store = &prefs.Memory{}
	}
	logger := a.logger.With("session_id", session.ID)
	return usecase.NewDeepSearch(a.Records, usecase.DeepSearchOptions{
		Session:        session,
		Voice:          voice.NewAdapter(a.speechIn, a.speechOut, store, logger),
		Audit:          a.Audit,
		Observer:       a.observer,
		Logger:         logger,
		RequestTimeout: a.Config.RequestTimeout,
	})
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// Worker moves audit events from the bus into PostgreSQL.
type Worker struct {
	Config    config.Config
	Bus       *auditnats.Bus
	Persister *usecase.AuditPersister
	Metrics   *metrics.WorkerMetrics

	closeFn func()
}

func NewWorker(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Worker, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewAuditRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	// The worker only subscribes, so its bus carries no publish executor.
	bus, err := auditnats.NewWithOptions(cfg.NATSURL, cfg.AuditNATSSubject, auditnats.Options{Logger: logger})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init audit bus: %w", err)
	}

	workerMetrics := metrics.NewWorkerMetrics("worker")
	return &Worker{
		Config:    cfg,
		Bus:       bus,
		Persister: usecase.NewAuditPersister(repo, workerMetrics, logger),
		Metrics:   workerMetrics,
		closeFn: func() {
			bus.Close()
			_ = db.Close()
		},
	}, nil
}

func (w *Worker) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}

// logAuditSink keeps the audit trail in the log when no bus is configured.
type logAuditSink struct {
	logger *slog.Logger
}

func (s logAuditSink) Record(_ context.Context, event domain.AuditEvent) error {
	s.logger.Info("audit_event",
		"event_id", event.ID,
		"session_id", event.SessionID,
		"username", event.Username,
		"operation", event.Operation,
		"patient_id", event.PatientID,
		"outcome", event.Outcome,
		"duration_ms", event.DurationMS,
	)
	return nil
}
