package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"github.com/wolfman30/pharma-scheduling/internal/analytics"
	"github.com/wolfman30/pharma-scheduling/internal/approval"
	"github.com/wolfman30/pharma-scheduling/internal/availability"
	"github.com/wolfman30/pharma-scheduling/internal/booking"
	"github.com/wolfman30/pharma-scheduling/internal/calendar"
	appconfig "github.com/wolfman30/pharma-scheduling/internal/config"
	"github.com/wolfman30/pharma-scheduling/internal/notify"
	"github.com/wolfman30/pharma-scheduling/internal/observability/metrics"
	"github.com/wolfman30/pharma-scheduling/internal/pharma"
	"github.com/wolfman30/pharma-scheduling/internal/worker/sweeper"
	"github.com/wolfman30/pharma-scheduling/pkg/logging"
)

// Options carries process-level dependencies that callers own.
type Options struct {
	// AWS is nil when no AWS-backed adapter is configured.
	AWS *aws.Config
	// Registerer receives the scheduling metrics; nil means prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// Queries overrides the store built from DATABASE_URL.
	Queries pharma.Queries
}

// App is the fully wired scheduling service.
type App struct {
	Queries      pharma.Queries
	Availability *availability.Engine
	Approval     *approval.Engine
	Scheduler    *notify.Scheduler
	Booking      *booking.Orchestrator
	Sweeper      *sweeper.Sweeper
	Metrics      *metrics.SchedulingMetrics

	pool    *pgxpool.Pool
	auditDB *sql.DB
	redis   *redis.Client
}

// Close releases database and cache connections.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.auditDB != nil {
		_ = a.auditDB.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

// Build wires config into the engines. Optional collaborators that are not configured are
// replaced by in-process defaults and logged.
func Build(ctx context.Context, cfg *appconfig.Config, opts Options, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	app := &App{Metrics: metrics.NewSchedulingMetrics(opts.Registerer)}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	if opts.Queries != nil {
		app.Queries = opts.Queries
	} else {
		app.Queries, app.pool, err = BuildQueries(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	recorder, auditDB, err := BuildAuditRecorder(cfg, logger)
	if err != nil {
		return nil, err
	}
	app.auditDB = auditDB

	app.redis = BuildRedisClient(ctx, cfg, logger, true)

	notifier, provider, err := BuildNotifier(cfg, opts.AWS, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("notifications configured", "provider", provider)

	app.Scheduler = notify.NewScheduler(BuildScheduleStore(cfg, opts.AWS, logger), notifier, logger).
		WithMaxAttempts(cfg.NotificationMaxAttempts).
		WithMetrics(app.Metrics)

	app.Availability = availability.NewEngine(app.Queries, logger.Component("availability")).
		WithLocation(loc).
		WithMetrics(app.Metrics).
		WithStaffDirectory(availability.ParseStaffDirectory(cfg.StaffEmails))
	if app.redis != nil {
		app.Availability.WithCache(availability.NewRedisCache(app.redis), cfg.AvailabilityCacheTTL)
	} else {
		app.Availability.WithCache(nil, cfg.AvailabilityCacheTTL)
	}
	if cal := buildCalendar(ctx, cfg, logger); cal != nil {
		app.Availability.WithCalendar(cal)
	}
	if patterns := buildPatterns(cfg, opts.AWS, logger); patterns != nil {
		app.Availability.WithPopularity(patterns)
	}

	configs, err := BuildWorkflowConfigs(cfg, app.redis, logger)
	if err != nil {
		return nil, err
	}
	app.Approval = approval.NewEngine(approval.Deps{
		Queries:   app.Queries,
		Configs:   configs,
		Notifier:  notifier,
		Audit:     recorder,
		Reminders: app.Scheduler,
		Location:  loc,
		Metrics:   app.Metrics,
		Logger:    logger,
	})

	app.Booking = booking.NewOrchestrator(booking.Deps{
		Queries:      app.Queries,
		Availability: app.Availability,
		Approval:     app.Approval,
		Notifier:     notifier,
		Scheduler:    app.Scheduler,
		Location:     loc,
		Metrics:      app.Metrics,
		Logger:       logger,
	}, BookingPolicy(cfg))

	app.Sweeper = sweeper.New(app.Approval, app.Scheduler, logger).
		WithIntervals(cfg.EscalationSweepInterval, cfg.NotificationSweepInterval).
		WithMetrics(app.Metrics)

	ok = true
	return app, nil
}

// BookingPolicy maps the booking settings from config.
func BookingPolicy(cfg *appconfig.Config) booking.Policy {
	policy := booking.DefaultPolicy()
	if cfg == nil {
		return policy
	}
	if cfg.MaxAdvanceBookingDays > 0 {
		policy.MaxAdvanceBookingDays = cfg.MaxAdvanceBookingDays
	}
	if cfg.CancellationMinimumHours >= 0 {
		policy.CancellationMinimumHours = cfg.CancellationMinimumHours
	}
	if cfg.AlternativeCount > 0 {
		policy.AlternativeCount = cfg.AlternativeCount
	}
	policy.AllowSameDayBooking = cfg.AllowSameDayBooking
	return policy
}

func buildCalendar(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) calendar.Checker {
	path := strings.TrimSpace(cfg.GoogleCalendarCredentialsFile)
	if path == "" {
		return nil
	}
	cal, err := calendar.NewGoogleCalendar(ctx, logger, option.WithCredentialsFile(path))
	if err != nil {
		logger.Warn("google calendar unavailable; staff availability uses defaults", "error", err)
		return nil
	}
	return cal
}

func buildPatterns(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) analytics.Provider {
	bucket := strings.TrimSpace(cfg.HistoricalPatternsBucket)
	if bucket == "" || awsCfg == nil {
		return nil
	}
	return analytics.NewS3PatternStore(s3.NewFromConfig(*awsCfg), bucket, cfg.HistoricalPatternsKey, 0, logger)
}
