package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-bank/internal/jobs"
	"github.com/odyssey-erp/odyssey-bank/internal/ledger"
)

// IntegrityChecker runs a full ledger scan. *ledger.Service satisfies it.
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context) (ledger.IntegrityReport, error)
}

// IntegrityScanJob reports users whose balances disagree with the journal.
type IntegrityScanJob struct {
	Checker IntegrityChecker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewIntegrityScanJob initialises the integrity scan handler.
func NewIntegrityScanJob(checker IntegrityChecker, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityScanJob {
	return &IntegrityScanJob{
		Checker: checker,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the scan for an Asynq task.
func (j *IntegrityScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IntegrityScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx, payload.RequestedBy)
	return err
}

// Run executes the scan and returns its report. Violations are findings and do
// not fail the run.
func (j *IntegrityScanJob) Run(ctx context.Context, requestedBy string) (ledger.IntegrityReport, error) {
	if j == nil || j.Checker == nil {
		return ledger.IntegrityReport{}, errors.New("integrity scan: checker not configured")
	}
	start := j.now()
	tracker := j.Metrics.Track(TaskLedgerIntegrityScan)
	logger := j.logger().With(slog.String("requested_by", requestedBy))
	logger.Info("starting integrity scan")

	report, err := j.Checker.CheckIntegrity(ctx)
	if err != nil {
		logger.Error("integrity scan failed", slog.Any("error", err))
		return report, tracker.End(err)
	}

	perKind := make(map[string]int)
	for _, v := range report.Violations {
		logger.Warn("ledger integrity violation",
			slog.String("user_id", v.UserID),
			slog.String("kind", v.Kind),
			slog.String("details", v.Details),
		)
		perKind[v.Kind]++
	}
	for kind, count := range perKind {
		j.Metrics.AddViolations(kind, count)
	}

	logger.Info("completed integrity scan",
		slog.Int("users", report.UsersScanned),
		slog.Int("violations", len(report.Violations)),
		slog.String("total", report.Total.StringFixed(2)),
		slog.Duration("duration", j.now().Sub(start)),
	)
	return report, tracker.End(nil)
}

func (j *IntegrityScanJob) now() time.Time {
	if j.clock == nil {
		return time.Now().UTC()
	}
	return j.clock()
}

func (j *IntegrityScanJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
