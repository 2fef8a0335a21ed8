// Package jobs runs the periodic ledger chores: the overdue sweep and the
// counter audit.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"libradesk/internal/circulation"
	"libradesk/internal/events"
)

// jobTimeout bounds a single run of any job.
const jobTimeout = 2 * time.Minute

// Scheduler owns the cron runner and the jobs registered on it.
type Scheduler struct {
	cron      *cron.Cron
	loans     circulation.Service
	publisher events.Publisher
	log       *zap.Logger
}

func NewScheduler(loans circulation.Service, publisher events.Publisher, log *zap.Logger) *Scheduler {
	log = log.Named("jobs")
	cl := cronLogger{log.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		loans:     loans,
		publisher: publisher,
		log:       log,
	}
}

// Register schedules the overdue sweep and the audit on standard five-field
// cron specs. An empty spec leaves that job off.
func (s *Scheduler) Register(overdueSpec, auditSpec string) error {
	if overdueSpec != "" {
		if _, err := s.cron.AddFunc(overdueSpec, s.run("overdue-sweep", s.SweepOverdue)); err != nil {
			return fmt.Errorf("schedule overdue sweep %q: %w", overdueSpec, err)
		}
	}
	if auditSpec != "" {
		if _, err := s.cron.AddFunc(auditSpec, s.run("ledger-audit", s.AuditLedger)); err != nil {
			return fmt.Errorf("schedule ledger audit %q: %w", auditSpec, err)
		}
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop halts the scheduler and waits for running jobs, or until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
		s.log.Info("Scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("Scheduler stop timed out", zap.Error(ctx.Err()))
	}
}

func (s *Scheduler) run(name string, job func(context.Context) (int, error)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		start := time.Now()
		n, err := job(ctx)
		if err != nil {
			s.log.Error("Job failed", zap.String("job", name), zap.Error(err))
			return
		}
		s.log.Info("Job finished",
			zap.String("job", name),
			zap.Int("items", n),
			zap.Duration("took", time.Since(start)),
		)
	}
}

// SweepOverdue publishes a loan.overdue event for every overdue loan and
// returns how many there were. Publish failures are logged and skipped.
func (s *Scheduler) SweepOverdue(ctx context.Context) (int, error) {
	loans, err := s.loans.Overdue(ctx)
	if err != nil {
		return 0, err
	}
	for _, l := range loans {
		err := s.publisher.Publish(ctx, events.EventTypeLoanOverdue, map[string]interface{}{
			"transaction_id": l.ID,
			"book_id":        l.BookID,
			"book_title":     l.BookTitle,
			"member_id":      l.MemberID,
			"member_code":    l.MemberCode,
			"due_date":       l.DueDate,
			"days_overdue":   l.DaysOverdue,
		})
		if err != nil {
			s.log.Warn("Overdue event not published", zap.String("transaction_id", l.ID), zap.Error(err))
		}
	}
	if len(loans) > 0 {
		s.log.Info("Overdue loans found", zap.Int("count", len(loans)))
	}
	return len(loans), nil
}

// AuditLedger logs every book whose counters disagree with its active loans
// and returns how many there were.
func (s *Scheduler) AuditLedger(ctx context.Context) (int, error) {
	drifts, err := s.loans.Audit(ctx)
	if err != nil {
		return 0, err
	}
	for _, d := range drifts {
		s.log.Warn("Ledger drift",
			zap.String("book_id", d.BookID),
			zap.String("title", d.Title),
			zap.Int("total_copies", d.TotalCopies),
			zap.Int("available_copies", d.AvailableCopies),
			zap.Int("active_loans", d.ActiveLoans),
			zap.Int("expected_available", d.ExpectedAvailable),
		)
	}
	return len(drifts), nil
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
