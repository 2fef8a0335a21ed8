// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"libradesk/internal/catalog"
	"libradesk/internal/domain"
	"libradesk/internal/events"
	"libradesk/internal/store"
)

// InstrumentationName names the ledger's tracer and meter.
const InstrumentationName = "libradesk/circulation"

// service implements the Service interface.
type service struct {
	store     store.Store
	clock     domain.Clock
	publisher events.Publisher
	meter     metric.Meter
	metrics   *ledgerMetrics
	tracer    trace.Tracer
	log       *zap.Logger
}

// Option configures the circulation service.
type Option func(*service)

// WithClock sets the clock used for issue, due and return dates.
func WithClock(c domain.Clock) Option {
	return func(s *service) { s.clock = c }
}

// WithPublisher sets where loan events go. Events are dropped by default.
func WithPublisher(p events.Publisher) Option {
	return func(s *service) { s.publisher = p }
}

// WithMeter sets the meter the ledger counters are registered on.
func WithMeter(m metric.Meter) Option {
	return func(s *service) { s.meter = m }
}

// NewService creates a new circulation service instance.
func NewService(st store.Store, log *zap.Logger, opts ...Option) Service {
	s := &service{
		store:     st,
		clock:     domain.SystemClock,
		publisher: events.NopPublisher{},
		meter:     otel.Meter(InstrumentationName),
		tracer:    otel.Tracer(InstrumentationName),
		log:       log.Named("circulation"),
	}
	for _, opt := range opts {
		opt(s)
	}

	m, err := newLedgerMetrics(s.meter)
	if err != nil {
		s.log.Warn("Ledger metrics disabled", zap.Error(err))
		m, _ = newLedgerMetrics(noop.NewMeterProvider().Meter(InstrumentationName))
	}
	s.metrics = m
	return s
}

// Issue lends one copy of bookID to memberID. The copy count is taken with a
// guarded update on the observed count, so two issues racing for the last
// copy cannot both succeed. The book is written before the transaction; if
// the insert then fails the book stays decremented and Audit reports it.
func (s *service) Issue(ctx context.Context, bookID, memberID string, dueDays int) (*Transaction, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.Issue", trace.WithAttributes(
		attribute.String("book.id", bookID),
		attribute.String("member.id", memberID),
		attribute.Int("due_days", dueDays),
	))
	defer span.End()

	t, err := s.issue(ctx, bookID, memberID, dueDays)
	if err != nil {
		s.metrics.reject(ctx, "issue", reason(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("transaction.id", t.ID))
	s.metrics.issued.Add(ctx, 1)
	s.publish(ctx, events.EventTypeLoanIssued, t)
	return t, nil
}

func (s *service) issue(ctx context.Context, bookID, memberID string, dueDays int) (*Transaction, error) {
	if dueDays < MinDueDays || dueDays > MaxDueDays {
		return nil, domain.Invalid("due_days", fmt.Sprintf("must be between %d and %d", MinDueDays, MaxDueDays))
	}

	bookRec, err := s.store.Find(ctx, store.TableBooks, bookID)
	if err != nil {
		return nil, store.Translate(err, fmt.Sprintf("book %s", bookID))
	}
	book, err := catalog.BookFromRecord(bookRec)
	if err != nil {
		return nil, store.Translate(err, fmt.Sprintf("book %s", bookID))
	}
	if _, err := s.store.Find(ctx, store.TableMembers, memberID); err != nil {
		return nil, store.Translate(err, fmt.Sprintf("member %s", memberID))
	}

	if book.AvailableCopies <= 0 {
		return nil, fmt.Errorf("book %s has no available copies: %w", bookID, domain.ErrConstraintViolation)
	}

	bookRec, err = s.store.Update(ctx, store.TableBooks, bookID,
		catalog.AdjustCopiesRecord(-1),
		store.Gt("available_copies", 0),
	)
	if errors.Is(err, store.ErrConflict) {
		return nil, fmt.Errorf("book %s has no available copies: %w", bookID, domain.ErrConstraintViolation)
	}
	if err != nil {
		return nil, store.Translate(err, fmt.Sprintf("book %s", bookID))
	}
	remaining, _ := bookRec.Int("available_copies")

	now := s.clock.Now()
	rec, err := s.store.Insert(ctx, store.TableTransactions, store.Record{
		"book_id":    bookID,
		"member_id":  memberID,
		"issue_date": now,
		"due_date":   now.AddDate(0, 0, dueDays),
		"status":     string(StatusActive),
	})
	if err != nil {
		s.log.Error("Partial issue: book decremented but no transaction recorded",
			zap.String("book_id", bookID),
			zap.String("member_id", memberID),
			zap.Int("available_copies", remaining),
			zap.Error(err),
		)
		return nil, store.Translate(err, "transaction")
	}

	t, err := TransactionFromRecord(rec)
	if err != nil {
		return nil, store.Translate(err, "transaction")
	}
	s.log.Info("Book issued",
		zap.String("transaction_id", t.ID),
		zap.String("book_id", bookID),
		zap.String("member_id", memberID),
		zap.Time("due_date", t.DueDate),
	)
	return t, nil
}

// Return closes transactionID and puts the copy back, never above total.
func (s *service) Return(ctx context.Context, transactionID string) (*Transaction, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.Return", trace.WithAttributes(
		attribute.String("transaction.id", transactionID),
	))
	defer span.End()

	t, err := s.doReturn(ctx, transactionID)
	if err != nil {
		s.metrics.reject(ctx, "return", reason(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.metrics.returned.Add(ctx, 1)
	s.publish(ctx, events.EventTypeLoanReturned, t)
	return t, nil
}

func (s *service) doReturn(ctx context.Context, transactionID string) (*Transaction, error) {
	subject := fmt.Sprintf("transaction %s", transactionID)
	rec, err := s.store.Find(ctx, store.TableTransactions, transactionID)
	if err != nil {
		return nil, store.Translate(err, subject)
	}
	t, err := TransactionFromRecord(rec)
	if err != nil {
		return nil, store.Translate(err, subject)
	}
	if t.Status == StatusReturned {
		return nil, fmt.Errorf("%s was already returned: %w", subject, domain.ErrInvalidState)
	}

	now := s.clock.Now()
	if now.Before(t.IssueDate) {
		now = t.IssueDate
	}
	rec, err = s.store.Update(ctx, store.TableTransactions, transactionID, store.Record{
		"status":      string(StatusReturned),
		"return_date": now,
	}, store.Eq("status", string(StatusActive)))
	if errors.Is(err, store.ErrConflict) {
		return nil, fmt.Errorf("%s was returned concurrently: %w", subject, domain.ErrInvalidState)
	}
	if err != nil {
		return nil, store.Translate(err, subject)
	}
	returned, err := TransactionFromRecord(rec)
	if err != nil {
		return nil, store.Translate(err, subject)
	}

	if err := s.restock(ctx, t.BookID); err != nil {
		s.log.Error("Partial return: transaction closed but book not restocked",
			zap.String("transaction_id", transactionID),
			zap.String("book_id", t.BookID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("restock book %s after %s: %w: %w", t.BookID, subject, domain.ErrStore, err)
	}

	s.log.Info("Book returned",
		zap.String("transaction_id", transactionID),
		zap.String("book_id", t.BookID),
		zap.Bool("late", now.After(t.DueDate)),
	)
	return returned, nil
}

func (s *service) restock(ctx context.Context, bookID string) error {
	_, err := s.store.Update(ctx, store.TableBooks, bookID,
		catalog.AdjustCopiesRecord(1),
		store.Lt("available_copies", store.Ref("total_copies")),
	)
	if errors.Is(err, store.ErrConflict) {
		s.log.Warn("Book already at total copies, restock skipped", zap.String("book_id", bookID))
		return nil
	}
	return err
}

// GetLoan retrieves one transaction with its book and member details.
func (s *service) GetLoan(ctx context.Context, transactionID string) (*Loan, error) {
	loans, err := s.queryLoans(ctx, store.Query{
		Where: []store.Condition{store.Eq("id", transactionID)},
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(loans) == 0 {
		return nil, fmt.Errorf("transaction %s: %w", transactionID, domain.ErrNotFound)
	}
	return loans[0], nil
}

// ListLoans returns loans matching f, newest first.
func (s *service) ListLoans(ctx context.Context, f ListFilter) ([]*Loan, error) {
	q := store.Query{OrderBy: "created_at", Desc: true, Limit: f.Limit}
	switch f.Status {
	case "":
	case StatusActive, StatusReturned:
		q.Where = append(q.Where, store.Eq("status", string(f.Status)))
	default:
		return nil, domain.Invalid("status", "must be active or returned")
	}
	if f.BookID != "" {
		q.Where = append(q.Where, store.Eq("book_id", f.BookID))
	}
	if f.MemberID != "" {
		q.Where = append(q.Where, store.Eq("member_id", f.MemberID))
	}
	if f.OverdueOnly {
		q.Where = append(q.Where, overdueConditions(s.clock.Now())...)
	}
	return s.queryLoans(ctx, q)
}

// Overdue lists active loans past due, the longest overdue first.
func (s *service) Overdue(ctx context.Context) ([]*Loan, error) {
	return s.queryLoans(ctx, store.Query{
		Where:   overdueConditions(s.clock.Now()),
		OrderBy: "due_date",
	})
}

func overdueConditions(now time.Time) []store.Condition {
	return []store.Condition{
		store.Eq("status", string(StatusActive)),
		store.Lt("due_date", now),
	}
}

func (s *service) queryLoans(ctx context.Context, q store.Query) ([]*Loan, error) {
	recs, err := s.store.QueryJoined(ctx, store.TableTransactions, q, loanJoins...)
	if err != nil {
		return nil, store.Translate(err, "transactions")
	}
	now := s.clock.Now()
	loans := make([]*Loan, 0, len(recs))
	for _, rec := range recs {
		l, err := loanFromRecord(rec, now)
		if err != nil {
			return nil, store.Translate(err, "transactions")
		}
		loans = append(loans, l)
	}
	return loans, nil
}

func (s *service) publish(ctx context.Context, eventType string, t *Transaction) {
	if err := s.publisher.Publish(ctx, eventType, t.payload()); err != nil {
		s.log.Warn("Loan event not published",
			zap.String("event_type", eventType),
			zap.String("transaction_id", t.ID),
			zap.Error(err),
		)
	}
}

func reason(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConstraintViolation):
		return "constraint"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	default:
		return "store"
	}
}
