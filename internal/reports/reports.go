// Package reports aggregates the catalog, membership and loan tables into the
// figures shown on the staff dashboard and reports pages.
package reports

import (
	"context"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"libradesk/internal/circulation"
	"libradesk/internal/domain"
	"libradesk/internal/store"
)

// RecentLimit is how many transactions the recent activity report shows.
const RecentLimit = 10

// Dashboard is the headline figures.
type Dashboard struct {
	TotalBooks   int `json:"total_books"`
	TotalMembers int `json:"total_members"`
	ActiveLoans  int `json:"active_loans"`
	OverdueLoans int `json:"overdue_loans"`
}

// Summary breaks copies and transactions down by state.
type Summary struct {
	TotalCopies       int `json:"total_copies"`
	AvailableCopies   int `json:"available_copies"`
	BorrowedCopies    int `json:"borrowed_copies"`
	TotalMembers      int `json:"total_members"`
	TotalTransactions int `json:"total_transactions"`
	ActiveLoans       int `json:"active_loans"`
	ReturnedLoans     int `json:"returned_loans"`
	OverdueLoans      int `json:"overdue_loans"`
}

// CategoryCount is the number of copies filed under a category.
type CategoryCount struct {
	Category string `json:"category"`
	Copies   int    `json:"copies"`
}

// Service computes reports straight from the store, reusing the loan views
// of the circulation service for the joined listings.
type Service struct {
	store  store.Store
	loans  circulation.Service
	clock  domain.Clock
	tracer trace.Tracer
	log    *zap.Logger
}

func NewService(st store.Store, loans circulation.Service, clock domain.Clock, log *zap.Logger) *Service {
	return &Service{
		store:  st,
		loans:  loans,
		clock:  clock,
		tracer: otel.Tracer("libradesk/reports"),
		log:    log.Named("reports"),
	}
}

func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	ctx, span := s.tracer.Start(ctx, "reports.Dashboard")
	defer span.End()

	var (
		d   Dashboard
		err error
	)
	if d.TotalBooks, err = s.count(ctx, store.TableBooks); err != nil {
		return nil, err
	}
	if d.TotalMembers, err = s.count(ctx, store.TableMembers); err != nil {
		return nil, err
	}
	if d.ActiveLoans, err = s.count(ctx, store.TableTransactions, store.Eq("status", string(circulation.StatusActive))); err != nil {
		return nil, err
	}
	if d.OverdueLoans, err = s.overdueCount(ctx); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	ctx, span := s.tracer.Start(ctx, "reports.Summary")
	defer span.End()

	books, err := s.store.Query(ctx, store.TableBooks, store.Query{})
	if err != nil {
		return nil, store.Translate(err, "books")
	}

	var sum Summary
	for _, rec := range books {
		total, err := rec.Int("total_copies")
		if err != nil {
			return nil, store.Translate(err, "books")
		}
		available, err := rec.Int("available_copies")
		if err != nil {
			return nil, store.Translate(err, "books")
		}
		sum.TotalCopies += total
		sum.AvailableCopies += available
	}
	sum.BorrowedCopies = sum.TotalCopies - sum.AvailableCopies

	if sum.TotalMembers, err = s.count(ctx, store.TableMembers); err != nil {
		return nil, err
	}
	if sum.TotalTransactions, err = s.count(ctx, store.TableTransactions); err != nil {
		return nil, err
	}
	if sum.ActiveLoans, err = s.count(ctx, store.TableTransactions, store.Eq("status", string(circulation.StatusActive))); err != nil {
		return nil, err
	}
	if sum.ReturnedLoans, err = s.count(ctx, store.TableTransactions, store.Eq("status", string(circulation.StatusReturned))); err != nil {
		return nil, err
	}
	if sum.OverdueLoans, err = s.overdueCount(ctx); err != nil {
		return nil, err
	}
	return &sum, nil
}

// Categories sums total copies per category, largest first.
func (s *Service) Categories(ctx context.Context) ([]CategoryCount, error) {
	books, err := s.store.Query(ctx, store.TableBooks, store.Query{})
	if err != nil {
		return nil, store.Translate(err, "books")
	}

	copies := make(map[string]int)
	for _, rec := range books {
		category, err := rec.String("category")
		if err != nil {
			return nil, store.Translate(err, "books")
		}
		total, err := rec.Int("total_copies")
		if err != nil {
			return nil, store.Translate(err, "books")
		}
		copies[category] += total
	}

	out := make([]CategoryCount, 0, len(copies))
	for category, n := range copies {
		out = append(out, CategoryCount{Category: category, Copies: n})
	}
	slices.SortFunc(out, func(a, b CategoryCount) int {
		if a.Copies != b.Copies {
			return b.Copies - a.Copies
		}
		return strings.Compare(a.Category, b.Category)
	})
	return out, nil
}

// Overdue lists loans past due, the longest overdue first.
func (s *Service) Overdue(ctx context.Context) ([]*circulation.Loan, error) {
	return s.loans.Overdue(ctx)
}

// Recent lists the most recently created transactions.
func (s *Service) Recent(ctx context.Context) ([]*circulation.Loan, error) {
	return s.loans.ListLoans(ctx, circulation.ListFilter{Limit: RecentLimit})
}

func (s *Service) count(ctx context.Context, table string, where ...store.Condition) (int, error) {
	n, err := s.store.Count(ctx, table, store.Query{Where: where})
	if err != nil {
		return 0, store.Translate(err, table)
	}
	return n, nil
}

func (s *Service) overdueCount(ctx context.Context) (int, error) {
	return s.count(ctx, store.TableTransactions,
		store.Eq("status", string(circulation.StatusActive)),
		store.Lt("due_date", s.clock.Now()),
	)
}
