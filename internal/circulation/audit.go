package circulation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"libradesk/internal/catalog"
	"libradesk/internal/domain"
	"libradesk/internal/store"
)

// Audit compares each book's copies on loan with its active transactions and
// returns the books where they disagree.
func (s *service) Audit(ctx context.Context) ([]Drift, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.Audit")
	defer span.End()

	books, err := s.store.Query(ctx, store.TableBooks, store.Query{OrderBy: "title"})
	if err != nil {
		return nil, store.Translate(err, "books")
	}
	active, err := s.store.Query(ctx, store.TableTransactions, store.Query{
		Where: []store.Condition{store.Eq("status", string(StatusActive))},
	})
	if err != nil {
		return nil, store.Translate(err, "transactions")
	}

	perBook := make(map[string]int, len(books))
	for _, rec := range active {
		id, err := rec.String("book_id")
		if err != nil {
			return nil, store.Translate(err, "transactions")
		}
		perBook[id]++
	}

	var drifts []Drift
	for _, rec := range books {
		d, err := driftFromRecord(rec, perBook)
		if err != nil {
			return nil, store.Translate(err, "books")
		}
		if d.TotalCopies-d.AvailableCopies != d.ActiveLoans {
			drifts = append(drifts, d)
		}
	}
	return drifts, nil
}

// driftFromRecord reads the counters raw so a book with broken counters is
// still reported instead of failing the whole audit.
func driftFromRecord(rec store.Record, active map[string]int) (Drift, error) {
	var (
		d   Drift
		err error
	)
	if d.BookID, err = rec.String("id"); err != nil {
		return d, err
	}
	if d.Title, err = rec.String("title"); err != nil {
		return d, err
	}
	if d.TotalCopies, err = rec.Int("total_copies"); err != nil {
		return d, err
	}
	if d.AvailableCopies, err = rec.Int("available_copies"); err != nil {
		return d, err
	}
	d.ActiveLoans = active[d.BookID]
	d.ExpectedAvailable = min(max(d.TotalCopies-d.ActiveLoans, 0), d.TotalCopies)
	return d, nil
}

// Reconcile resets a book's available count from its active transactions.
// The write is guarded on the counters it read.
func (s *service) Reconcile(ctx context.Context, bookID string) (*catalog.Book, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.Reconcile")
	defer span.End()

	subject := fmt.Sprintf("book %s", bookID)
	rec, err := s.store.Find(ctx, store.TableBooks, bookID)
	if err != nil {
		return nil, store.Translate(err, subject)
	}
	active, err := s.store.Count(ctx, store.TableTransactions, store.Query{
		Where: []store.Condition{
			store.Eq("book_id", bookID),
			store.Eq("status", string(StatusActive)),
		},
	})
	if err != nil {
		return nil, store.Translate(err, "transactions")
	}

	d, err := driftFromRecord(rec, map[string]int{bookID: active})
	if err != nil {
		return nil, store.Translate(err, subject)
	}
	if d.TotalCopies < 1 {
		return nil, fmt.Errorf("%s has %d total copies: %w", subject, d.TotalCopies, domain.ErrConstraintViolation)
	}

	updated, err := s.store.Update(ctx, store.TableBooks, bookID,
		catalog.CopiesRecord(d.ExpectedAvailable),
		store.Eq("available_copies", d.AvailableCopies),
		store.Eq("total_copies", d.TotalCopies),
	)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			s.log.Warn("Book changed during reconcile", zap.String("book_id", bookID))
		}
		return nil, store.Translate(err, subject)
	}

	if d.AvailableCopies != d.ExpectedAvailable {
		s.log.Warn("Book reconciled",
			zap.String("book_id", bookID),
			zap.Int("available_before", d.AvailableCopies),
			zap.Int("available_after", d.ExpectedAvailable),
			zap.Int("active_loans", active),
		)
	}
	return catalog.BookFromRecord(updated)
}
