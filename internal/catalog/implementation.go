// internal/catalog/implementation.go
package catalog

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"libradesk/internal/domain"
	"libradesk/internal/store"
)

// service implements the Service interface.
type service struct {
	store store.Store
	log   *zap.Logger
}

// NewService creates a new catalog service instance.
func NewService(st store.Store, log *zap.Logger) Service {
	return &service{
		store: st,
		log:   log.Named("catalog"),
	}
}

// AddBook shelves a new title with every copy available.
func (s *service) AddBook(ctx context.Context, in BookInput) (*Book, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	rec, err := s.store.Insert(ctx, store.TableBooks, store.Record{
		"title":               in.Title,
		"author":              in.Author,
		"isbn":                in.ISBN,
		"category":            in.Category,
		"total_copies":        in.TotalCopies,
		"available_copies":    in.TotalCopies,
		"availability_status": string(AvailabilityFor(in.TotalCopies)),
	})
	if err != nil {
		return nil, store.Translate(err, "book")
	}

	book, err := BookFromRecord(rec)
	if err != nil {
		return nil, store.Translate(err, "book")
	}
	s.log.Info("Book added", zap.String("book_id", book.ID), zap.String("isbn", book.ISBN), zap.Int("copies", book.TotalCopies))
	return book, nil
}

// GetBook retrieves a book by its ID.
func (s *service) GetBook(ctx context.Context, id string) (*Book, error) {
	rec, err := s.store.Find(ctx, store.TableBooks, id)
	if err != nil {
		return nil, store.Translate(err, fmt.Sprintf("book %s", id))
	}
	book, err := BookFromRecord(rec)
	if err != nil {
		return nil, store.Translate(err, fmt.Sprintf("book %s", id))
	}
	return book, nil
}

// UpdateBook replaces the editable fields. Changing total_copies shifts the
// available count by the same amount, so copies on loan stay accounted for.
func (s *service) UpdateBook(ctx context.Context, id string, in BookInput) (*Book, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	book, err := s.GetBook(ctx, id)
	if err != nil {
		return nil, err
	}

	available := book.AvailableCopies + (in.TotalCopies - book.TotalCopies)
	if available < 0 {
		return nil, fmt.Errorf("book %s has %d copies on loan, cannot reduce total to %d: %w",
			id, book.OnLoan(), in.TotalCopies, domain.ErrConstraintViolation)
	}

	fields := CopiesRecord(available)
	fields["title"] = in.Title
	fields["author"] = in.Author
	fields["isbn"] = in.ISBN
	fields["category"] = in.Category
	fields["total_copies"] = in.TotalCopies

	rec, err := s.store.Update(ctx, store.TableBooks, id, fields,
		store.Eq("available_copies", book.AvailableCopies),
		store.Eq("total_copies", book.TotalCopies),
	)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			s.log.Warn("Book changed during update", zap.String("book_id", id))
		}
		return nil, store.Translate(err, fmt.Sprintf("book %s", id))
	}
	return BookFromRecord(rec)
}

// RemoveBook deletes a book that has never been lent out.
func (s *service) RemoveBook(ctx context.Context, id string) error {
	if _, err := s.GetBook(ctx, id); err != nil {
		return err
	}

	loans, err := s.store.Count(ctx, store.TableTransactions, store.Query{
		Where: []store.Condition{store.Eq("book_id", id)},
	})
	if err != nil {
		return store.Translate(err, "transactions")
	}
	if loans > 0 {
		return fmt.Errorf("book %s has %d transactions: %w", id, loans, domain.ErrConstraintViolation)
	}

	if err := s.store.Delete(ctx, store.TableBooks, id); err != nil {
		return store.Translate(err, fmt.Sprintf("book %s", id))
	}
	s.log.Info("Book removed", zap.String("book_id", id))
	return nil
}

// Search finds books whose title, author, isbn or category contain the search
// text, newest first.
func (s *service) Search(ctx context.Context, f Filter) ([]*Book, error) {
	q := store.Query{OrderBy: "created_at", Desc: true, Limit: f.Limit}
	if f.Search != "" {
		q.AnyOf = []store.Condition{
			store.Contains("title", f.Search),
			store.Contains("author", f.Search),
			store.Contains("isbn", f.Search),
			store.Contains("category", f.Search),
		}
	}
	if f.AvailableOnly {
		q.Where = append(q.Where, store.Gt("available_copies", 0))
	}

	recs, err := s.store.Query(ctx, store.TableBooks, q)
	if err != nil {
		return nil, store.Translate(err, "books")
	}

	books := make([]*Book, 0, len(recs))
	for _, rec := range recs {
		book, err := BookFromRecord(rec)
		if err != nil {
			return nil, store.Translate(err, "books")
		}
		books = append(books, book)
	}
	return books, nil
}
