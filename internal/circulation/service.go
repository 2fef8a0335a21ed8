// internal/circulation/service.go
package circulation

import (
	"context"

	"libradesk/internal/catalog"
)

// Service defines the interface for the circulation service: the loan ledger
// that keeps book copy counts in step with active transactions.
type Service interface {
	// Issue lends a copy of a book to a member for dueDays days.
	Issue(ctx context.Context, bookID, memberID string, dueDays int) (*Transaction, error)
	// Return closes an active transaction and puts the copy back on the shelf.
	Return(ctx context.Context, transactionID string) (*Transaction, error)

	GetLoan(ctx context.Context, transactionID string) (*Loan, error)
	ListLoans(ctx context.Context, f ListFilter) ([]*Loan, error)
	// Overdue lists active loans past their due date, most overdue first.
	Overdue(ctx context.Context) ([]*Loan, error)

	Audit(ctx context.Context) ([]Drift, error)
	Reconcile(ctx context.Context, bookID string) (*catalog.Book, error)
}
