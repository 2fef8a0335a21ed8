// internal/catalog/service.go
package catalog

import "context"

// Service defines the interface for the catalog service.
type Service interface {
	AddBook(ctx context.Context, in BookInput) (*Book, error)
	GetBook(ctx context.Context, id string) (*Book, error)
	UpdateBook(ctx context.Context, id string, in BookInput) (*Book, error)
	RemoveBook(ctx context.Context, id string) error
	Search(ctx context.Context, f Filter) ([]*Book, error)
}
