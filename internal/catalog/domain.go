// internal/catalog/domain.go
package catalog

import (
	"fmt"
	"strings"
	"time"

	"libradesk/internal/domain"
	"libradesk/internal/store"
)

// Availability is derived from the available copy count.
type Availability string

const (
	StatusAvailable Availability = "available"
	StatusBorrowed  Availability = "borrowed"
)

// AvailabilityFor returns the status a book with available copies must carry.
func AvailabilityFor(available int) Availability {
	if available > 0 {
		return StatusAvailable
	}
	return StatusBorrowed
}

// Categories lists the shelves a book can be filed under.
var Categories = []string{
	"Fiction",
	"Non-Fiction",
	"Science",
	"Technology",
	"History",
	"Biography",
	"Reference",
	"Children",
}

// Book is a catalog entry with a fixed total and a variable available count.
type Book struct {
	ID                 string       `json:"id"`
	Title              string       `json:"title"`
	Author             string       `json:"author"`
	ISBN               string       `json:"isbn"`
	Category           string       `json:"category"`
	TotalCopies        int          `json:"total_copies"`
	AvailableCopies    int          `json:"available_copies"`
	AvailabilityStatus Availability `json:"availability_status"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// OnLoan is the number of copies currently out.
func (b *Book) OnLoan() int {
	return b.TotalCopies - b.AvailableCopies
}

// BookInput carries the editable fields of a book.
type BookInput struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	ISBN        string `json:"isbn"`
	Category    string `json:"category"`
	TotalCopies int    `json:"total_copies"`
}

// Validate trims the input and checks every field.
func (in *BookInput) Validate() error {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	in.ISBN = strings.TrimSpace(in.ISBN)
	in.Category = strings.TrimSpace(in.Category)

	switch {
	case in.Title == "":
		return domain.Invalid("title", "is required")
	case in.Author == "":
		return domain.Invalid("author", "is required")
	case in.ISBN == "":
		return domain.Invalid("isbn", "is required")
	case !knownCategory(in.Category):
		return domain.Invalid("category", fmt.Sprintf("must be one of %s", strings.Join(Categories, ", ")))
	case in.TotalCopies < 1:
		return domain.Invalid("total_copies", "must be at least 1")
	}
	return nil
}

func knownCategory(c string) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Filter narrows a book listing.
type Filter struct {
	Search        string // title, author, isbn or category
	AvailableOnly bool
	Limit         int
}

// CopiesRecord is the update that sets the available count and its derived status.
func CopiesRecord(available int) store.Record {
	return store.Record{
		"available_copies":    available,
		"availability_status": string(AvailabilityFor(available)),
	}
}

// AdjustCopiesRecord moves available_copies by delta from whatever the row
// holds at write time, with the status following the new count.
func AdjustCopiesRecord(delta int) store.Record {
	return store.Record{
		"available_copies": store.Delta(delta),
		"availability_status": store.SignCase{
			Column:    "available_copies",
			Offset:    delta,
			Positive:  string(StatusAvailable),
			Otherwise: string(StatusBorrowed),
		},
	}
}

// BookFromRecord maps a books row.
func BookFromRecord(rec store.Record) (*Book, error) {
	var (
		b   Book
		err error
	)
	if b.ID, err = rec.String("id"); err != nil {
		return nil, err
	}
	if b.Title, err = rec.String("title"); err != nil {
		return nil, err
	}
	if b.Author, err = rec.String("author"); err != nil {
		return nil, err
	}
	if b.ISBN, err = rec.String("isbn"); err != nil {
		return nil, err
	}
	if b.Category, err = rec.String("category"); err != nil {
		return nil, err
	}
	if b.TotalCopies, err = rec.Int("total_copies"); err != nil {
		return nil, err
	}
	if b.AvailableCopies, err = rec.Int("available_copies"); err != nil {
		return nil, err
	}
	status, err := rec.String("availability_status")
	if err != nil {
		return nil, err
	}
	b.AvailabilityStatus = Availability(status)
	if b.CreatedAt, err = rec.Time("created_at"); err != nil {
		return nil, err
	}
	if b.UpdatedAt, err = rec.Time("updated_at"); err != nil {
		return nil, err
	}

	if b.TotalCopies < 1 || b.AvailableCopies < 0 || b.AvailableCopies > b.TotalCopies {
		return nil, fmt.Errorf("%w: book %s has %d of %d copies", store.ErrMalformed, b.ID, b.AvailableCopies, b.TotalCopies)
	}
	return &b, nil
}
