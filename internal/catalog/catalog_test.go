package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"libradesk/internal/domain"
	"libradesk/internal/store"
	"libradesk/internal/store/storetest"
)

func newTestService(t *testing.T) (Service, store.Store) {
	t.Helper()
	st := storetest.New(t, domain.NewFakeClock(storetest.Epoch))
	return NewService(st, zap.NewNop()), st
}

func validInput(title string, copies int) BookInput {
	return BookInput{
		Title:       title,
		Author:      "Frank Herbert",
		ISBN:        "978-0441013593",
		Category:    "Fiction",
		TotalCopies: copies,
	}
}

func TestAddBook(t *testing.T) {
	svc, _ := newTestService(t)

	book, err := svc.AddBook(context.Background(), validInput("  Dune ", 3))
	require.NoError(t, err)

	assert.NotEmpty(t, book.ID)
	assert.Equal(t, "Dune", book.Title)
	assert.Equal(t, 3, book.TotalCopies)
	assert.Equal(t, 3, book.AvailableCopies)
	assert.Equal(t, StatusAvailable, book.AvailabilityStatus)
}

func TestAddBook_Validation(t *testing.T) {
	svc, _ := newTestService(t)

	tests := []struct {
		name   string
		mutate func(*BookInput)
	}{
		{"missing title", func(in *BookInput) { in.Title = " " }},
		{"missing author", func(in *BookInput) { in.Author = "" }},
		{"missing isbn", func(in *BookInput) { in.ISBN = "" }},
		{"unknown category", func(in *BookInput) { in.Category = "Poetry" }},
		{"no copies", func(in *BookInput) { in.TotalCopies = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput("Dune", 1)
			tt.mutate(&in)
			_, err := svc.AddBook(context.Background(), in)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestGetBook_NotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.GetBook(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateBook_ShiftsAvailableWithTotal(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	book, err := svc.AddBook(ctx, validInput("Dune", 3))
	require.NoError(t, err)

	// two copies out
	_, err = st.Update(ctx, store.TableBooks, book.ID, CopiesRecord(1))
	require.NoError(t, err)

	in := validInput("Dune Messiah", 5)
	updated, err := svc.UpdateBook(ctx, book.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "Dune Messiah", updated.Title)
	assert.Equal(t, 5, updated.TotalCopies)
	assert.Equal(t, 3, updated.AvailableCopies)
	assert.Equal(t, 2, updated.OnLoan())

	in.TotalCopies = 2
	updated, err = svc.UpdateBook(ctx, book.ID, in)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.AvailableCopies)
	assert.Equal(t, StatusBorrowed, updated.AvailabilityStatus)

	in.TotalCopies = 1
	_, err = svc.UpdateBook(ctx, book.ID, in)
	assert.ErrorIs(t, err, domain.ErrConstraintViolation)
}

func TestRemoveBook(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	free, err := svc.AddBook(ctx, validInput("Free", 1))
	require.NoError(t, err)
	require.NoError(t, svc.RemoveBook(ctx, free.ID))
	_, err = svc.GetBook(ctx, free.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	lent, err := svc.AddBook(ctx, validInput("Lent", 1))
	require.NoError(t, err)
	member, err := st.Insert(ctx, store.TableMembers, store.Record{
		"member_id":       "M-9",
		"name":            "Reader",
		"email":           "reader@gmail.com",
		"phone":           "01234567890",
		"membership_date": storetest.Epoch,
	})
	require.NoError(t, err)
	memberID, _ := member.String("id")
	_, err = st.Insert(ctx, store.TableTransactions, store.Record{
		"book_id":     lent.ID,
		"member_id":   memberID,
		"issue_date":  storetest.Epoch,
		"due_date":    storetest.Epoch.AddDate(0, 0, 7),
		"return_date": storetest.Epoch.AddDate(0, 0, 1),
		"status":      "returned",
	})
	require.NoError(t, err)

	err = svc.RemoveBook(ctx, lent.ID)
	assert.ErrorIs(t, err, domain.ErrConstraintViolation)
}

func TestSearch(t *testing.T) {
	clock := domain.NewFakeClock(storetest.Epoch)
	st := storetest.New(t, clock)
	svc := NewService(st, zap.NewNop())
	ctx := context.Background()

	for _, in := range []BookInput{
		{Title: "A Brief History of Time", Author: "Stephen Hawking", ISBN: "978-0553380163", Category: "Science", TotalCopies: 2},
		{Title: "The Gruffalo", Author: "Julia Donaldson", ISBN: "978-0333710937", Category: "Children", TotalCopies: 1},
		{Title: "SPQR", Author: "Mary Beard", ISBN: "978-1631492228", Category: "History", TotalCopies: 1},
	} {
		_, err := svc.AddBook(ctx, in)
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}

	books, err := svc.Search(ctx, Filter{Search: "history"})
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, "SPQR", books[0].Title)
	assert.Equal(t, "A Brief History of Time", books[1].Title)

	books, err = svc.Search(ctx, Filter{Search: "0333"})
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "The Gruffalo", books[0].Title)

	gruffalo := books[0]
	_, err = st.Update(ctx, store.TableBooks, gruffalo.ID, CopiesRecord(0))
	require.NoError(t, err)

	books, err = svc.Search(ctx, Filter{AvailableOnly: true})
	require.NoError(t, err)
	assert.Len(t, books, 2)
}

func TestAvailabilityFor(t *testing.T) {
	assert.Equal(t, StatusAvailable, AvailabilityFor(1))
	assert.Equal(t, StatusBorrowed, AvailabilityFor(0))
}

func TestBookFromRecord_RejectsBrokenCounters(t *testing.T) {
	rec := store.Record{
		"id": "b1", "title": "t", "author": "a", "isbn": "i", "category": "Fiction",
		"total_copies": int64(1), "available_copies": int64(2), "availability_status": "available",
		"created_at": storetest.Epoch, "updated_at": storetest.Epoch,
	}
	_, err := BookFromRecord(rec)
	assert.ErrorIs(t, err, store.ErrMalformed)
}
