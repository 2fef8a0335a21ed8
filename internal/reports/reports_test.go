package reports

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"libradesk/internal/catalog"
	"libradesk/internal/circulation"
	"libradesk/internal/domain"
	"libradesk/internal/membership"
	"libradesk/internal/store/storetest"
)

type library struct {
	reports *Service
	loans   circulation.Service
	clock   *domain.FakeClock
	books   map[string]string
	members []string
}

// newLibrary shelves three titles (5 copies in total) and registers two members.
func newLibrary(t *testing.T) *library {
	t.Helper()
	ctx := context.Background()
	clock := domain.NewFakeClock(storetest.Epoch)
	st := storetest.New(t, clock)
	log := zap.NewNop()

	books := catalog.NewService(st, log)
	members := membership.NewService(st, clock, "@gmail.com", log)
	loans := circulation.NewService(st, log, circulation.WithClock(clock))

	lib := &library{
		reports: NewService(st, loans, clock, log),
		loans:   loans,
		clock:   clock,
		books:   make(map[string]string),
	}
	for _, in := range []catalog.BookInput{
		{Title: "Cosmos", Author: "Carl Sagan", ISBN: "1", Category: "Science", TotalCopies: 2},
		{Title: "Contact", Author: "Carl Sagan", ISBN: "2", Category: "Fiction", TotalCopies: 1},
		{Title: "Pale Blue Dot", Author: "Carl Sagan", ISBN: "3", Category: "Science", TotalCopies: 2},
	} {
		b, err := books.AddBook(ctx, in)
		require.NoError(t, err)
		lib.books[b.Title] = b.ID
	}
	for i := 0; i < 2; i++ {
		m, err := members.RegisterMember(ctx, membership.MemberInput{
			MemberID: fmt.Sprintf("M-%d", i),
			Name:     fmt.Sprintf("Reader %d", i),
			Email:    fmt.Sprintf("reader%d@gmail.com", i),
			Phone:    "01711111111",
		})
		require.NoError(t, err)
		lib.members = append(lib.members, m.ID)
	}
	return lib
}

func TestEmptyLibrary(t *testing.T) {
	clock := domain.NewFakeClock(storetest.Epoch)
	st := storetest.New(t, clock)
	svc := NewService(st, circulation.NewService(st, zap.NewNop(), circulation.WithClock(clock)), clock, zap.NewNop())
	ctx := context.Background()

	d, err := svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, Dashboard{}, *d)

	cats, err := svc.Categories(ctx)
	require.NoError(t, err)
	assert.Empty(t, cats)

	recent, err := svc.Recent(ctx)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestReports(t *testing.T) {
	lib := newLibrary(t)
	ctx := context.Background()

	late, err := lib.loans.Issue(ctx, lib.books["Cosmos"], lib.members[0], 3)
	require.NoError(t, err)
	_, err = lib.loans.Issue(ctx, lib.books["Cosmos"], lib.members[1], 30)
	require.NoError(t, err)
	back, err := lib.loans.Issue(ctx, lib.books["Contact"], lib.members[0], 3)
	require.NoError(t, err)
	_, err = lib.loans.Return(ctx, back.ID)
	require.NoError(t, err)

	lib.clock.Advance(5 * 24 * time.Hour)

	d, err := lib.reports.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, Dashboard{TotalBooks: 3, TotalMembers: 2, ActiveLoans: 2, OverdueLoans: 1}, *d)

	sum, err := lib.reports.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{
		TotalCopies:       5,
		AvailableCopies:   3,
		BorrowedCopies:    2,
		TotalMembers:      2,
		TotalTransactions: 3,
		ActiveLoans:       2,
		ReturnedLoans:     1,
		OverdueLoans:      1,
	}, *sum)

	cats, err := lib.reports.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []CategoryCount{
		{Category: "Science", Copies: 4},
		{Category: "Fiction", Copies: 1},
	}, cats)

	overdue, err := lib.reports.Overdue(ctx)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, late.ID, overdue[0].ID)
	assert.Equal(t, "Cosmos", overdue[0].BookTitle)
	assert.Equal(t, 2, overdue[0].DaysOverdue)

	recent, err := lib.reports.Recent(ctx)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
}

func TestRecent_Limit(t *testing.T) {
	lib := newLibrary(t)
	ctx := context.Background()

	for i := 0; i < RecentLimit+2; i++ {
		tx, err := lib.loans.Issue(ctx, lib.books["Contact"], lib.members[i%2], 14)
		require.NoError(t, err)
		lib.clock.Advance(time.Minute)
		_, err = lib.loans.Return(ctx, tx.ID)
		require.NoError(t, err)
	}

	recent, err := lib.reports.Recent(ctx)
	require.NoError(t, err)
	require.Len(t, recent, RecentLimit)
	assert.True(t, recent[0].CreatedAt.After(recent[RecentLimit-1].CreatedAt))
}
