package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libradesk/internal/domain"
	"libradesk/internal/store"
	"libradesk/internal/store/storetest"
)

func seedBook(t *testing.T, s store.Store, title, category string, total int) store.Record {
	t.Helper()
	rec, err := s.Insert(context.Background(), store.TableBooks, store.Record{
		"title":               title,
		"author":              "Author of " + title,
		"isbn":                "978-" + title,
		"category":            category,
		"total_copies":        total,
		"available_copies":    total,
		"availability_status": "available",
	})
	require.NoError(t, err)
	return rec
}

func seedMember(t *testing.T, s store.Store, code string) store.Record {
	t.Helper()
	rec, err := s.Insert(context.Background(), store.TableMembers, store.Record{
		"member_id":       code,
		"name":            "Member " + code,
		"email":           code + "@gmail.com",
		"phone":           "01234567890",
		"membership_date": storetest.Epoch,
	})
	require.NoError(t, err)
	return rec
}

func TestSQLStore_InsertAndFind(t *testing.T) {
	clock := domain.NewFakeClock(storetest.Epoch)
	s := storetest.New(t, clock)

	rec := seedBook(t, s, "Dune", "Fiction", 3)

	id, err := rec.String("id")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	found, err := s.Find(context.Background(), store.TableBooks, id)
	require.NoError(t, err)

	title, err := found.String("title")
	require.NoError(t, err)
	assert.Equal(t, "Dune", title)

	total, err := found.Int("total_copies")
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	created, err := found.Time("created_at")
	require.NoError(t, err)
	assert.True(t, storetest.Epoch.Equal(created), "created_at %v", created)
}

func TestSQLStore_FindMissing(t *testing.T) {
	s := storetest.New(t, domain.NewFakeClock(storetest.Epoch))

	_, err := s.Find(context.Background(), store.TableBooks, "does-not-exist")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSQLStore_UpdateGuards(t *testing.T) {
	clock := domain.NewFakeClock(storetest.Epoch)
	s := storetest.New(t, clock)
	ctx := context.Background()

	rec := seedBook(t, s, "Emma", "Fiction", 2)
	id, _ := rec.String("id")

	clock.Advance(time.Hour)
	updated, err := s.Update(ctx, store.TableBooks, id,
		store.Record{"available_copies": 1},
		store.Eq("available_copies", 2),
	)
	require.NoError(t, err)
	avail, _ := updated.Int("available_copies")
	assert.Equal(t, 1, avail)
	stamp, _ := updated.Time("updated_at")
	assert.True(t, storetest.Epoch.Add(time.Hour).Equal(stamp))

	// stale guard
	_, err = s.Update(ctx, store.TableBooks, id,
		store.Record{"available_copies": 0},
		store.Eq("available_copies", 2),
	)
	assert.ErrorIs(t, err, store.ErrConflict)

	found, err := s.Find(ctx, store.TableBooks, id)
	require.NoError(t, err)
	avail, _ = found.Int("available_copies")
	assert.Equal(t, 1, avail)

	_, err = s.Update(ctx, store.TableBooks, "missing", store.Record{"title": "x"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSQLStore_UpdateRelative(t *testing.T) {
	clock := domain.NewFakeClock(storetest.Epoch)
	s := storetest.New(t, clock)
	ctx := context.Background()

	rec := seedBook(t, s, "Persuasion", "Fiction", 2)
	id, _ := rec.String("id")

	take := func() (store.Record, error) {
		return s.Update(ctx, store.TableBooks, id, store.Record{
			"available_copies": store.Delta(-1),
			"availability_status": store.SignCase{
				Column: "available_copies", Offset: -1,
				Positive: "available", Otherwise: "borrowed",
			},
		}, store.Gt("available_copies", 0))
	}

	updated, err := take()
	require.NoError(t, err)
	avail, _ := updated.Int("available_copies")
	status, _ := updated.String("availability_status")
	assert.Equal(t, 1, avail)
	assert.Equal(t, "available", status)

	updated, err = take()
	require.NoError(t, err)
	avail, _ = updated.Int("available_copies")
	status, _ = updated.String("availability_status")
	assert.Equal(t, 0, avail)
	assert.Equal(t, "borrowed", status)

	_, err = take()
	assert.ErrorIs(t, err, store.ErrConflict)

	put := func() (store.Record, error) {
		return s.Update(ctx, store.TableBooks, id, store.Record{
			"available_copies": store.Delta(1),
			"availability_status": store.SignCase{
				Column: "available_copies", Offset: 1,
				Positive: "available", Otherwise: "borrowed",
			},
		}, store.Lt("available_copies", store.Ref("total_copies")))
	}
	for i := 0; i < 2; i++ {
		_, err = put()
		require.NoError(t, err)
	}
	_, err = put()
	assert.ErrorIs(t, err, store.ErrConflict)

	found, err := s.Find(ctx, store.TableBooks, id)
	require.NoError(t, err)
	avail, _ = found.Int("available_copies")
	status, _ = found.String("availability_status")
	assert.Equal(t, 2, avail)
	assert.Equal(t, "available", status)
}

func TestSQLStore_Query(t *testing.T) {
	clock := domain.NewFakeClock(storetest.Epoch)
	s := storetest.New(t, clock)
	ctx := context.Background()

	seedBook(t, s, "Cosmos", "Science", 1)
	clock.Advance(time.Minute)
	seedBook(t, s, "Brief History", "Science", 4)
	clock.Advance(time.Minute)
	seedBook(t, s, "Matilda", "Children", 2)

	t.Run("equality", func(t *testing.T) {
		recs, err := s.Query(ctx, store.TableBooks, store.Query{
			Where: []store.Condition{store.Eq("category", "Science")},
		})
		require.NoError(t, err)
		assert.Len(t, recs, 2)
	})

	t.Run("greater than", func(t *testing.T) {
		recs, err := s.Query(ctx, store.TableBooks, store.Query{
			Where: []store.Condition{store.Gt("total_copies", 1)},
		})
		require.NoError(t, err)
		assert.Len(t, recs, 2)
	})

	t.Run("less than time", func(t *testing.T) {
		recs, err := s.Query(ctx, store.TableBooks, store.Query{
			Where: []store.Condition{store.Lt("created_at", storetest.Epoch.Add(90*time.Second))},
		})
		require.NoError(t, err)
		assert.Len(t, recs, 2)
	})

	t.Run("contains any", func(t *testing.T) {
		recs, err := s.Query(ctx, store.TableBooks, store.Query{
			AnyOf: []store.Condition{
				store.Contains("title", "HISTORY"),
				store.Contains("category", "child"),
			},
			OrderBy: "title",
		})
		require.NoError(t, err)
		require.Len(t, recs, 2)
		first, _ := recs[0].String("title")
		assert.Equal(t, "Brief History", first)
	})

	t.Run("descending with limit", func(t *testing.T) {
		recs, err := s.Query(ctx, store.TableBooks, store.Query{
			OrderBy: "created_at",
			Desc:    true,
			Limit:   2,
		})
		require.NoError(t, err)
		require.Len(t, recs, 2)
		newest, _ := recs[0].String("title")
		assert.Equal(t, "Matilda", newest)
	})

	t.Run("count", func(t *testing.T) {
		n, err := s.Count(ctx, store.TableBooks, store.Query{
			Where: []store.Condition{store.Eq("category", "Science")},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestSQLStore_QueryJoined(t *testing.T) {
	s := storetest.New(t, domain.NewFakeClock(storetest.Epoch))
	ctx := context.Background()

	book := seedBook(t, s, "Persuasion", "Fiction", 1)
	member := seedMember(t, s, "M-001")
	bookID, _ := book.String("id")
	memberID, _ := member.String("id")

	_, err := s.Insert(ctx, store.TableTransactions, store.Record{
		"book_id":    bookID,
		"member_id":  memberID,
		"issue_date": storetest.Epoch,
		"due_date":   storetest.Epoch.AddDate(0, 0, 7),
		"status":     "active",
	})
	require.NoError(t, err)

	recs, err := s.QueryJoined(ctx, store.TableTransactions,
		store.Query{Where: []store.Condition{store.Eq("status", "active")}},
		store.Join{Table: store.TableBooks, ForeignKey: "book_id", Columns: []string{"title", "isbn"}, Prefix: "book_"},
		store.Join{Table: store.TableMembers, ForeignKey: "member_id", Columns: []string{"member_id", "name"}, Prefix: "member_"},
	)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	title, err := recs[0].String("book_title")
	require.NoError(t, err)
	assert.Equal(t, "Persuasion", title)
	code, err := recs[0].String("member_member_id")
	require.NoError(t, err)
	assert.Equal(t, "M-001", code)
	fk, err := recs[0].String("member_id")
	require.NoError(t, err)
	assert.Equal(t, memberID, fk)
	ret, err := recs[0].OptionalTime("return_date")
	require.NoError(t, err)
	assert.Nil(t, ret)
}

func TestSQLStore_ConstraintErrors(t *testing.T) {
	s := storetest.New(t, domain.NewFakeClock(storetest.Epoch))
	ctx := context.Background()

	member := seedMember(t, s, "M-100")
	_, err := s.Insert(ctx, store.TableMembers, store.Record{
		"member_id":       "M-100",
		"name":            "Twin",
		"email":           "twin@gmail.com",
		"phone":           "01234567890",
		"membership_date": storetest.Epoch,
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	book := seedBook(t, s, "Ulysses", "Fiction", 1)
	bookID, _ := book.String("id")
	memberID, _ := member.String("id")
	_, err = s.Insert(ctx, store.TableTransactions, store.Record{
		"book_id":    bookID,
		"member_id":  memberID,
		"issue_date": storetest.Epoch,
		"due_date":   storetest.Epoch.AddDate(0, 0, 3),
		"status":     "active",
	})
	require.NoError(t, err)

	err = s.Delete(ctx, store.TableBooks, bookID)
	assert.ErrorIs(t, err, store.ErrReferenced)

	_, err = s.Update(ctx, store.TableBooks, bookID, store.Record{"available_copies": 5})
	assert.ErrorIs(t, err, store.ErrCheck)

	err = s.Delete(ctx, store.TableBooks, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSQLStore_MigrateIsIdempotent(t *testing.T) {
	s := storetest.New(t, domain.NewFakeClock(storetest.Epoch))
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx))
	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}
