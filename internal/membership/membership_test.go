package membership

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

func newTestService(t *testing.T) (Service, *domain.FakeClock, store.Store) {
	t.Helper()
	clock := domain.NewFakeClock(storetest.Epoch)
	st := storetest.New(t, clock)
	return NewService(st, clock, "@gmail.com", zap.NewNop()), clock, st
}

func ada() MemberInput {
	return MemberInput{
		MemberID: "LIB-0001",
		Name:     "Ada Lovelace",
		Email:    "ada@gmail.com",
		Phone:    "01712345678",
	}
}

func TestRegisterMember(t *testing.T) {
	svc, _, _ := newTestService(t)

	m, err := svc.RegisterMember(context.Background(), ada())
	require.NoError(t, err)

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "LIB-0001", m.MemberID)
	assert.Empty(t, m.Address)
	assert.True(t, storetest.Epoch.Equal(m.MembershipDate))
}

func TestRegisterMember_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)

	tests := []struct {
		name   string
		mutate func(*MemberInput)
	}{
		{"missing member id", func(in *MemberInput) { in.MemberID = "" }},
		{"missing name", func(in *MemberInput) { in.Name = "  " }},
		{"wrong email domain", func(in *MemberInput) { in.Email = "ada@yahoo.com" }},
		{"bare email domain", func(in *MemberInput) { in.Email = "@gmail.com" }},
		{"email domain in capitals", func(in *MemberInput) { in.Email = "ada@GMAIL.COM" }},
		{"short phone", func(in *MemberInput) { in.Phone = "0171234567" }},
		{"phone with letters", func(in *MemberInput) { in.Phone = "0171234567a" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := ada()
			tt.mutate(&in)
			_, err := svc.RegisterMember(context.Background(), in)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestRegisterMember_DuplicateCode(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RegisterMember(ctx, ada())
	require.NoError(t, err)

	_, err = svc.RegisterMember(ctx, ada())
	assert.ErrorIs(t, err, domain.ErrConstraintViolation)
}

func TestUpdateMember_KeepsMembershipDate(t *testing.T) {
	svc, clock, _ := newTestService(t)
	ctx := context.Background()

	m, err := svc.RegisterMember(ctx, ada())
	require.NoError(t, err)

	clock.Advance(30 * 24 * time.Hour)
	in := ada()
	in.Address = "12 St James's Square"
	in.Phone = "01799999999"

	updated, err := svc.UpdateMember(ctx, m.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "12 St James's Square", updated.Address)
	assert.Equal(t, "01799999999", updated.Phone)
	assert.True(t, m.MembershipDate.Equal(updated.MembershipDate))
	assert.True(t, updated.UpdatedAt.After(m.UpdatedAt))

	_, err = svc.UpdateMember(ctx, "missing", in)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRemoveMember(t *testing.T) {
	svc, _, st := newTestService(t)
	ctx := context.Background()

	m, err := svc.RegisterMember(ctx, ada())
	require.NoError(t, err)

	book, err := st.Insert(ctx, store.TableBooks, store.Record{
		"title": "Notes", "author": "Menabrea", "isbn": "1", "category": "Science",
		"total_copies": 1, "available_copies": 0, "availability_status": "borrowed",
	})
	require.NoError(t, err)
	bookID, _ := book.String("id")
	_, err = st.Insert(ctx, store.TableTransactions, store.Record{
		"book_id": bookID, "member_id": m.ID, "issue_date": storetest.Epoch,
		"due_date": storetest.Epoch.AddDate(0, 0, 14), "status": "active",
	})
	require.NoError(t, err)

	err = svc.RemoveMember(ctx, m.ID)
	assert.ErrorIs(t, err, domain.ErrConstraintViolation)

	other := ada()
	other.MemberID = "LIB-0002"
	m2, err := svc.RegisterMember(ctx, other)
	require.NoError(t, err)
	require.NoError(t, svc.RemoveMember(ctx, m2.ID))
	_, err = svc.GetMember(ctx, m2.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSearch_NewestFirst(t *testing.T) {
	svc, clock, _ := newTestService(t)
	ctx := context.Background()

	for i, name := range []string{"Ada Lovelace", "Grace Hopper", "Alan Turing"} {
		in := ada()
		in.MemberID = "LIB-" + string(rune('A'+i))
		in.Name = name
		_, err := svc.RegisterMember(ctx, in)
		require.NoError(t, err)
		clock.Advance(time.Hour)
	}

	all, err := svc.Search(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Alan Turing", all[0].Name)

	found, err := svc.Search(ctx, "hopper", 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Grace Hopper", found[0].Name)

	byCode, err := svc.Search(ctx, "lib-a", 0)
	require.NoError(t, err)
	require.Len(t, byCode, 1)
	assert.Equal(t, "Ada Lovelace", byCode[0].Name)
}
