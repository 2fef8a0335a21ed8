// Package storetest opens throwaway sqlite stores for tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"libradesk/internal/domain"
	"libradesk/internal/store"
)

// Epoch is the instant test clocks start at.
var Epoch = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

// New returns a migrated sqlite store in t's temp dir, stamped by clock.
func New(t testing.TB, clock domain.Clock) *store.SQLStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "libradesk.db")
	s, err := store.Open(store.DriverSQLite, store.SQLiteDSN(path), store.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Migrate(context.Background()))
	return s
}
