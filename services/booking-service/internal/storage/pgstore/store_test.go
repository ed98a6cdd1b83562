package pgstore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/slotbook/libs/db"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage/storetest"
)

func TestStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Open(ctx, url, db.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := New(pool)
	require.NoError(t, s.Migrate(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE appointment_types, providers, customers, provider_schedules, appointments`)
	require.NoError(t, err)

	storetest.Run(t, s)
}

func TestIsConflict(t *testing.T) {
	require.False(t, IsConflict(nil))
	require.False(t, IsConflict(context.Canceled))
}
