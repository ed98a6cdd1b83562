package fsstore

import (
	"context"
	"os"
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage/storetest"
)

func TestStore(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()
	client, err := firestore.NewClient(ctx, "booking-test")
	require.NoError(t, err)

	s := New(client, "test_"+uuid.NewString()[:8]+"_")
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	storetest.Run(t, s)
}
