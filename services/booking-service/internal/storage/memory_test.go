package storage_test

import (
	"testing"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, storage.NewMemory())
}
