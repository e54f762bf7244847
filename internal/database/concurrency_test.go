package database

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"prenotazioni/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentInvoiceCreation(t *testing.T) {
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "concurrency.db"), &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	p := seedProperty(t, db, "Villa Bella", 4)
	b := seedBooking(t, db, p)

	const numGoroutines = 10
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	ids := make(chan string, numGoroutines)
	errs := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			inv, _, err := db.InsertInvoiceOnce(ctx, invoiceFor(b, "2025"))
			if err != nil {
				errs <- err
				return
			}
			ids <- inv.ID
		}()
	}

	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}

	seen := make(map[string]bool)
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1, "every caller must get the same invoice")

	count, err := db.CountInvoicesForBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestConcurrentInvoiceNumbering(t *testing.T) {
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "numbering.db"), &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	p := seedProperty(t, db, "Villa Bella", 4)

	const n = 8
	bookings := make([]*models.Booking, n)
	for i := range bookings {
		bookings[i] = seedBooking(t, db, p)
	}

	var wg sync.WaitGroup
	numbers := make(chan string, n)
	for _, b := range bookings {
		wg.Add(1)
		go func(b *models.Booking) {
			defer wg.Done()
			inv, created, err := db.InsertInvoiceOnce(ctx, invoiceFor(b, "2025"))
			if assert.NoError(t, err) && assert.True(t, created) {
				numbers <- inv.Number
			}
		}(b)
	}
	wg.Wait()
	close(numbers)

	seen := make(map[string]bool)
	for num := range numbers {
		assert.False(t, seen[num], "duplicate number %s", num)
		seen[num] = true
	}
	for i := 1; i <= n; i++ {
		assert.True(t, seen[fmt.Sprintf("2025/%04d", i)])
	}
}

func TestConcurrentSetDefault(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, seedService(t, db, fmt.Sprintf("Servizio %d", i), false).ID)
	}

	var wg sync.WaitGroup
	for round := 0; round < 4; round++ {
		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				assert.NoError(t, db.SetDefaultCleaningService(ctx, id))
			}(id)
		}
	}
	wg.Wait()

	assert.Equal(t, 1, countDefaults(t, db))
}
