package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"prenotazioni/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupService(t *testing.T) {
	tempDir := t.TempDir()
	storagePath := filepath.Join(tempDir, "backups")

	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(tempDir, "source.db"), &logger)
	require.NoError(t, err)
	defer db.Close()
	seedProperty(t, db, "Villa Bella", 4)

	s := NewBackupService(db, config.BackupConfig{
		Enabled:       true,
		StoragePath:   storagePath,
		RetentionDays: 1,
	}, &logger)
	now := time.Date(2026, 7, 10, 3, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	t.Run("PerformBackup", func(t *testing.T) {
		path, err := s.PerformBackup(context.Background())
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(storagePath, "prenotazioni_20260710_030000.db"), path)
		assert.NoFileExists(t, path+".tmp")
		assert.True(t, s.LastBackup().Equal(now))

		restored, err := NewDB(path, &logger)
		require.NoError(t, err)
		defer restored.Close()

		p, err := restored.GetPropertyByName(context.Background(), "Villa Bella")
		require.NoError(t, err)
		assert.Equal(t, 4, p.MaxGuests)
	})

	t.Run("CleanupOldBackups", func(t *testing.T) {
		for _, name := range []string{
			backupName(now.AddDate(0, 0, -5)),
			backupName(now.AddDate(0, 0, -3)),
			"prenotazioni_garbage.db",
			"notes.txt",
		} {
			require.NoError(t, os.WriteFile(filepath.Join(storagePath, name), []byte("x"), 0o644))
		}

		assert.Equal(t, 2, s.CleanupOldBackups())
		assert.FileExists(t, filepath.Join(storagePath, backupName(now)))
		assert.FileExists(t, filepath.Join(storagePath, "prenotazioni_garbage.db"))
		assert.FileExists(t, filepath.Join(storagePath, "notes.txt"))
	})

	t.Run("NewestIsKept", func(t *testing.T) {
		s.now = func() time.Time { return now.AddDate(0, 1, 0) }
		assert.Equal(t, 0, s.CleanupOldBackups())
		assert.FileExists(t, filepath.Join(storagePath, backupName(now)))
	})
}

func TestBackupService_MemoryDB(t *testing.T) {
	db := setupTestDB(t)
	logger := zerolog.Nop()
	s := NewBackupService(db, config.BackupConfig{Enabled: true, StoragePath: t.TempDir()}, &logger)

	_, err := s.PerformBackup(context.Background())
	assert.Error(t, err)
	assert.True(t, s.LastBackup().IsZero())
}

func TestBackupService_Disabled(_ *testing.T) {
	s := NewBackupService(nil, config.BackupConfig{Enabled: false}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Start(ctx)
}

func TestParseBackupName(t *testing.T) {
	at := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	parsed, ok := parseBackupName(backupName(at))
	require.True(t, ok)
	assert.True(t, parsed.Equal(at))

	for _, name := range []string{"backup_20260102_150405.db", "prenotazioni_2026.db", "prenotazioni_20260102_150405.db.tmp"} {
		_, ok := parseBackupName(name)
		assert.False(t, ok, name)
	}
}
