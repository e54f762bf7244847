package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"prenotazioni/internal/config"
	"prenotazioni/internal/metrics"

	"github.com/rs/zerolog"
)

const (
	backupPrefix = "prenotazioni_"
	backupSuffix = ".db"
	backupStamp  = "20060102_150405"
)

// BackupService periodically snapshots the database file into StoragePath
// and prunes snapshots older than RetentionDays. The newest snapshot is never pruned.
type BackupService struct {
	db     *DB
	cfg    config.BackupConfig
	logger *zerolog.Logger
	now    func() time.Time

	mu   sync.Mutex
	last time.Time
}

func NewBackupService(db *DB, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &BackupService{db: db, cfg: cfg, logger: logger, now: time.Now}
}

func (s *BackupService) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info().Msg("Backup service is disabled")
		return
	}

	interval := time.Duration(s.cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	s.logger.Info().Dur("interval", interval).Str("dir", s.cfg.StoragePath).Msg("Backup service started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.PerformBackup(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Database backup failed")
		} else if removed := s.CleanupOldBackups(); removed > 0 {
			s.logger.Info().Int("removed", removed).Msg("Old backups pruned")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PerformBackup writes a verified snapshot and returns its path. The
// snapshot only appears under its final name once it passed an integrity check.
func (s *BackupService) PerformBackup(ctx context.Context) (string, error) {
	if isMemoryPath(s.db.Path()) {
		return "", fmt.Errorf("in-memory database cannot be backed up")
	}
	if err := os.MkdirAll(s.cfg.StoragePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	at := s.now().UTC()
	final := filepath.Join(s.cfg.StoragePath, backupName(at))
	tmp := final + ".tmp"
	_ = os.Remove(tmp)

	escaped := strings.ReplaceAll(tmp, "'", "''")
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", escaped)); err != nil {
		s.logger.Warn().Err(err).Msg("VACUUM INTO failed, copying the database file")
		_ = os.Remove(tmp)
		if err := copyFile(s.db.Path(), tmp); err != nil {
			_ = os.Remove(tmp)
			return "", fmt.Errorf("failed to copy database: %w", err)
		}
	}

	if err := verifyBackup(ctx, tmp); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize backup: %w", err)
	}

	s.mu.Lock()
	s.last = at
	s.mu.Unlock()
	metrics.SetBackupSuccess(at)

	s.logger.Info().Str("path", final).Msg("Database backup completed")
	return final, nil
}

// LastBackup returns when the last successful snapshot was taken.
func (s *BackupService) LastBackup() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// CleanupOldBackups removes snapshots whose name stamp is older than the
// retention window and returns how many were deleted. Unrecognized files are left alone.
func (s *BackupService) CleanupOldBackups() int {
	if s.cfg.RetentionDays <= 0 {
		return 0
	}

	entries, err := os.ReadDir(s.cfg.StoragePath)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read backup directory for cleanup")
		return 0
	}

	type snapshot struct {
		name string
		at   time.Time
	}
	var snapshots []snapshot
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if at, ok := parseBackupName(e.Name()); ok {
			snapshots = append(snapshots, snapshot{name: e.Name(), at: at})
		}
	}
	slices.SortFunc(snapshots, func(a, b snapshot) int { return b.at.Compare(a.at) })

	cutoff := s.now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
	removed := 0
	for i, snap := range snapshots {
		if i == 0 || !snap.at.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.cfg.StoragePath, snap.name)); err != nil {
			s.logger.Warn().Err(err).Str("file", snap.name).Msg("Failed to delete old backup")
			continue
		}
		removed++
	}
	return removed
}

func backupName(at time.Time) string {
	return backupPrefix + at.Format(backupStamp) + backupSuffix
}

func parseBackupName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupSuffix) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), backupSuffix)
	at, err := time.ParseInLocation(backupStamp, stamp, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}

func verifyBackup(ctx context.Context, path string) error {
	conn, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("failed to open backup: %w", err)
	}
	defer conn.Close()

	var result string
	if err := conn.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("failed to check backup: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("backup integrity check failed: %s", result)
	}
	return nil
}

// copyFile is not atomic with respect to concurrent writers; verifyBackup catches torn copies.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
