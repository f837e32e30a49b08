package database

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"
)

const backupStamp = "20060102_150405"

var (
	backupName   = regexp.MustCompile(`^(\d{8}_\d{6})_([a-z0-9_]+)\.db\.zip$`)
	reasonFilter = regexp.MustCompile(`[^a-z0-9_]+`)
)

// BackupInfo describes one archive in the backup directory.
type BackupInfo struct {
	Path   string    `json:"path"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
	Size   int64     `json:"size"`
}

func (d *Database) backupDir() string {
	return filepath.Join(filepath.Dir(d.path), "backups")
}

// Backup writes a zipped VACUUM INTO copy of the database to the backup
// directory. The reason ends up in the file name, e.g. 20250601_023000_scheduled.db.zip.
func (d *Database) Backup(ctx context.Context, reason string) (BackupInfo, error) {
	reason = strings.Trim(reasonFilter.ReplaceAllString(strings.ToLower(reason), "_"), "_")
	if reason == "" {
		reason = "manual"
	}
	dir := d.backupDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return BackupInfo{}, fmt.Errorf("create backup directory: %w", err)
	}

	at := time.Now().UTC()
	base := fmt.Sprintf("%s_%s.db", at.Format(backupStamp), reason)
	snapshot := filepath.Join(dir, base)
	if _, err := d.write.ExecContext(ctx, "VACUUM INTO ?", snapshot); err != nil {
		return BackupInfo{}, fmt.Errorf("vacuuming database into '%s': %w", snapshot, err)
	}
	defer func() {
		if err := os.Remove(snapshot); err != nil && !errors.Is(err, fs.ErrNotExist) {
			d.logger.Warn("could not remove snapshot after compression", slog.Any("error", err))
		}
	}()

	info := BackupInfo{Path: snapshot + ".zip", Reason: reason, At: at.Truncate(time.Second)}
	size, err := compress(snapshot, info.Path, filepath.Base(d.path))
	if err != nil {
		_ = os.Remove(info.Path)
		return BackupInfo{}, err
	}
	info.Size = size

	d.logger.Info("database backup complete",
		slog.String("filename", info.Path),
		slog.String("reason", reason),
		slog.Int64("bytes", size))
	return info, nil
}

// compress stores src as the single entry name of a new zip archive at dst
// and returns the archive size.
func compress(src, dst, name string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open snapshot for compression: %w", err)
	}
	defer in.Close()

	stat, err := in.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat snapshot: %w", err)
	}
	header, err := zip.FileInfoHeader(stat)
	if err != nil {
		return 0, fmt.Errorf("create zip header: %w", err)
	}
	header.Name = name
	header.Method = zip.Deflate

	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create zip file: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	w, err := zw.CreateHeader(header)
	if err != nil {
		return 0, fmt.Errorf("create zip file entry: %w", err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return 0, fmt.Errorf("write snapshot to zip: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("finalize zip file: %w", err)
	}
	end, err := out.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("size of zip file: %w", err)
	}
	return end, nil
}

// Backups lists the archives in the backup directory, newest first. Files not
// written by Backup are ignored.
func (d *Database) Backups() ([]BackupInfo, error) {
	dir := d.backupDir()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var backups []BackupInfo
	for _, e := range entries {
		m := backupName.FindStringSubmatch(e.Name())
		if m == nil || e.IsDir() {
			continue
		}
		at, err := time.Parse(backupStamp, m[1])
		if err != nil {
			d.logger.Debug("failed to parse backup timestamp", slog.String("filename", e.Name()), slog.Any("error", err))
			continue
		}
		info := BackupInfo{Path: filepath.Join(dir, e.Name()), Reason: m[2], At: at}
		if fi, err := e.Info(); err == nil {
			info.Size = fi.Size()
		}
		backups = append(backups, info)
	}
	slices.SortFunc(backups, func(a, b BackupInfo) int {
		return b.At.Compare(a.At)
	})
	return backups, nil
}

// PurgeBackups removes archives older than retentionDays. The newest archive
// is always kept.
func (d *Database) PurgeBackups(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays < 1 {
		return 0, nil
	}
	backups, err := d.Backups()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed := 0
	for i, b := range backups {
		if i == 0 || !b.At.Before(cutoff) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		d.logger.Debug("deleting old backup", slog.String("path", b.Path))
		if err := os.Remove(b.Path); err != nil {
			return removed, fmt.Errorf("remove old backup '%s': %w", b.Path, err)
		}
		removed++
	}

	d.logger.Info("backup purge complete", slog.Int("removed", removed))
	return removed, nil
}
