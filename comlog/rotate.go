// comlog — rotate.go provides size-based rotation for transcript files.
//
// When the active transcript would exceed MaxBytes it is renamed with a
// numeric suffix (modem.log → modem.log.1) and a fresh file is opened. Up to
// MaxBackups rotated transcripts are kept; older ones are removed.
package comlog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// RotateConfig controls transcript rotation.
type RotateConfig struct {
	// FilePath is the active transcript file (required).
	FilePath string

	// MaxBytes triggers rotation when the active file would exceed this
	// size. Zero disables rotation.
	MaxBytes int64

	// MaxBackups is the number of rotated transcripts to keep.
	// Zero keeps all of them.
	MaxBackups int
}

// RotatingFile is an io.WriteCloser performing size-based rotation, suitable
// as the Writer of a comlog.Config. Safe for concurrent use.
type RotatingFile struct {
	mu     sync.Mutex
	cfg    RotateConfig
	file   *os.File
	size   int64
	logger *slog.Logger
}

// NewRotatingFile opens (or creates) the transcript at cfg.FilePath, creating
// parent directories as needed. The caller must Close it when finished.
func NewRotatingFile(cfg RotateConfig, logger *slog.Logger) (*RotatingFile, error) {
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("comlog: rotate: FilePath is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
		return nil, fmt.Errorf("comlog: rotate: mkdir for %s: %w", cfg.FilePath, err)
	}

	rf := &RotatingFile{cfg: cfg, logger: logger}
	if err := rf.open(); err != nil {
		return nil, err
	}
	return rf, nil
}

// Write implements io.Writer, rotating first when the write would push the
// active file past MaxBytes.
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.cfg.MaxBytes > 0 && rf.size+int64(len(p)) > rf.cfg.MaxBytes {
		if err := rf.rotate(); err != nil {
			// Keep writing to the current file rather than losing
			// transcript lines.
			rf.logger.Error("comlog: rotate failed", "error", err.Error())
		}
	}

	n, err := rf.file.Write(p)
	rf.size += int64(n)
	return n, err
}

// Close closes the underlying file.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return nil
	}
	err := rf.file.Close()
	rf.file = nil
	return err
}

func (rf *RotatingFile) open() error {
	f, err := os.OpenFile(rf.cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("comlog: rotate: open %s: %w", rf.cfg.FilePath, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("comlog: rotate: stat %s: %w", rf.cfg.FilePath, err)
	}
	rf.file, rf.size = f, info.Size()
	return nil
}

// backup returns the path of the n-th rotated transcript; .1 is the newest.
func (rf *RotatingFile) backup(n int) string {
	return fmt.Sprintf("%s.%d", rf.cfg.FilePath, n)
}

// rotate shifts modem.log → modem.log.1 → modem.log.2 … and opens a fresh
// active file. Backups past MaxBackups are removed.
func (rf *RotatingFile) rotate() error {
	if rf.file != nil {
		if err := rf.file.Close(); err != nil {
			rf.logger.Warn("comlog: rotate: close error", "error", err.Error())
		}
		rf.file = nil
	}

	// Walk existing backups from the newest outward so the shift happens
	// oldest-first and nothing is overwritten.
	highest := 0
	for _, err := os.Stat(rf.backup(highest + 1)); err == nil; _, err = os.Stat(rf.backup(highest + 1)) {
		highest++
	}
	for n := highest; n >= 1; n-- {
		dst := rf.backup(n + 1)
		if rf.cfg.MaxBackups > 0 && n+1 > rf.cfg.MaxBackups {
			// Shifting this one would exceed the retention limit.
			if err := os.Remove(rf.backup(n)); err != nil {
				rf.logger.Debug("comlog: rotate: remove error", "error", err.Error())
			}
			continue
		}
		if err := os.Rename(rf.backup(n), dst); err != nil {
			rf.logger.Warn("comlog: rotate: rename error", "error", err.Error())
		}
	}
	if err := os.Rename(rf.cfg.FilePath, rf.backup(1)); err != nil && !os.IsNotExist(err) {
		rf.logger.Warn("comlog: rotate: rename error", "error", err.Error())
	}

	rf.logger.Info("comlog: transcript rotated", "file", rf.cfg.FilePath)
	return rf.open()
}
