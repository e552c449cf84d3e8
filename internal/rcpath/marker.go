package rcpath

import (
	"os"
	"path/filepath"
	"time"

	"rc/internal/rcerr"
	"rc/pkg/logging"
)

const (
	transientRetries = 3
	transientBackoff = 100 * time.Millisecond
)

// CreateMarker atomically creates the marker file at path, creating its
// parent directory if necessary. Creation is idempotent: a marker that
// already exists (e.g. another process raced us) is treated as success, per
// spec §4.A "race where another process created the same marker -> success".
func CreateMarker(path string) error {
	return retryTransient(path, func() error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			if os.IsExist(err) {
				return nil
			}
			return err
		}
		return f.Close()
	})
}

// RemoveMarker idempotently deletes the marker file at path.
func RemoveMarker(path string) error {
	return retryTransient(path, func() error {
		err := os.Remove(path)
		if err != nil && os.IsNotExist(err) {
			return nil
		}
		return err
	})
}

// MarkerExists reports whether the marker file at path is present.
func MarkerExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ListMarkers returns the base names of all markers in dir. A missing
// directory is treated as "no markers" rather than an error, since an
// unpopulated state directory is the normal starting condition.
func ListMarkers(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, rcerr.Fatal(dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// retryTransient retries a directory-write operation up to transientRetries
// times with a fixed backoff, per spec §7 "Transient I/O" policy. Permission
// failures are not retried and are returned as fatal errors; every other
// failure is retried and, once retries run out, returned as transient.
func retryTransient(subject string, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= transientRetries; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if os.IsPermission(err) {
			return rcerr.Fatal(subject, err)
		}
		lastErr = err
		if attempt < transientRetries {
			logging.Debug("rcpath", "transient write failure on %s (attempt %d/%d): %v", subject, attempt+1, transientRetries, err)
			time.Sleep(transientBackoff)
		}
	}
	return rcerr.Transient(subject, lastErr)
}
