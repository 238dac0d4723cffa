package loom

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// lockInfo is the JSON body of a <path>.lock file. Other processes read it
// to decide whether the holder is stale.
type lockInfo struct {
	PID        int     `json:"pid"`
	AcquiredAt float64 `json:"acquired_at"`
}

// acquireLock takes an exclusive advisory lock by creating <path>.lock with
// O_EXCL. It polls until timeout, forcibly replacing locks older than the
// staleness window. Returns a release func on success.
func acquireLock(lockPath string, timeout, stale time.Duration, logger *slog.Logger) (func(), error) {
	deadline := time.Now().Add(timeout)

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			info := lockInfo{
				PID:        os.Getpid(),
				AcquiredAt: float64(time.Now().UnixNano()) / 1e9,
			}
			raw, _ := json.Marshal(info)
			_, werr := f.Write(raw)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(lockPath)
				return nil, fmt.Errorf("write lock file: %w", errFirst(werr, cerr))
			}
			return func() { _ = os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		// Lock held by someone. Stale?
		if age, ok := lockAge(lockPath); ok && age > stale {
			logger.Warn("replacing stale lock", "lock", lockPath, "age", age.Round(time.Second))
			_ = os.Remove(lockPath)
			continue
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrResourceBusy, lockPath)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// lockAge derives the holder's age, preferring the embedded timestamp and
// falling back to the file mtime when the body is unreadable.
func lockAge(lockPath string) (time.Duration, bool) {
	raw, err := os.ReadFile(lockPath)
	if err == nil {
		var info lockInfo
		if json.Unmarshal(raw, &info) == nil && info.AcquiredAt > 0 {
			acquired := time.Unix(0, int64(info.AcquiredAt*1e9))
			return time.Since(acquired), true
		}
	}
	st, err := os.Stat(lockPath)
	if err != nil {
		// Vanished between checks; let the caller retry the create.
		return 0, false
	}
	return time.Since(st.ModTime()), true
}

func errFirst(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
