package syncer

import (
	"context"
	"log"
	"time"
)

// Writer persists optimistic edits. The local mutation has already happened
// when Persist is called; the writer's job is to make the server agree, with
// one delayed retry before conceding that the edit is saved locally only.
type Writer struct {
	RetryDelay time.Duration
	// Warn surfaces the user-facing failure message after both attempts fail.
	Warn func(message string)
	Logf func(format string, args ...any)

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration)
}

// NewWriter creates a writer with the given retry delay.
func NewWriter(retryDelay time.Duration, warn func(message string)) *Writer {
	return &Writer{
		RetryDelay: retryDelay,
		Warn:       warn,
		sleep:      sleepContext,
	}
}

// Persist runs the save, retrying once after RetryDelay. It returns the
// version token from the successful attempt and whether the server accepted
// the write. A false return means the edit exists only in local state.
func (w *Writer) Persist(ctx context.Context, save func(ctx context.Context) (string, error)) (string, bool) {
	version, err := save(ctx)
	if err == nil {
		return version, true
	}
	w.logf("syncer: save failed, retrying in %s: %v", w.RetryDelay, err)

	w.doSleep(ctx, w.RetryDelay)
	if ctx.Err() != nil {
		return "", false
	}

	version, err = save(ctx)
	if err == nil {
		return version, true
	}
	w.logf("syncer: retry failed: %v", err)
	if w.Warn != nil {
		w.Warn("Change saved locally only — the server could not be reached. It will be lost on reload.")
	}
	return "", false
}

func (w *Writer) doSleep(ctx context.Context, d time.Duration) {
	if w.sleep != nil {
		w.sleep(ctx, d)
		return
	}
	sleepContext(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (w *Writer) logf(format string, args ...any) {
	if w.Logf != nil {
		w.Logf(format, args...)
		return
	}
	log.Printf(format, args...)
}
