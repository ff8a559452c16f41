package store

import (
	"context"
	"log/slog"
	"time"
)

// FlushCallback is called after each flush with the number of sessions
// written and the number that failed.
type FlushCallback func(written, failed int)

// Flush writes every dirty session to repo. Sessions that fail to save are
// marked dirty again so the next flush retries them.
func Flush(ctx context.Context, st *Store, repo Repository) (written, failed int) {
	for _, session := range st.TakeDirty() {
		if err := repo.SaveSession(ctx, session); err != nil {
			slog.Error("Flush worker failed to save session",
				"error", err,
				"session_id", session.ID)
			st.MarkDirty(session.ID)
			failed++
			continue
		}
		written++
	}
	return written, failed
}

// StartFlushWorker runs a background goroutine that periodically persists
// changed sessions. It performs one final flush when ctx is canceled, using
// a short detached deadline so shutdown does not lose the tail of a
// discussion. The returned channel closes once the worker has exited.
func StartFlushWorker(ctx context.Context, st *Store, repo Repository, interval time.Duration, onFlush FlushCallback) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("Flush worker started", "interval", interval)

		report := func(written, failed int) {
			if onFlush != nil && (written > 0 || failed > 0) {
				onFlush(written, failed)
			}
		}

		for {
			select {
			case <-ticker.C:
				report(Flush(ctx, st, repo))
			case <-ctx.Done():
				finalCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				written, failed := Flush(finalCtx, st, repo)
				cancel()
				report(written, failed)
				slog.Info("Flush worker shutting down",
					"reason", ctx.Err(),
					"written", written,
					"failed", failed)
				return
			}
		}
	}()
	return done
}
