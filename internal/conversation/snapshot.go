package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/taskdeck-ai/taskdeck/pkg/types"
)

// snapshotInterval is how long the transcript must be quiet before a
// snapshot write-back runs. A crash loses at most the last few seconds of
// conversation.
const snapshotInterval = 2 * time.Second

// PersistFunc writes one conversation record to durable storage.
type PersistFunc func(ctx context.Context, rec *types.ConversationRecord) error

// snapshotter debounces transcript mutations into periodic persisted
// snapshots. Persistence failure is logged and retried with backoff, never
// fatal.
type snapshotter struct {
	store   *Store
	persist PersistFunc

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func newSnapshotter(store *Store, persist PersistFunc) *snapshotter {
	return &snapshotter{store: store, persist: persist}
}

// touch (re)arms the debounce timer after a transcript mutation.
func (sn *snapshotter) touch() {
	sn.mu.Lock()
	defer sn.mu.Unlock()

	if sn.stopped {
		return
	}
	if sn.timer != nil {
		sn.timer.Stop()
	}
	sn.timer = time.AfterFunc(snapshotInterval, sn.write)
}

// flush writes immediately, cancelling any pending debounce.
func (sn *snapshotter) flush() {
	sn.mu.Lock()
	if sn.timer != nil {
		sn.timer.Stop()
		sn.timer = nil
	}
	stopped := sn.stopped
	sn.mu.Unlock()

	if !stopped {
		sn.write()
	}
}

func (sn *snapshotter) stop() {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	sn.stopped = true
	if sn.timer != nil {
		sn.timer.Stop()
		sn.timer = nil
	}
}

func (sn *snapshotter) write() {
	rec := sn.store.Record()
	if len(rec.Messages) == 0 || rec.AttemptID == "" {
		return
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	err := backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return sn.persist(ctx, rec)
	}, bo)
	if err != nil {
		sn.store.log.Warn().Err(err).Msg("conversation snapshot failed")
	}
}
