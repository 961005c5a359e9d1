// Package session ties one user's working surface together: the active
// experiment, the latest run state, the image view, and both local cache
// tiers. Everything a restart must survive flows through here.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prdlabs/modelarena/internal/blobcache"
	"github.com/prdlabs/modelarena/internal/experiment"
	"github.com/prdlabs/modelarena/internal/imagegen"
	"github.com/prdlabs/modelarena/internal/observability"
	"github.com/prdlabs/modelarena/internal/runview"
	"github.com/prdlabs/modelarena/internal/snapshot"
)

// ErrBlobMissing marks an image slot whose snapshot promised a local blob
// the blob store no longer has.
var ErrBlobMissing = errors.New("cache missing locally")

const defaultSaveDelay = 2 * time.Second

// Options configures a session.
type Options struct {
	UserID    string
	Snapshots *snapshot.Store
	Blobs     *blobcache.Store

	// SaveDelay is the snapshot debounce window.
	SaveDelay time.Duration

	Log     *slog.Logger
	Metrics *observability.Metrics
}

// Session is one user's working surface.
type Session struct {
	userID  string
	blobs   *blobcache.Store
	writer  *snapshot.Writer
	log     *slog.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	exp    *experiment.Experiment
	run    *runview.State
	images *imagegen.View
}

// New creates a session. The snapshot and blob stores are required.
func New(opts Options) (*Session, error) {
	if opts.UserID == "" {
		return nil, errors.New("session requires a user id")
	}
	if opts.Snapshots == nil || opts.Blobs == nil {
		return nil, errors.New("session requires snapshot and blob stores")
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.SaveDelay <= 0 {
		opts.SaveDelay = defaultSaveDelay
	}
	return &Session{
		userID:  opts.UserID,
		blobs:   opts.Blobs,
		writer:  snapshot.NewWriter(opts.Snapshots, opts.SaveDelay, opts.Log, opts.Metrics),
		log:     opts.Log,
		metrics: opts.Metrics,
		images:  imagegen.NewView(),
	}, nil
}

// UserID returns the owning user id.
func (s *Session) UserID() string { return s.userID }

// Experiment returns the working experiment, or nil.
func (s *Session) Experiment() *experiment.Experiment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exp
}

// SetExperiment replaces the working experiment and queues a snapshot.
func (s *Session) SetExperiment(exp *experiment.Experiment) {
	s.mu.Lock()
	s.exp = exp
	s.mu.Unlock()
	s.QueueSnapshot()
}

// Run returns the latest run state, or nil.
func (s *Session) Run() *runview.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run
}

// UpdateRun records the latest run state and queues a snapshot. Callers
// pass the clones the orchestrator hands to observers.
func (s *Session) UpdateRun(state *runview.State) {
	s.mu.Lock()
	s.run = state
	s.mu.Unlock()
	s.QueueSnapshot()
}

// Images returns the session's image view, shared with the pipeline.
func (s *Session) Images() *imagegen.View { return s.images }

// QueueSnapshot migrates fresh image bytes into the blob store and queues
// a debounced snapshot write of the structured tier.
func (s *Session) QueueSnapshot() {
	items := s.images.Items()
	for i := range items {
		item := &items[i]
		if len(item.Data) == 0 || item.HasLocalBlob {
			continue
		}
		wrote, err := s.blobs.Put(s.userID, item.Key, item.Data)
		if err != nil {
			s.log.Warn("blob write failed", "key", item.Key, "error", err)
			continue
		}
		if s.metrics != nil {
			result := "written"
			if !wrote {
				result = "deduped"
			}
			s.metrics.BlobWrites.WithLabelValues(result).Inc()
		}
		item.HasLocalBlob = true
		s.images.Update(item.Key, func(it *imagegen.ViewItem) {
			it.HasLocalBlob = true
		})
	}
	for i := range items {
		items[i].Data = nil
	}

	s.mu.Lock()
	snap := &snapshot.Snapshot{
		UserID:     s.userID,
		Experiment: s.exp,
		Run:        s.run,
		Images:     items,
	}
	s.mu.Unlock()
	s.writer.Queue(snap)
}

// Restore rehydrates the session from its snapshot. The structured tier is
// parsed synchronously; blob payloads resolve on a background goroutine,
// and the returned channel closes when they are done. Slots whose promised
// blob is gone are marked failed with ErrBlobMissing, not silently emptied.
func (s *Session) Restore(ctx context.Context) (bool, <-chan struct{}, error) {
	done := make(chan struct{})

	snap, ok, err := s.writer.Store().Load(ctx, s.userID)
	if err != nil {
		close(done)
		return false, done, err
	}
	if !ok {
		close(done)
		return false, done, nil
	}

	s.mu.Lock()
	s.exp = snap.Experiment
	s.run = snap.Run
	s.mu.Unlock()
	s.images.Restore(snap.Images)

	go func() {
		defer close(done)
		s.resolveBlobs(snap.Images)
	}()
	return true, done, nil
}

func (s *Session) resolveBlobs(items []imagegen.ViewItem) {
	for _, item := range items {
		if !item.HasLocalBlob {
			continue
		}
		data, ok, err := s.blobs.Get(s.userID, item.Key)
		if err != nil {
			s.log.Warn("blob read failed", "key", item.Key, "error", err)
			continue
		}
		if !ok {
			s.images.Update(item.Key, func(it *imagegen.ViewItem) {
				it.HasLocalBlob = false
				it.Status = imagegen.StatusError
				it.ErrMessage = ErrBlobMissing.Error()
			})
			continue
		}
		s.images.Update(item.Key, func(it *imagegen.ViewItem) {
			it.Data = data
		})
	}
}

// ClearCache drops both cache tiers for this user.
func (s *Session) ClearCache(ctx context.Context) error {
	if err := s.blobs.Clear(s.userID); err != nil {
		return err
	}
	return s.writer.Store().Clear(ctx, s.userID)
}

// Flush writes any pending snapshot immediately.
func (s *Session) Flush() { s.writer.Flush() }

// Close flushes and stops the snapshot writer.
func (s *Session) Close() { s.writer.Close() }
