package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/prdlabs/modelarena/internal/blobcache"
	"github.com/prdlabs/modelarena/internal/experiment"
	"github.com/prdlabs/modelarena/internal/imagegen"
	"github.com/prdlabs/modelarena/internal/observability"
	"github.com/prdlabs/modelarena/internal/runview"
	"github.com/prdlabs/modelarena/internal/snapshot"
)

func newTestSession(t *testing.T) (*Session, *snapshot.Store, *blobcache.Store) {
	t.Helper()
	dir := t.TempDir()
	snaps, err := snapshot.Open(filepath.Join(dir, "snap.db"), nil)
	if err != nil {
		t.Fatalf("open snapshot store: %v", err)
	}
	t.Cleanup(func() { snaps.Close() })
	blobs, err := blobcache.New(filepath.Join(dir, "blobs"), nil)
	if err != nil {
		t.Fatalf("open blob store: %v", err)
	}

	s, err := New(Options{
		UserID:    "u1",
		Snapshots: snaps,
		Blobs:     blobs,
		SaveDelay: time.Hour, // tests flush explicitly
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s, snaps, blobs
}

func seedImage(s *Session, key string, data []byte) {
	s.Images().Restore([]imagegen.ViewItem{{
		Key:     key,
		ModelID: "img-1",
		Status:  imagegen.StatusDone,
		Data:    data,
	}})
}

func TestSessionSnapshotMigratesBlobs(t *testing.T) {
	s, snaps, blobs := newTestSession(t)
	ctx := context.Background()

	s.SetExperiment(&experiment.Experiment{ID: "exp-1", Name: "n"})
	seedImage(s, "b/img-1/0/0", []byte("payload"))
	s.QueueSnapshot()
	s.Flush()

	// Bytes land in the blob tier.
	data, ok, err := blobs.Get("u1", "b/img-1/0/0")
	if err != nil || !ok || string(data) != "payload" {
		t.Fatalf("blob not migrated: ok=%v err=%v", ok, err)
	}

	// The structured tier records only the marker.
	snap, ok, err := snaps.Load(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("snapshot missing: ok=%v err=%v", ok, err)
	}
	if len(snap.Images) != 1 || !snap.Images[0].HasLocalBlob {
		t.Errorf("blob marker not recorded: %+v", snap.Images)
	}
	if len(snap.Images[0].Data) != 0 {
		t.Error("bytes leaked into the structured tier")
	}
}

func TestSessionBlobWriteMetrics(t *testing.T) {
	dir := t.TempDir()
	snaps, err := snapshot.Open(filepath.Join(dir, "snap.db"), nil)
	if err != nil {
		t.Fatalf("open snapshot store: %v", err)
	}
	t.Cleanup(func() { snaps.Close() })
	blobs, err := blobcache.New(filepath.Join(dir, "blobs"), nil)
	if err != nil {
		t.Fatalf("open blob store: %v", err)
	}
	metrics := observability.New(prometheus.NewRegistry())

	s, err := New(Options{
		UserID:    "u1",
		Snapshots: snaps,
		Blobs:     blobs,
		SaveDelay: time.Hour,
		Metrics:   metrics,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)

	seedImage(s, "b/img-1/0/0", []byte("payload"))
	s.QueueSnapshot()
	if got := testutil.ToFloat64(metrics.BlobWrites.WithLabelValues("written")); got != 1 {
		t.Errorf("written = %v, want 1", got)
	}

	// A re-render of the same key within the session hits the written-set.
	s.Images().Update("b/img-1/0/0", func(it *imagegen.ViewItem) {
		it.Data = []byte("payload")
		it.HasLocalBlob = false
	})
	s.QueueSnapshot()
	if got := testutil.ToFloat64(metrics.BlobWrites.WithLabelValues("deduped")); got != 1 {
		t.Errorf("deduped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.BlobWrites.WithLabelValues("written")); got != 1 {
		t.Errorf("written after dedupe = %v, want 1", got)
	}
}

func TestSessionRestore(t *testing.T) {
	t.Run("round trips experiment, run and images", func(t *testing.T) {
		s, snaps, blobs := newTestSession(t)
		ctx := context.Background()

		run := runview.NewState()
		run.Items["i1"] = &runview.Item{ItemID: "i1", Status: runview.StatusDone, Raw: "out"}
		run.Order = []string{"i1"}
		s.SetExperiment(&experiment.Experiment{ID: "exp-1"})
		s.UpdateRun(run)
		seedImage(s, "b/img-1/0/0", []byte("payload"))
		s.QueueSnapshot()
		s.Flush()

		fresh, err := New(Options{UserID: "u1", Snapshots: snaps, Blobs: blobs, SaveDelay: time.Hour})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		defer fresh.Close()

		ok, done, err := fresh.Restore(ctx)
		if err != nil || !ok {
			t.Fatalf("Restore: ok=%v err=%v", ok, err)
		}
		if fresh.Experiment() == nil || fresh.Experiment().ID != "exp-1" {
			t.Error("experiment not restored")
		}
		if fresh.Run() == nil || fresh.Run().Items["i1"].Raw != "out" {
			t.Error("run state not restored")
		}

		<-done
		items := fresh.Images().Items()
		if len(items) != 1 || string(items[0].Data) != "payload" {
			t.Errorf("blob not rehydrated: %+v", items)
		}
	})

	t.Run("missing blob degrades the slot instead of the restore", func(t *testing.T) {
		s, snaps, blobs := newTestSession(t)
		ctx := context.Background()

		seedImage(s, "b/img-1/0/0", []byte("payload"))
		s.QueueSnapshot()
		s.Flush()
		if err := blobs.Clear("u1"); err != nil {
			t.Fatalf("clear blobs: %v", err)
		}
		fresh, err := New(Options{UserID: "u1", Snapshots: snaps, Blobs: blobs, SaveDelay: time.Hour})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		defer fresh.Close()

		ok, done, err := fresh.Restore(ctx)
		if err != nil || !ok {
			t.Fatalf("Restore: ok=%v err=%v", ok, err)
		}
		<-done

		items := fresh.Images().Items()
		if len(items) != 1 {
			t.Fatalf("items = %d", len(items))
		}
		if items[0].Status != imagegen.StatusError || items[0].ErrMessage != ErrBlobMissing.Error() {
			t.Errorf("missing blob not surfaced: %+v", items[0])
		}
	})

	t.Run("no snapshot restores nothing", func(t *testing.T) {
		s, _, _ := newTestSession(t)
		ok, done, err := s.Restore(context.Background())
		if err != nil {
			t.Fatalf("Restore: %v", err)
		}
		<-done
		if ok {
			t.Error("restored from an empty store")
		}
	})
}

func TestSessionClearCache(t *testing.T) {
	s, snaps, blobs := newTestSession(t)
	ctx := context.Background()

	s.SetExperiment(&experiment.Experiment{ID: "exp-1"})
	seedImage(s, "b/img-1/0/0", []byte("payload"))
	s.QueueSnapshot()
	s.Flush()

	if err := s.ClearCache(ctx); err != nil {
		t.Fatalf("ClearCache: %v", err)
	}
	if _, ok, _ := snaps.Load(ctx, "u1"); ok {
		t.Error("snapshot survived cache clear")
	}
	if _, ok, _ := blobs.Get("u1", "b/img-1/0/0"); ok {
		t.Error("blob survived cache clear")
	}
}

func TestHandles(t *testing.T) {
	view := imagegen.NewView()
	view.Restore([]imagegen.ViewItem{
		{Key: "k1", Data: []byte("bytes")},
		{Key: "k2"},
	})
	handles := NewHandles()

	h, ok := handles.Acquire(view, "k1")
	if !ok || string(h.Data) != "bytes" {
		t.Fatalf("Acquire: ok=%v", ok)
	}
	if _, ok := handles.Acquire(view, "k2"); ok {
		t.Error("acquired a handle for a slot without bytes")
	}
	if handles.Open() != 1 {
		t.Errorf("open = %d", handles.Open())
	}

	handles.Release(h.ID)
	handles.Release(h.ID) // idempotent
	if handles.Open() != 0 {
		t.Errorf("open after release = %d", handles.Open())
	}
}
