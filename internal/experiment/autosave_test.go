package experiment

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestAutosaver(t *testing.T) {
	var mu sync.Mutex
	var updates []Experiment
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			var exp Experiment
			json.NewDecoder(r.Body).Decode(&exp) //nolint:errcheck
			mu.Lock()
			updates = append(updates, exp)
			mu.Unlock()
		}
		json.NewEncoder(w).Encode(map[string]any{"code": 0}) //nolint:errcheck
	}))
	defer srv.Close()

	t.Run("burst of edits coalesces into one write", func(t *testing.T) {
		mu.Lock()
		updates = nil
		mu.Unlock()

		a := NewAutosaver(NewStoreClient(srv.URL, ""), time.Hour, nil)
		defer a.Close()

		exp := &Experiment{ID: "exp-1", Name: "v1"}
		for i := 0; i < 10; i++ {
			exp.Name = "edited"
			a.Changed(exp)
		}
		a.Flush()

		mu.Lock()
		defer mu.Unlock()
		if len(updates) != 1 {
			t.Fatalf("updates = %d, want 1", len(updates))
		}
		if updates[0].Name != "edited" {
			t.Errorf("persisted name = %q", updates[0].Name)
		}
	})

	t.Run("changed snapshots the experiment at call time", func(t *testing.T) {
		mu.Lock()
		updates = nil
		mu.Unlock()

		a := NewAutosaver(NewStoreClient(srv.URL, ""), time.Hour, nil)
		defer a.Close()

		exp := &Experiment{ID: "exp-1", Name: "before"}
		a.Changed(exp)
		exp.Name = "mutated afterwards"
		a.Flush()

		mu.Lock()
		defer mu.Unlock()
		if len(updates) != 1 || updates[0].Name != "before" {
			t.Errorf("updates = %+v, want the snapshot taken at Changed", updates)
		}
	})

	t.Run("flush without pending writes nothing", func(t *testing.T) {
		mu.Lock()
		updates = nil
		mu.Unlock()

		a := NewAutosaver(NewStoreClient(srv.URL, ""), time.Hour, nil)
		a.Flush()
		a.Close()

		mu.Lock()
		defer mu.Unlock()
		if len(updates) != 0 {
			t.Errorf("unexpected updates: %+v", updates)
		}
	})
}
