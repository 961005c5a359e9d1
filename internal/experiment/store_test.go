package experiment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStoreClient(t *testing.T) {
	t.Run("get unwraps envelope", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/experiments/e1" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if got := r.Header.Get("Authorization"); got != "Bearer tok" {
				t.Errorf("missing bearer token, got %q", got)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"code": 0,
				"data": map[string]any{"id": "e1", "name": "n"},
			})
		}))
		defer srv.Close()

		client := NewStoreClient(srv.URL, "tok")
		exp, err := client.Get(context.Background(), "e1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if exp.ID != "e1" || exp.Name != "n" {
			t.Errorf("unexpected experiment: %+v", exp)
		}
	})

	t.Run("non-zero envelope code is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"code": 401, "message": "expired"})
		}))
		defer srv.Close()

		if _, err := NewStoreClient(srv.URL, "").Get(context.Background(), "x"); err == nil {
			t.Error("expected envelope error")
		}
	})

	t.Run("update normalizes before sending", func(t *testing.T) {
		var sent Experiment
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewDecoder(r.Body).Decode(&sent)
			json.NewEncoder(w).Encode(map[string]any{"code": 0})
		}))
		defer srv.Close()

		exp := &Experiment{ID: "e1", Models: []ModelRef{
			{Platform: "p", Model: "m"},
			{Platform: "P", Model: "M"},
		}}
		if err := NewStoreClient(srv.URL, "").Update(context.Background(), exp); err != nil {
			t.Fatalf("update: %v", err)
		}
		if len(sent.Models) != 1 {
			t.Errorf("duplicate models sent to store: %+v", sent.Models)
		}
	})

	t.Run("list forwards paging", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("page") != "2" || r.URL.Query().Get("pageSize") != "5" {
				t.Errorf("paging not forwarded: %s", r.URL.RawQuery)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"code": 0,
				"data": map[string]any{"items": []any{}, "total": 0, "page": 2, "pageSize": 5},
			})
		}))
		defer srv.Close()

		if _, err := NewStoreClient(srv.URL, "").List(context.Background(), 2, 5); err != nil {
			t.Fatalf("list: %v", err)
		}
	})

	t.Run("http error status is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		if _, err := NewStoreClient(srv.URL, "").Get(context.Background(), "x"); err == nil {
			t.Error("expected error")
		}
	})
}
