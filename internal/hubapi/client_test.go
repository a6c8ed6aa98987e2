package hubapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_GetWorkspaceDecodesSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/workspaces/w1" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"version":5,"agents":[{"id":"a1","name":"alpha","role":"tester"}],"locks":[{"agentId":"a1","target":{"path":"/x"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api", 0)
	snap, err := c.GetSnapshot(context.Background(), "w1")
	if err != nil {
		t.Fatalf("get workspace failed: %v", err)
	}
	if snap.Cursor != 5 || len(snap.Agents) != 1 || len(snap.Locks) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Locks[0].TargetPath != "/x" {
		t.Fatalf("unexpected lock path: %q", snap.Locks[0].TargetPath)
	}
}

func TestClient_EmptyWorkspaceUsesUnscopedEndpoints(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.RequestURI())
		switch r.URL.Path {
		case "/state":
			_, _ = w.Write([]byte(`{"cursor":1}`))
		case "/changes":
			_, _ = w.Write([]byte(`{"changed":false,"version":1}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0)
	if _, err := c.GetSnapshot(context.Background(), ""); err != nil {
		t.Fatalf("get state failed: %v", err)
	}
	changes, err := c.GetChanges(context.Background(), "", 1)
	if err != nil {
		t.Fatalf("get changes failed: %v", err)
	}
	if changes.Changed {
		t.Fatal("expected no change")
	}
	if len(paths) != 2 || paths[0] != "/state" || paths[1] != "/changes?since=1" {
		t.Fatalf("unexpected paths: %v", paths)
	}
}

func TestClient_MissingWorkspaceMapsToSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0)
	_, err := c.GetWorkspace(context.Background(), "gone")
	if !errors.Is(err, ErrWorkspaceNotFound) {
		t.Fatalf("expected ErrWorkspaceNotFound, got %v", err)
	}
	_, err = c.GetChanges(context.Background(), "gone", 0)
	if !errors.Is(err, ErrWorkspaceNotFound) {
		t.Fatalf("expected ErrWorkspaceNotFound from changes, got %v", err)
	}
}

func TestClient_ServerErrorIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 0).GetState(context.Background())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status error, got %v", err)
	}
	if errors.Is(err, ErrWorkspaceNotFound) {
		t.Fatal("server errors must not look like a missing workspace")
	}
}

func TestClient_CreateWorkspaceSendsNameAndReset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/workspaces" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["name"] != "demo" || body["reset"] != true {
			t.Fatalf("unexpected body: %v", body)
		}
		_, _ = w.Write([]byte(`{"id":"w9","name":"demo"}`))
	}))
	defer srv.Close()

	ws, err := NewClient(srv.URL, 0).CreateWorkspace(context.Background(), "demo", true)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if ws.ID != "w9" || ws.Name != "demo" {
		t.Fatalf("unexpected workspace: %+v", ws)
	}
}

func TestClient_ListWorkspaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"workspaces":[{"id":"w2","name":"beta","agents":0,"target":null},{"id":"w1","name":"alpha","agents":3,"target":"ship it"}]}`))
	}))
	defer srv.Close()

	list, err := NewClient(srv.URL, 0).ListWorkspaces(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "w1" || list[0].Agents != 3 || list[0].Target == nil || list[1].Target != nil {
		t.Fatalf("unexpected list: %+v", list)
	}
}
