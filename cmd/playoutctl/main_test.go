package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/playout-core/internal/auth"
	"github.com/nerrad567/playout-core/internal/playout"
	"github.com/nerrad567/playout-core/internal/rundown"
)

type recordedRequest struct {
	method, path, query, auth string
	body                      map[string]any
}

// fakeServer answers playoutd routes with canned bodies and records requests.
type fakeServer struct {
	mu       sync.Mutex
	requests []recordedRequest
	routes   map[string]func(w http.ResponseWriter)
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	f := &fakeServer{routes: make(map[string]func(w http.ResponseWriter))}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, auth: r.Header.Get("Authorization")}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			_ = json.Unmarshal(data, &rec.body)
		}
		f.mu.Lock()
		f.requests = append(f.requests, rec)
		h, ok := f.routes[r.Method+" "+r.URL.Path]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": 404, "code": "not_found", "message": "rundown not found"})
			return
		}
		h(w)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeServer) handle(route string, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[route] = func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
}

func (f *fakeServer) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func runCLI(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", server}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func requireContains(t *testing.T, out, want string) {
	t.Helper()
	if !strings.Contains(out, want) {
		t.Fatalf("output missing %q:\n%s", want, out)
	}
}

func sampleSnapshot() playout.Snapshot {
	started := int64(1_700_000_000_000)
	cur := rundown.PartInstance{ID: "pi1", Part: rundown.Part{ID: "p1", Title: "Headlines"}}
	cur.Timings.StartedPlayback = &started
	return playout.Snapshot{
		RundownID:  "r1",
		Active:     true,
		HoldState:  "none",
		Generation: 7,
		Current:    &playout.InstanceSnapshot{PartInstance: cur},
		Next:       &playout.InstanceSnapshot{PartInstance: rundown.PartInstance{ID: "pi2", Part: rundown.Part{ID: "p2", Title: "Lead story"}}},
	}
}

func TestRundownsAndParts(t *testing.T) {
	f, srv := newFakeServer(t)
	f.handle("GET /api/v1/rundowns", map[string]any{
		"rundowns": []rundown.Rundown{{ID: "r1", StudioID: "studio0", Name: "Evening News", Active: true}},
		"count":    1,
	})
	f.handle("GET /api/v1/rundowns/r1/parts", map[string]any{
		"parts": []rundown.Part{
			{ID: "p1", SegmentID: "seg1", Title: "Headlines", ExpectedDuration: 30000},
			{ID: "p2", SegmentID: "seg1", Title: "Lead story", Invalid: true},
		},
	})

	out, err := runCLI(t, srv.URL, "rundowns")
	if err != nil {
		t.Fatalf("rundowns: %v", err)
	}
	requireContains(t, out, "Evening News")
	requireContains(t, out, "on air")

	out, err = runCLI(t, srv.URL, "parts", "r1")
	if err != nil {
		t.Fatalf("parts: %v", err)
	}
	requireContains(t, out, "Headlines")
	requireContains(t, out, "30s")
	requireContains(t, out, "invalid")

	out, err = runCLI(t, srv.URL, "--json", "parts", "r1")
	if err != nil {
		t.Fatalf("parts --json: %v", err)
	}
	var parts []rundown.Part
	if err := json.Unmarshal([]byte(out), &parts); err != nil || len(parts) != 2 {
		t.Errorf("json parts = %v, %v", parts, err)
	}
}

func TestStatus(t *testing.T) {
	f, srv := newFakeServer(t)
	f.handle("GET /api/v1/rundowns/r1/snapshot", sampleSnapshot())

	out, err := runCLI(t, srv.URL, "status", "r1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "generation: 7")
	requireContains(t, out, "Headlines")
	requireContains(t, out, "Lead story")
	requireContains(t, out, "22:13:20")
}

func TestPlayoutActions(t *testing.T) {
	f, srv := newFakeServer(t)
	snap := sampleSnapshot()
	for _, route := range []string{"activate", "take", "next", "reset", "deactivate", "hold/cancel"} {
		f.handle("POST /api/v1/rundowns/r1/"+route, snap)
	}
	f.handle("POST /api/v1/rundowns/r1/move-next", map[string]string{"part_id": "p3"})

	if _, err := runCLI(t, srv.URL, "--token", "tok", "activate", "r1", "--rehearsal"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	req := f.last()
	if req.path != "/api/v1/rundowns/r1/activate" || req.body["rehearsal"] != true || req.auth != "Bearer tok" {
		t.Errorf("activate request = %+v", req)
	}

	if _, err := runCLI(t, srv.URL, "take", "r1"); err != nil {
		t.Fatalf("take: %v", err)
	}
	if req := f.last(); req.method != http.MethodPost || req.path != "/api/v1/rundowns/r1/take" || req.body != nil {
		t.Errorf("take request = %+v", req)
	}

	if _, err := runCLI(t, srv.URL, "next", "r1", "p3"); err != nil {
		t.Fatalf("next: %v", err)
	}
	if req := f.last(); req.body["part_id"] != "p3" || req.body["manual"] != true {
		t.Errorf("next body = %v", req.body)
	}

	if _, err := runCLI(t, srv.URL, "reset", "r1", "--activate"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if req := f.last(); req.body["activate"] != true || req.body["rehearsal"] != false {
		t.Errorf("reset body = %v", req.body)
	}

	if _, err := runCLI(t, srv.URL, "unhold", "r1"); err != nil {
		t.Fatalf("unhold: %v", err)
	}
	if req := f.last(); req.path != "/api/v1/rundowns/r1/hold/cancel" {
		t.Errorf("unhold path = %s", req.path)
	}

	out, err := runCLI(t, srv.URL, "move", "r1", "--segments", "1")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	requireContains(t, out, "next: p3")
	if req := f.last(); req.body["vertical"] != float64(1) || req.body["horizontal"] != float64(0) {
		t.Errorf("move body = %v", req.body)
	}
	if _, err := runCLI(t, srv.URL, "move", "r1"); err == nil {
		t.Error("move without a delta succeeded")
	}
}

func TestAsRun(t *testing.T) {
	f, srv := newFakeServer(t)
	f.handle("GET /api/v1/rundowns/r1/asrun", map[string]any{
		"events": []map[string]any{{"content": "startedPlayback", "content2": "part", "part_instance_id": "pi1", "timestamp": 1000}},
		"total":  3,
	})

	out, err := runCLI(t, srv.URL, "asrun", "r1", "--limit", "1", "--scope", "part")
	if err != nil {
		t.Fatalf("asrun: %v", err)
	}
	requireContains(t, out, "startedPlayback")
	requireContains(t, out, "1 of 3 events")
	if q := f.last().query; !strings.Contains(q, "limit=1") || !strings.Contains(q, "content2=part") {
		t.Errorf("query = %q", q)
	}
}

func TestAPIErrors(t *testing.T) {
	_, srv := newFakeServer(t)

	_, err := runCLI(t, srv.URL, "status", "nope")
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound || apiErr.Code != "not_found" {
		t.Fatalf("status(nope) = %v", err)
	}
	requireContains(t, err.Error(), "rundown not found")
}

func TestTokenCommand(t *testing.T) {
	secret := "test-secret-key-at-least-32-characters-long"

	out, err := runCLI(t, "http://unused", "token", "--secret", secret, "--subject", "desk1", "--role", "admin")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	claims, err := auth.ParseToken(strings.TrimSpace(out), secret)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Subject != "desk1" || claims.Role != auth.RoleAdmin {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := runCLI(t, "http://unused", "token", "--secret", secret, "--role", "root"); !errors.Is(err, auth.ErrInvalidRole) {
		t.Errorf("bad role = %v, want ErrInvalidRole", err)
	}
	t.Setenv("PLAYOUT_JWT_SECRET", "")
	if _, err := runCLI(t, "http://unused", "token"); err == nil {
		t.Error("token without secret succeeded")
	}
}
