package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/newsieai/newsie/internal/events"
	"github.com/newsieai/newsie/internal/payment"
	"github.com/newsieai/newsie/internal/schedule"
	"github.com/newsieai/newsie/internal/scheduler"
	"github.com/newsieai/newsie/internal/store"
	"github.com/newsieai/newsie/internal/telemetry"
	"github.com/newsieai/newsie/internal/thread"
)

type fakeService struct {
	mu        sync.Mutex
	threads   map[string]*thread.Thread
	inFlight  map[string]bool
	armed     map[string]time.Time
	runs      map[string][]store.Run
	transfer  *payment.TransferRecord
	balance   float64
	runNow    error
	startErr  error
	latestErr error
}

func newFakeService() *fakeService {
	return &fakeService{
		threads:  make(map[string]*thread.Thread),
		inFlight: make(map[string]bool),
		armed:    make(map[string]time.Time),
		runs:     make(map[string][]store.Run),
	}
}

func (f *fakeService) SaveThread(_ context.Context, th *thread.Thread) error {
	if err := th.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads[th.ID] = th
	return nil
}

func (f *fakeService) GetThread(_ context.Context, id string) (*thread.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	th, ok := f.threads[id]
	if !ok {
		return nil, store.ErrThreadNotFound
	}
	return th, nil
}

func (f *fakeService) ListThreads(context.Context) ([]thread.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []thread.Thread
	for _, th := range f.threads {
		out = append(out, *th)
	}
	return out, nil
}

func (f *fakeService) DeleteThread(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.threads[id]; !ok {
		return store.ErrThreadNotFound
	}
	delete(f.threads, id)
	return nil
}

func (f *fakeService) StartThread(_ context.Context, id string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return time.Time{}, f.startErr
	}
	if _, ok := f.threads[id]; !ok {
		return time.Time{}, store.ErrThreadNotFound
	}
	next := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f.armed[id] = next
	f.threads[id].Running = true
	return next, nil
}

func (f *fakeService) StopThread(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.armed, id)
	if th, ok := f.threads[id]; ok {
		th.Running = false
	}
	return nil
}

func (f *fakeService) RunNow(context.Context, string) error { return f.runNow }

func (f *fakeService) NextFire(id string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	next, ok := f.armed[id]
	return next, ok
}

func (f *fakeService) InFlight(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight[id]
}

func (f *fakeService) LatestRun(_ context.Context, id string) (*store.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latestErr != nil {
		return nil, f.latestErr
	}
	runs := f.runs[id]
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[len(runs)-1], nil
}

func (f *fakeService) ListRuns(_ context.Context, id string, _ int) ([]store.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[id], nil
}

func (f *fakeService) ListItems(context.Context, string, int) ([]store.Item, error) {
	return nil, nil
}

func (f *fakeService) ListTransfers(context.Context, int) ([]payment.TransferRecord, error) {
	return []payment.TransferRecord{{ID: "tr-1", Amount: 0.05, Status: payment.TransferConfirmed}}, nil
}

func (f *fakeService) LatestTransfer(context.Context, string) (*payment.TransferRecord, error) {
	return f.transfer, nil
}

func (f *fakeService) Balance(context.Context) (float64, error) { return f.balance, nil }

func newTestServer(t *testing.T, svc Service, token string) *httptest.Server {
	t.Helper()
	s := NewServer(
		Config{Listen: "127.0.0.1:0", AuthToken: token},
		svc,
		telemetry.NewMetrics(),
		events.NewBus(),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	ts := httptest.NewServer(s.buildRouter())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func validThreadPayload() map[string]any {
	return map[string]any{
		"owner_id": "owner-1",
		"name":     "morning digest",
		"timezone": "America/New_York",
		"schedule": map[string]any{"type": "daily", "times": []string{"09:00"}},
		"blocks": []map[string]any{
			{"kind": "topic-search", "mode": "direct", "tags": []string{"technology"}},
		},
	}
}

func TestAuth(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, newFakeService(), "sekrit")

	if resp := doJSON(t, http.MethodGet, ts.URL+"/health", "", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("/health = %d, want 200 without auth", resp.StatusCode)
	}
	if resp := doJSON(t, http.MethodGet, ts.URL+"/api/threads", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", resp.StatusCode)
	}
	if resp := doJSON(t, http.MethodGet, ts.URL+"/api/threads", "wrong", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", resp.StatusCode)
	}
	if resp := doJSON(t, http.MethodGet, ts.URL+"/api/threads", "sekrit", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("good token = %d, want 200", resp.StatusCode)
	}
}

func TestThreadLifecycle(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	ts := newTestServer(t, svc, "")

	// Create: id generated, 201.
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/threads", "", validThreadPayload())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d, want 201", resp.StatusCode)
	}
	var created thread.Thread
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" {
		t.Fatal("created thread has no id")
	}

	base := ts.URL + "/api/threads/" + created.ID

	// Start arms the schedule.
	resp = doJSON(t, http.MethodPost, base+"/start", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start = %d, want 200", resp.StatusCode)
	}
	var started StartResponse
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatal(err)
	}
	if started.NextFire.IsZero() {
		t.Error("start response missing next_fire")
	}

	// Status reflects armed state and the latest transfer.
	svc.mu.Lock()
	svc.transfer = &payment.TransferRecord{ID: "tr-9", Status: payment.TransferFailed}
	svc.mu.Unlock()
	resp = doJSON(t, http.MethodGet, base+"/status", "", nil)
	var status ThreadStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if !status.Running || status.NextFire == nil {
		t.Errorf("status = %+v, want running with next fire", status)
	}
	if status.LastTransfer == nil || status.LastTransfer.ID != "tr-9" {
		t.Errorf("last transfer = %+v, want tr-9", status.LastTransfer)
	}

	// Stop then delete.
	if resp = doJSON(t, http.MethodPost, base+"/stop", "", nil); resp.StatusCode != http.StatusNoContent {
		t.Errorf("stop = %d, want 204", resp.StatusCode)
	}
	if resp = doJSON(t, http.MethodDelete, base+"/", "", nil); resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", resp.StatusCode)
	}
	if resp = doJSON(t, http.MethodGet, base+"/", "", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", resp.StatusCode)
	}
}

func TestSaveThread_InvalidBody(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, newFakeService(), "")

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/threads", strings.NewReader("{not json"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body = %d, want 400", resp.StatusCode)
	}

	payload := validThreadPayload()
	payload["blocks"] = []map[string]any{
		{"kind": "topic-search", "mode": "direct"}, // no tags
	}
	if resp := doJSON(t, http.MethodPost, ts.URL+"/api/threads", "", payload); resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("invalid thread = %d, want 422", resp.StatusCode)
	}
}

func TestThreadStatus_StoreFailureSurfaces(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.latestErr = fmt.Errorf("store: query runs: disk I/O error")
	ts := newTestServer(t, svc, "")

	svc.threads["t-1"] = &thread.Thread{ID: "t-1"}
	resp := doJSON(t, http.MethodGet, ts.URL+"/api/threads/t-1/status", "", nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status with failing store = %d, want 500", resp.StatusCode)
	}
	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body.Error, "disk I/O") {
		t.Errorf("error body = %q, want the store failure", body.Error)
	}
}

func TestStartThread_InvalidSchedule(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.startErr = fmt.Errorf("arming: %w", schedule.ErrInvalidSchedule)
	ts := newTestServer(t, svc, "")

	svc.threads["t-1"] = &thread.Thread{ID: "t-1"}
	if resp := doJSON(t, http.MethodPost, ts.URL+"/api/threads/t-1/start", "", nil); resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("start with bad schedule = %d, want 422", resp.StatusCode)
	}
}

func TestRunNow_Conflict(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.runNow = fmt.Errorf("wrapped: %w", scheduler.ErrRunInFlight)
	ts := newTestServer(t, svc, "")

	svc.threads["t-1"] = &thread.Thread{ID: "t-1"}
	if resp := doJSON(t, http.MethodPost, ts.URL+"/api/threads/t-1/run", "", nil); resp.StatusCode != http.StatusConflict {
		t.Errorf("run during in-flight = %d, want 409", resp.StatusCode)
	}

	svc.runNow = nil
	if resp := doJSON(t, http.MethodPost, ts.URL+"/api/threads/t-1/run", "", nil); resp.StatusCode != http.StatusAccepted {
		t.Errorf("run = %d, want 202", resp.StatusCode)
	}
}

func TestListTransfersAndBalance(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.balance = 12.5
	ts := newTestServer(t, svc, "")

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/transfers", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transfers = %d, want 200", resp.StatusCode)
	}
	var transfers []payment.TransferRecord
	if err := json.NewDecoder(resp.Body).Decode(&transfers); err != nil {
		t.Fatal(err)
	}
	if len(transfers) != 1 || transfers[0].ID != "tr-1" {
		t.Errorf("transfers = %+v", transfers)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/balance", "", nil)
	var balance BalanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&balance); err != nil {
		t.Fatal(err)
	}
	if balance.Balance != 12.5 {
		t.Errorf("balance = %v, want 12.5", balance.Balance)
	}
}

// Keep the fake honest against the real interface.
var _ Service = (*fakeService)(nil)

// Sanity: a schedule round-trips through the API payload shape.
func TestThreadPayloadShape(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(validThreadPayload())
	if err != nil {
		t.Fatal(err)
	}
	var th thread.Thread
	if err := json.Unmarshal(raw, &th); err != nil {
		t.Fatal(err)
	}
	if th.Schedule.Type != schedule.TypeDaily || len(th.Blocks) != 1 {
		t.Errorf("decoded thread = %+v", th)
	}
}
