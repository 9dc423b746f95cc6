package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"lcktree/db"
	"lcktree/ml"
	"lcktree/monitoring"
	"lcktree/training"
)

type fakeProvider struct {
	mu       sync.Mutex
	calls    int
	trained  int
	lastOpts training.Options
	report   *training.Report
	version  uint64
	lckLabel string

	// When gate is set, Predict signals entered and waits for gate to close.
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeProvider) Predict(features []string) (string, error) {
	f.mu.Lock()
	f.calls++
	label := f.lckLabel
	gate, entered := f.gate, f.entered
	f.mu.Unlock()

	if len(features) < 2 {
		return "", fmt.Errorf("%w: need 2 features", ml.ErrSchemaMismatch)
	}
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}
	if features[1] != "LCK" {
		return "Low", nil
	}
	if label == "" {
		label = "High"
	}
	return label, nil
}

func (f *fakeProvider) ModelVersion() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version
}

// swap replaces the served model with one answering label for LCK rows.
func (f *fakeProvider) swap(label string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lckLabel = label
	f.version++
	f.gate, f.entered = nil, nil
}

func (f *fakeProvider) PredictRow(row int) (training.RowPrediction, error) {
	if row != 0 {
		return training.RowPrediction{}, training.ErrBadRow
	}
	return training.RowPrediction{Row: 0, Player: "Faker", Actual: "High", Predicted: "High"}, nil
}

func (f *fakeProvider) Tree() (ml.Node, []string, error) {
	return &ml.Internal{
		Feature:   1,
		Threshold: "LCK",
		Left:      &ml.Leaf{Prediction: "High"},
		Right:     &ml.Leaf{Prediction: "Low"},
	}, []string{"Position", "Region"}, nil
}

func (f *fakeProvider) Train(ctx context.Context, opts training.Options) (*training.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trained++
	f.lastOpts = opts
	f.report = &training.Report{MaxDepth: 3, TrainSize: 7, TestSize: 3}
	return f.report, nil
}

func (f *fakeProvider) LastReport() *training.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.report
}

func setup(t *testing.T, p ModelProvider) http.Handler {
	t.Helper()
	SetModelProvider(p)
	if err := SetPredictionCache(16); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() {
		SetModelProvider(nil)
		SetPredictionCache(0)
		SetEventHandler(nil)
		SetMetrics(nil)
	})
	return NewHandler(DefaultServerConfig(), nil)
}

func do(handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthHandler(t *testing.T) {
	handler := setup(t, nil)
	rr := do(handler, "GET", "/api/health", "")

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}
	expected := `{"status":"ok"}`
	if strings.TrimSpace(rr.Body.String()) != expected {
		t.Errorf("handler returned unexpected body: got %v want %v", rr.Body.String(), expected)
	}
}

func TestPredictHandler(t *testing.T) {
	provider := &fakeProvider{}
	handler := setup(t, provider)

	rr := do(handler, "POST", "/api/predict", `{"features":["Mid","LCK"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp predictResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Label != "High" || resp.Cached {
		t.Fatalf("unexpected response: %+v", resp)
	}

	rr = do(handler, "POST", "/api/predict", `{"features":["Mid","LCK"]}`)
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if !resp.Cached || resp.Label != "High" {
		t.Fatalf("expected a cached response, got %+v", resp)
	}
	if provider.calls != 1 {
		t.Fatalf("expected one provider call, got %d", provider.calls)
	}

	InvalidateCache()
	do(handler, "POST", "/api/predict", `{"features":["Mid","LCK"]}`)
	if provider.calls != 2 {
		t.Fatalf("expected the cache to be purged, got %d calls", provider.calls)
	}
}

func predictLabel(t *testing.T, handler http.Handler) predictResponse {
	t.Helper()
	rr := do(handler, "POST", "/api/predict", `{"features":["Mid","LCK"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp predictResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	return resp
}

func TestPredictCacheIgnoresResultFromReplacedModel(t *testing.T) {
	gate := make(chan struct{})
	provider := &fakeProvider{lckLabel: "old", version: 1, gate: gate, entered: make(chan struct{})}
	entered := provider.entered
	handler := setup(t, provider)

	inflight := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		inflight <- do(handler, "POST", "/api/predict", `{"features":["Mid","LCK"]}`)
	}()
	<-entered

	provider.swap("new")
	InvalidateCache()
	close(gate)

	var resp predictResponse
	if err := json.Unmarshal((<-inflight).Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Label != "old" || resp.Cached {
		t.Fatalf("unexpected in-flight response: %+v", resp)
	}
	if resp := predictLabel(t, handler); resp.Label != "new" || resp.Cached {
		t.Fatalf("expected a fresh answer from the new model, got %+v", resp)
	}
	if resp := predictLabel(t, handler); resp.Label != "new" || !resp.Cached {
		t.Fatalf("expected the new model's answer to be cached, got %+v", resp)
	}

	// A version change alone is enough to bypass older entries.
	provider.swap("newer")
	if resp := predictLabel(t, handler); resp.Label != "newer" || resp.Cached {
		t.Fatalf("expected an answer from the newest model, got %+v", resp)
	}
}

func TestPredictHandlerErrors(t *testing.T) {
	handler := setup(t, &fakeProvider{})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{"features":`, http.StatusBadRequest},
		{"no features", `{"features":[]}`, http.StatusBadRequest},
		{"short vector", `{"features":["Mid"]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(handler, "POST", "/api/predict", tt.body)
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestHandlersWithoutModel(t *testing.T) {
	handler := setup(t, nil)

	for _, path := range []string{"/api/tree", "/api/report", "/api/rows/0/prediction"} {
		rr := do(handler, "GET", path, "")
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected 503, got %d", path, rr.Code)
		}
	}
	rr := do(handler, "POST", "/api/predict", `{"features":["Mid","LCK"]}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestRowPredictionHandler(t *testing.T) {
	handler := setup(t, &fakeProvider{})

	rr := do(handler, "GET", "/api/rows/0/prediction", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var p training.RowPrediction
	if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if p.Player != "Faker" {
		t.Fatalf("unexpected prediction: %+v", p)
	}

	if rr := do(handler, "GET", "/api/rows/58/prediction", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if rr := do(handler, "GET", "/api/rows/abc/prediction", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestTreeHandler(t *testing.T) {
	handler := setup(t, &fakeProvider{})

	rr := do(handler, "GET", "/api/tree", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		Depth  int    `json:"depth"`
		Leaves int    `json:"leaves"`
		Text   string `json:"text"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Depth != 1 || resp.Leaves != 2 {
		t.Fatalf("unexpected tree shape: %+v", resp)
	}
	if !strings.Contains(resp.Text, `Region == "LCK"`) {
		t.Fatalf("unexpected tree text: %q", resp.Text)
	}
}

func TestTrainHandler(t *testing.T) {
	provider := &fakeProvider{}
	handler := setup(t, provider)

	rr := do(handler, "POST", "/api/train", `{"max_depth":2,"seed":11}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if provider.lastOpts.MaxDepth == nil || *provider.lastOpts.MaxDepth != 2 || provider.lastOpts.Seed != 11 {
		t.Fatalf("options not forwarded: %+v", provider.lastOpts)
	}

	if rr := do(handler, "POST", "/api/train", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected empty body to use defaults, got %d", rr.Code)
	}
	if rr := do(handler, "POST", "/api/train", `{"max_depth":-1}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if rr := do(handler, "POST", "/api/train", `{"train_ratio":1.5}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if provider.trained != 2 {
		t.Fatalf("expected 2 trainings, got %d", provider.trained)
	}

	rr = do(handler, "GET", "/api/report", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestTrainingLogHandler(t *testing.T) {
	handler := setup(t, &fakeProvider{})
	orig := loadTrainingLog
	t.Cleanup(func() { loadTrainingLog = orig })

	var gotLimit int
	loadTrainingLog = func(limit int) ([]db.TrainingLog, error) {
		gotLimit = limit
		return []db.TrainingLog{{ID: 1, ModelName: "decision_tree", Accuracy: 0.75, TrainedAt: time.Now()}}, nil
	}
	rr := do(handler, "GET", "/api/training_log?limit=5", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotLimit != 5 {
		t.Fatalf("expected limit 5, got %d", gotLimit)
	}
	var resp struct {
		Data []db.TrainingLog `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(resp.Data) != 1 {
		t.Fatalf("unexpected data: %+v", resp.Data)
	}

	loadTrainingLog = func(int) ([]db.TrainingLog, error) { return nil, db.ErrNotInitialized }
	if rr := do(handler, "GET", "/api/training_log", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestEventsHandlerNotMounted(t *testing.T) {
	handler := setup(t, nil)
	if rr := do(handler, "GET", "/api/ws/events", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	SetEventHandler(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	if rr := do(handler, "GET", "/api/ws/events", ""); rr.Code != http.StatusTeapot {
		t.Fatalf("expected mounted handler, got %d", rr.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", ml.ErrSchemaMismatch), http.StatusBadRequest},
		{training.ErrBadRow, http.StatusNotFound},
		{training.ErrNoModel, http.StatusServiceUnavailable},
		{training.ErrNoDataset, http.StatusServiceUnavailable},
		{db.ErrNotInitialized, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestMetricsHandler(t *testing.T) {
	handler := setup(t, &fakeProvider{})
	if rr := do(handler, "GET", "/api/metrics", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a collector, got %d", rr.Code)
	}

	mc := monitoring.NewMetricsCollector()
	SetMetrics(mc)
	do(handler, "POST", "/api/predict", `{"features":["Mid","LCK"]}`)
	do(handler, "POST", "/api/predict", `{"features":["Mid","LCK"]}`)
	do(handler, "GET", "/api/rows/99/prediction", "")

	if got := mc.Value("http_requests_total", map[string]string{"route": "POST /api/predict", "status": "200"}); got != 2 {
		t.Fatalf("expected 2 predict requests, got %v", got)
	}
	if got := mc.Value("http_requests_total", map[string]string{"route": "GET /api/rows/{row}/prediction", "status": "404"}); got != 1 {
		t.Fatalf("expected 1 missing row request, got %v", got)
	}
	if got := mc.Value("prediction_cache_total", map[string]string{"result": "hit"}); got != 1 {
		t.Fatalf("expected 1 cache hit, got %v", got)
	}

	rr := do(handler, "GET", "/api/metrics", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "prediction_cache_total") {
		t.Fatalf("unexpected metrics response: %d %s", rr.Code, rr.Body.String())
	}
}
