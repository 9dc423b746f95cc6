package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"lcktree/db"
	"lcktree/ml"
	"lcktree/monitoring"
	"lcktree/training"
)

// ModelProvider is the trained model the API serves.
type ModelProvider interface {
	Predict(features []string) (string, error)
	// ModelVersion changes whenever the served model is replaced.
	ModelVersion() uint64
	PredictRow(row int) (training.RowPrediction, error)
	Tree() (ml.Node, []string, error)
	Train(ctx context.Context, opts training.Options) (*training.Report, error)
	LastReport() *training.Report
}

var (
	providerMu      sync.RWMutex
	modelProvider   ModelProvider
	eventHandler    http.HandlerFunc
	predictionCache *lru.Cache[string, string]
	handlerLogger   = zap.NewNop()
	metrics         *monitoring.MetricsCollector

	loadTrainingLog = db.LoadTrainingLog
)

func SetModelProvider(p ModelProvider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	modelProvider = p
	if predictionCache != nil {
		predictionCache.Purge()
	}
}

// SetEventHandler mounts the websocket endpoint handler.
func SetEventHandler(h http.HandlerFunc) {
	providerMu.Lock()
	defer providerMu.Unlock()
	eventHandler = h
}

// SetPredictionCache enables caching of feature vector predictions.
// size <= 0 disables the cache.
func SetPredictionCache(size int) error {
	providerMu.Lock()
	defer providerMu.Unlock()
	if size <= 0 {
		predictionCache = nil
		return nil
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return err
	}
	predictionCache = cache
	return nil
}

// InvalidateCache drops every cached prediction. Call it whenever the
// provider's model changes.
func InvalidateCache() {
	providerMu.RLock()
	defer providerMu.RUnlock()
	if predictionCache != nil {
		predictionCache.Purge()
	}
}

func SetLogger(logger *zap.Logger) {
	providerMu.Lock()
	defer providerMu.Unlock()
	if logger == nil {
		logger = zap.NewNop()
	}
	handlerLogger = logger
}

// SetMetrics enables request and cache counters and the /api/metrics route.
func SetMetrics(mc *monitoring.MetricsCollector) {
	providerMu.Lock()
	defer providerMu.Unlock()
	metrics = mc
}

func currentMetrics() *monitoring.MetricsCollector {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return metrics
}

func countCache(result string) {
	if mc := currentMetrics(); mc != nil {
		mc.IncrCounter("prediction_cache_total", 1, map[string]string{"result": result})
	}
}

func currentProvider() (ModelProvider, *lru.Cache[string, string]) {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return modelProvider, predictionCache
}

func RegisterHandlers(mux *http.ServeMux) {
	handle(mux, "GET /api/health", handleHealth)
	handle(mux, "POST /api/predict", handlePredict)
	handle(mux, "GET /api/rows/{row}/prediction", handleRowPrediction)
	handle(mux, "GET /api/tree", handleTree)
	handle(mux, "POST /api/train", handleTrain)
	handle(mux, "GET /api/report", handleReport)
	handle(mux, "GET /api/training_log", handleTrainingLog)
	mux.HandleFunc("GET /api/metrics", handleMetrics)
	mux.HandleFunc("GET /api/ws/events", handleEvents)
}

// handle counts requests per route pattern when metrics are enabled.
func handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		mc := currentMetrics()
		if mc == nil {
			fn(w, r)
			return
		}
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		fn(wrapped, r)
		mc.IncrCounter("http_requests_total", 1, map[string]string{
			"route":  pattern,
			"status": strconv.Itoa(wrapped.statusCode),
		})
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type predictRequest struct {
	Features []string `json:"features"`
}

type predictResponse struct {
	Label  string `json:"label"`
	Cached bool   `json:"cached"`
}

func handlePredict(w http.ResponseWriter, r *http.Request) {
	provider, cache := currentProvider()
	if provider == nil {
		respondError(w, http.StatusServiceUnavailable, training.ErrNoModel)
		return
	}

	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if len(req.Features) == 0 {
		respondError(w, http.StatusBadRequest, errors.New("features are required"))
		return
	}

	version := provider.ModelVersion()
	key := strconv.FormatUint(version, 10) + "\x1e" + strings.Join(req.Features, "\x1f")
	if cache != nil {
		if label, ok := cache.Get(key); ok {
			countCache("hit")
			respondJSON(w, predictResponse{Label: label, Cached: true})
			return
		}
		countCache("miss")
	}

	label, err := provider.Predict(req.Features)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	// Drop the result if the model was swapped while predicting.
	if cache != nil && provider.ModelVersion() == version {
		cache.Add(key, label)
	}
	respondJSON(w, predictResponse{Label: label})
}

func handleRowPrediction(w http.ResponseWriter, r *http.Request) {
	provider, _ := currentProvider()
	if provider == nil {
		respondError(w, http.StatusServiceUnavailable, training.ErrNoModel)
		return
	}
	row, err := strconv.Atoi(r.PathValue("row"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("row must be an integer"))
		return
	}
	prediction, err := provider.PredictRow(row)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, prediction)
}

func handleTree(w http.ResponseWriter, r *http.Request) {
	provider, _ := currentProvider()
	if provider == nil {
		respondError(w, http.StatusServiceUnavailable, training.ErrNoModel)
		return
	}
	root, headers, err := provider.Tree()
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, map[string]interface{}{
		"depth":   ml.Depth(root),
		"leaves":  ml.LeafCount(root),
		"headers": headers,
		"text":    ml.Describe(root, headers),
		"root":    root,
	})
}

func handleTrain(w http.ResponseWriter, r *http.Request) {
	provider, _ := currentProvider()
	if provider == nil {
		respondError(w, http.StatusServiceUnavailable, training.ErrNoModel)
		return
	}

	var opts training.Options
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if opts.MaxDepth != nil && *opts.MaxDepth < 0 {
		respondError(w, http.StatusBadRequest, errors.New("max_depth must be >= 0"))
		return
	}
	if opts.TrainRatio < 0 || opts.TrainRatio >= 1 {
		respondError(w, http.StatusBadRequest, errors.New("train_ratio must be in (0, 1)"))
		return
	}

	report, err := provider.Train(r.Context(), opts)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	InvalidateCache()
	respondJSON(w, report)
}

func handleReport(w http.ResponseWriter, r *http.Request) {
	provider, _ := currentProvider()
	if provider == nil || provider.LastReport() == nil {
		respondError(w, http.StatusServiceUnavailable, training.ErrNoModel)
		return
	}
	respondJSON(w, provider.LastReport())
}

func handleTrainingLog(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}
	logs, err := loadTrainingLog(limit)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, map[string]interface{}{"data": logs})
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	mc := currentMetrics()
	if mc == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	io.WriteString(w, mc.ExportPrometheus())
}

func handleEvents(w http.ResponseWriter, r *http.Request) {
	providerMu.RLock()
	h := eventHandler
	providerMu.RUnlock()
	if h == nil {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ml.ErrSchemaMismatch):
		return http.StatusBadRequest
	case errors.Is(err, training.ErrBadRow):
		return http.StatusNotFound
	case errors.Is(err, training.ErrNoModel), errors.Is(err, training.ErrNoDataset), errors.Is(err, db.ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		providerMu.RLock()
		logger := handlerLogger
		providerMu.RUnlock()
		logger.Warn("failed to encode JSON", zap.Error(err))
	}
}
