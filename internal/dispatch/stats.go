package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	errspkg "github.com/drblury/mediator/internal/dispatch/errors"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// HandlerStats aggregates per-handler dispatch outcomes for the introspection
// endpoint. All exported fields are snapshots refreshed on every finished
// dispatch; readers go through MarshalJSON or the registry's Snapshot.
type HandlerStats struct {
	mu sync.Mutex `json:"-"`

	handlerName string `json:"-"`
	handlerKind string `json:"-"`

	DispatchesCompleted uint64    `json:"dispatches_completed"`
	DispatchesFailed    uint64    `json:"dispatches_failed"`
	TotalProcessingTime int64     `json:"total_processing_time_ns"`
	LastDispatchedAt    time.Time `json:"last_dispatched_at"`
	InFlight            uint64    `json:"in_flight"`
	MaxInFlight         uint64    `json:"max_in_flight"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`

	latencyWindow    *latencyWindow    `json:"-"`
	throughputWindow *throughputWindow `json:"-"`
}

// HandlerInfo pairs a handler's identity with its stats for introspection
// responses.
type HandlerInfo struct {
	Name  string        `json:"name"`
	Kind  string        `json:"kind"`
	Stats *HandlerStats `json:"stats"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS         float64 `json:"current_rps"`
	WindowSeconds      float64 `json:"window_seconds"`
	DispatchesInWindow uint64  `json:"dispatches_in_window"`
	TotalDispatches    uint64  `json:"total_dispatches"`
}

// ErrorBreakdown counts faults by taxonomy category.
type ErrorBreakdown struct {
	NoHandler uint64 `json:"no_handler"`
	Handler   uint64 `json:"handler"`
	Aggregate uint64 `json:"aggregate"`
	Cancelled uint64 `json:"cancelled"`
	Other     uint64 `json:"other"`
	LastError string `json:"last_error,omitempty"`
}

type ErrorCategory string

const (
	ErrorCategoryNone      ErrorCategory = "none"
	ErrorCategoryNoHandler ErrorCategory = "no_handler"
	ErrorCategoryHandler   ErrorCategory = "handler"
	ErrorCategoryAggregate ErrorCategory = "aggregate"
	ErrorCategoryCancelled ErrorCategory = "cancelled"
	ErrorCategoryOther     ErrorCategory = "other"
)

// ErrorClassifier maps a dispatch error to a taxonomy category. A nil
// classifier falls back to the fault-type based default.
type ErrorClassifier func(error) ErrorCategory

func defaultErrorClassifier(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	var noHandler *errspkg.NoHandlerFoundError
	if errors.As(err, &noHandler) {
		return ErrorCategoryNoHandler
	}
	var cancelled *errspkg.CancellationFault
	if errors.As(err, &cancelled) {
		return ErrorCategoryCancelled
	}
	var aggregate *errspkg.AggregateFault
	if errors.As(err, &aggregate) {
		return ErrorCategoryAggregate
	}
	var fault *errspkg.HandlerFault
	if errors.As(err, &fault) {
		return ErrorCategoryHandler
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorCategoryCancelled
	}
	return ErrorCategoryOther
}

// StatsRegistry holds per-handler stats keyed by handler name. All methods
// are safe for concurrent use and nil-safe so stats collection stays
// optional.
type StatsRegistry struct {
	mu         sync.Mutex
	byHandler  map[string]*HandlerStats
	classifier ErrorClassifier
}

// NewStatsRegistry creates a registry. classifier may be nil to use the
// default fault-type classification.
func NewStatsRegistry(classifier ErrorClassifier) *StatsRegistry {
	return &StatsRegistry{
		byHandler:  make(map[string]*HandlerStats),
		classifier: classifier,
	}
}

func (s *StatsRegistry) handlerStats(name, kind string) *HandlerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats, ok := s.byHandler[name]
	if !ok {
		stats = &HandlerStats{
			handlerName:      name,
			handlerKind:      kind,
			latencyWindow:    newLatencyWindow(latencySampleSize),
			throughputWindow: newThroughputWindow(throughputWindowSize),
		}
		s.byHandler[name] = stats
	}
	return stats
}

// DispatchStarted records one dispatch entering the pipeline.
func (s *StatsRegistry) DispatchStarted(handler, kind string) {
	if s == nil {
		return
	}
	stats := s.handlerStats(handler, kind)
	stats.mu.Lock()
	defer stats.mu.Unlock()
	stats.InFlight++
	if stats.InFlight > stats.MaxInFlight {
		stats.MaxInFlight = stats.InFlight
	}
}

// DispatchFinished records a completed or faulted dispatch.
func (s *StatsRegistry) DispatchFinished(handler, kind string, duration time.Duration, err error) {
	if s == nil {
		return
	}
	stats := s.handlerStats(handler, kind)
	stats.mu.Lock()
	defer stats.mu.Unlock()

	if stats.InFlight > 0 {
		stats.InFlight--
	}
	stats.DispatchesCompleted++
	if err != nil {
		stats.DispatchesFailed++
	}
	stats.TotalProcessingTime += int64(duration)
	stats.LastDispatchedAt = time.Now().UTC()

	if stats.latencyWindow != nil {
		stats.latencyWindow.Add(duration)
		snapshot := stats.latencyWindow.Snapshot()
		snapshot.LastNs = int64(duration)
		if stats.DispatchesCompleted > 0 {
			snapshot.AverageNs = stats.TotalProcessingTime / int64(stats.DispatchesCompleted)
		}
		stats.Latency = snapshot
	}

	if stats.throughputWindow != nil {
		snapshot := stats.throughputWindow.AddAndSnapshot(time.Now())
		stats.Throughput.CurrentRPS = snapshot.CurrentRPS
		stats.Throughput.WindowSeconds = snapshot.WindowSeconds
		stats.Throughput.DispatchesInWindow = uint64(snapshot.Count)
	}
	stats.Throughput.TotalDispatches = stats.DispatchesCompleted

	classifier := s.classifier
	if classifier == nil {
		classifier = defaultErrorClassifier
	}
	stats.Errors.Record(classifier(err), err)
}

// Snapshot returns the current stats for every handler seen so far, sorted by
// handler name for stable introspection output.
func (s *StatsRegistry) Snapshot() []HandlerInfo {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]HandlerInfo, 0, len(s.byHandler))
	for _, stats := range s.byHandler {
		infos = append(infos, HandlerInfo{
			Name:  stats.handlerName,
			Kind:  stats.handlerKind,
			Stats: stats,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (h *HandlerStats) MarshalJSON() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	type Alias HandlerStats
	return json.Marshal((*Alias)(h))
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		if err == nil {
			return
		}
		e.Other++
	case ErrorCategoryNoHandler:
		e.NoHandler++
	case ErrorCategoryHandler:
		e.Handler++
	case ErrorCategoryAggregate:
		e.Aggregate++
	case ErrorCategoryCancelled:
		e.Cancelled++
	default:
		e.Other++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	if lw == nil || len(lw.samples) == 0 {
		return
	}
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	var metrics LatencyMetrics
	if lw == nil {
		return metrics
	}
	if lw.filled == 0 {
		metrics.LastNs = lw.last
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	var sum int64
	for _, v := range samples {
		sum += v
	}
	metrics.AverageNs = sum / int64(len(samples))
	metrics.LastNs = lw.last
	return metrics
}

func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{
		horizon: horizon,
		samples: make([]time.Time, 0, 64),
	}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	if tw == nil {
		return throughputSnapshot{}
	}
	tw.samples = append(tw.samples, now)
	tw.cleanup(now)
	return tw.snapshot(now)
}

func (tw *throughputWindow) cleanup(now time.Time) {
	if tw == nil || len(tw.samples) == 0 {
		return
	}
	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.samples) && tw.samples[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		copy(tw.samples, tw.samples[idx:])
		tw.samples = tw.samples[:len(tw.samples)-idx]
	}
}

func (tw *throughputWindow) snapshot(now time.Time) throughputSnapshot {
	if tw == nil || len(tw.samples) == 0 {
		return throughputSnapshot{}
	}
	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	count := len(tw.samples)
	return throughputSnapshot{
		Count:         count,
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(count) / span.Seconds(),
	}
}
