package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/wolftax/oferta_tools/internal/constant"
	"github.com/wolftax/oferta_tools/internal/model"
	"github.com/wolftax/oferta_tools/pkg/logger"
)

// LoadTestOptions configures one test run.
type LoadTestOptions struct {
	Name          string            `json:"name"`
	TestType      string            `json:"testType"`
	TargetURL     string            `json:"targetUrl"`
	Method        string            `json:"method"`
	Headers       map[string]string `json:"headers"`
	Body          string            `json:"body"`
	Concurrency   int               `json:"concurrency"`
	TotalRequests int               `json:"totalRequests"`
	Duration      int               `json:"duration"`      // seconds, ramp_up type
	RampUpSeconds int               `json:"rampUpSeconds"` // ramp_up type
	Timeout       int               `json:"timeout"`       // seconds, per request
}

// LoadTestStatus is the live view of the current run.
type LoadTestStatus struct {
	Running           bool    `json:"running"`
	RunID             uint64  `json:"runId,string,omitempty"`
	Name              string  `json:"name,omitempty"`
	CompletedRequests int64   `json:"completedRequests"`
	ElapsedSeconds    float64 `json:"elapsedSeconds"`
}

type LoadTestService interface {
	// Start launches a test run in the background. Only one run may be
	// active at a time.
	Start(opts *LoadTestOptions) (*model.TestRun, error)
	// Stop cancels the active run.
	Stop() error
	// Status reports the active run, or Running=false when idle.
	Status() *LoadTestStatus
	// GetRun loads a finished or running test with its request records and
	// system metrics.
	GetRun(id uint64) (*TestRunDetail, error)
	// ListRuns pages through past runs, newest first.
	ListRuns(offset, limit int) ([]*model.TestRun, int64, error)
}

type activeRun struct {
	run       *model.TestRun
	cancel    context.CancelFunc
	completed atomic.Int64
	startedAt time.Time
}

type loadTestService struct {
	db              *gorm.DB
	monitor         MonitorService
	monitorInterval time.Duration
	maxWorkers      int

	mu     sync.Mutex
	active *activeRun
}

func NewLoadTestService(db *gorm.DB, monitor MonitorService, monitorInterval time.Duration, maxWorkers int) LoadTestService {
	if maxWorkers <= 0 {
		maxWorkers = 50
	}
	if monitorInterval <= 0 {
		monitorInterval = time.Second
	}
	return &loadTestService{
		db:              db,
		monitor:         monitor,
		monitorInterval: monitorInterval,
		maxWorkers:      maxWorkers,
	}
}

func (s *loadTestService) Start(opts *LoadTestOptions) (*model.TestRun, error) {
	if err := normalizeOptions(opts, s.maxWorkers); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return nil, constant.ErrTestAlreadyRunning
	}

	now := time.Now()
	run := &model.TestRun{
		Name:          opts.Name,
		TestType:      opts.TestType,
		TargetURL:     opts.TargetURL,
		Method:        opts.Method,
		Concurrency:   opts.Concurrency,
		TotalRequests: opts.TotalRequests,
		Duration:      opts.Duration,
		RampUpSeconds: opts.RampUpSeconds,
		Status:        constant.TestStatusRunning,
		StartedAt:     &now,
	}
	if err := s.db.Create(run).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", constant.ErrDatabaseError, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.active = &activeRun{run: run, cancel: cancel, startedAt: now}

	s.monitor.Start(run.ID, s.monitorInterval, func(metric *model.SystemMetric) {
		if err := s.db.Create(metric).Error; err != nil {
			logger.Error("persist system metric failed", logger.F("error", err.Error()))
		}
	})

	go s.execute(ctx, s.active, opts)
	logger.Info("load test started",
		logger.F("runId", run.ID),
		logger.F("type", opts.TestType),
		logger.F("target", opts.TargetURL))
	return run, nil
}

func normalizeOptions(opts *LoadTestOptions, maxWorkers int) error {
	if opts == nil || opts.TargetURL == "" {
		return fmt.Errorf("%w: target url is required", constant.ErrInvalidParams)
	}
	if opts.TestType == "" {
		opts.TestType = constant.TestTypeConcurrent
	}
	if opts.TestType != constant.TestTypeConcurrent && opts.TestType != constant.TestTypeRampUp {
		return fmt.Errorf("%w: unknown test type %q", constant.ErrInvalidParams, opts.TestType)
	}
	if opts.Method == "" {
		opts.Method = http.MethodGet
	}
	opts.Method = strings.ToUpper(opts.Method)
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Concurrency > maxWorkers {
		opts.Concurrency = maxWorkers
	}
	if opts.TestType == constant.TestTypeConcurrent && opts.TotalRequests <= 0 {
		opts.TotalRequests = opts.Concurrency
	}
	if opts.TestType == constant.TestTypeRampUp && opts.Duration <= 0 {
		return fmt.Errorf("%w: duration is required for ramp_up tests", constant.ErrInvalidParams)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30
	}
	return nil
}

func (s *loadTestService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return constant.ErrTestNotRunning
	}
	s.active.cancel()
	return nil
}

func (s *loadTestService) Status() *LoadTestStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return &LoadTestStatus{Running: false}
	}
	return &LoadTestStatus{
		Running:           true,
		RunID:             s.active.run.ID,
		Name:              s.active.run.Name,
		CompletedRequests: s.active.completed.Load(),
		ElapsedSeconds:    time.Since(s.active.startedAt).Seconds(),
	}
}

// TestRunDetail bundles a run with its collected data.
type TestRunDetail struct {
	Run     *model.TestRun         `json:"run"`
	Records []*model.RequestRecord `json:"records"`
	Metrics []*model.SystemMetric  `json:"metrics"`
}

// Cap on request records returned with a run detail.
const maxDetailRecords = 1000

func (s *loadTestService) GetRun(id uint64) (*TestRunDetail, error) {
	var run model.TestRun
	if err := s.db.First(&run, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, constant.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", constant.ErrDatabaseError, err)
	}
	var records []*model.RequestRecord
	if err := s.db.Where("test_run_id = ?", id).Order("sequence").
		Limit(maxDetailRecords).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", constant.ErrDatabaseError, err)
	}
	var metrics []*model.SystemMetric
	if err := s.db.Where("test_run_id = ?", id).Order("collected_at").Find(&metrics).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", constant.ErrDatabaseError, err)
	}
	return &TestRunDetail{Run: &run, Records: records, Metrics: metrics}, nil
}

func (s *loadTestService) ListRuns(offset, limit int) ([]*model.TestRun, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	var total int64
	if err := s.db.Model(&model.TestRun{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("%w: %v", constant.ErrDatabaseError, err)
	}
	var runs []*model.TestRun
	if err := s.db.Order("created_at desc").Offset(offset).Limit(limit).Find(&runs).Error; err != nil {
		return nil, 0, fmt.Errorf("%w: %v", constant.ErrDatabaseError, err)
	}
	return runs, total, nil
}

type requestResult struct {
	sequence   int
	statusCode int
	durationMs float64
	success    bool
	errMsg     string
	startedAt  time.Time
}

func (s *loadTestService) execute(ctx context.Context, active *activeRun, opts *LoadTestOptions) {
	defer func() {
		s.monitor.Stop()
		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
	}()

	client := &http.Client{Timeout: time.Duration(opts.Timeout) * time.Second}

	var results []requestResult
	switch opts.TestType {
	case constant.TestTypeRampUp:
		results = s.runRampUp(ctx, client, active, opts)
	default:
		results = s.runConcurrent(ctx, client, active, opts)
	}
	elapsed := time.Since(active.startedAt)

	s.persistResults(active.run, results)
	s.finishRun(ctx, active.run, results, elapsed)
}

func (s *loadTestService) runConcurrent(ctx context.Context, client *http.Client, active *activeRun, opts *LoadTestOptions) []requestResult {
	jobs := make(chan int)
	resultCh := make(chan requestResult, opts.TotalRequests)

	var wg sync.WaitGroup
	for w := 0; w < opts.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seq := range jobs {
				resultCh <- doRequest(ctx, client, opts, seq)
				active.completed.Add(1)
			}
		}()
	}

feed:
	for i := 0; i < opts.TotalRequests; i++ {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	close(resultCh)

	results := make([]requestResult, 0, opts.TotalRequests)
	for r := range resultCh {
		results = append(results, r)
	}
	return results
}

// runRampUp starts workers gradually across the ramp window; every worker
// then hammers the target until the test duration elapses.
func (s *loadTestService) runRampUp(ctx context.Context, client *http.Client, active *activeRun, opts *LoadTestOptions) []requestResult {
	deadline := active.startedAt.Add(time.Duration(opts.Duration) * time.Second)
	var step time.Duration
	if opts.RampUpSeconds > 0 && opts.Concurrency > 1 {
		step = time.Duration(opts.RampUpSeconds) * time.Second / time.Duration(opts.Concurrency)
	}

	var mu sync.Mutex
	var results []requestResult
	var seq atomic.Int64

	var wg sync.WaitGroup
	for w := 0; w < opts.Concurrency; w++ {
		if w > 0 && step > 0 {
			select {
			case <-ctx.Done():
				wg.Wait()
				return results
			case <-time.After(step):
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil && time.Now().Before(deadline) {
				r := doRequest(ctx, client, opts, int(seq.Add(1))-1)
				active.completed.Add(1)
				mu.Lock()
				results = append(results, r)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return results
}

func doRequest(ctx context.Context, client *http.Client, opts *LoadTestOptions, seq int) requestResult {
	result := requestResult{sequence: seq, startedAt: time.Now()}

	var body io.Reader
	if opts.Body != "" {
		body = strings.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, opts.Method, opts.TargetURL, body)
	if err != nil {
		result.errMsg = err.Error()
		return result
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := client.Do(req)
	result.durationMs = float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		result.errMsg = err.Error()
		return result
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	result.statusCode = resp.StatusCode
	result.success = resp.StatusCode < 400
	if !result.success {
		result.errMsg = resp.Status
	}
	return result
}

func (s *loadTestService) persistResults(run *model.TestRun, results []requestResult) {
	if len(results) == 0 {
		return
	}
	records := make([]*model.RequestRecord, 0, len(results))
	for _, r := range results {
		records = append(records, &model.RequestRecord{
			TestRunID:  run.ID,
			Sequence:   r.sequence,
			StatusCode: r.statusCode,
			DurationMs: r.durationMs,
			Success:    r.success,
			Error:      r.errMsg,
			StartedAt:  r.startedAt,
		})
	}
	if err := s.db.CreateInBatches(records, 100).Error; err != nil {
		logger.Error("persist request records failed", logger.F("error", err.Error()))
	}
}

func (s *loadTestService) finishRun(ctx context.Context, run *model.TestRun, results []requestResult, elapsed time.Duration) {
	summarize(run, results, elapsed)
	now := time.Now()
	run.FinishedAt = &now
	if ctx.Err() != nil {
		run.Status = constant.TestStatusStopped
	} else {
		run.Status = constant.TestStatusCompleted
	}
	if err := s.db.Save(run).Error; err != nil {
		logger.Error("persist test run summary failed", logger.F("error", err.Error()))
	}
	logger.Info("load test finished",
		logger.F("runId", run.ID),
		logger.F("status", run.Status),
		logger.F("requests", run.CompletedRequests))
}

// summarize fills the aggregate fields of a run from its raw results.
func summarize(run *model.TestRun, results []requestResult, elapsed time.Duration) {
	run.CompletedRequests = len(results)
	if len(results) == 0 {
		return
	}

	durations := make([]float64, 0, len(results))
	codes := make(map[string]int)
	var sum float64
	for _, r := range results {
		durations = append(durations, r.durationMs)
		sum += r.durationMs
		if r.success {
			run.SuccessCount++
		} else {
			run.FailureCount++
		}
		if r.statusCode > 0 {
			codes[fmt.Sprintf("%d", r.statusCode)]++
		} else {
			codes["error"]++
		}
	}
	sort.Float64s(durations)

	run.MinMs = durations[0]
	run.MaxMs = durations[len(durations)-1]
	run.AvgMs = sum / float64(len(durations))
	run.P50Ms = percentile(durations, 50)
	run.P95Ms = percentile(durations, 95)
	run.P99Ms = percentile(durations, 99)

	seconds := elapsed.Seconds()
	if seconds > 0 {
		run.RequestsPerSec = float64(len(results)) / seconds
		run.ErrorsPerSec = float64(run.FailureCount) / seconds
	}
	if encoded, err := json.Marshal(codes); err == nil {
		run.StatusCodes = string(encoded)
	}
}

// percentile returns the value at the given percentile of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * p / 100)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
