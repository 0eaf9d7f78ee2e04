package model

import "time"

// TestRun is one load test execution with its aggregated summary.
type TestRun struct {
	BaseModel
	Name          string `json:"name" gorm:"size:200"`
	TestType      string `json:"testType" gorm:"size:20;index"`
	TargetURL     string `json:"targetUrl" gorm:"size:500"`
	Method        string `json:"method" gorm:"size:10"`
	Concurrency   int    `json:"concurrency"`
	TotalRequests int    `json:"totalRequests"`
	Duration      int    `json:"duration"`
	RampUpSeconds int    `json:"rampUpSeconds"`
	Status        string `json:"status" gorm:"size:20;index"`

	StartedAt  *time.Time `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt"`

	CompletedRequests int     `json:"completedRequests"`
	SuccessCount      int     `json:"successCount"`
	FailureCount      int     `json:"failureCount"`
	MinMs             float64 `json:"minMs"`
	AvgMs             float64 `json:"avgMs"`
	MaxMs             float64 `json:"maxMs"`
	P50Ms             float64 `json:"p50Ms"`
	P95Ms             float64 `json:"p95Ms"`
	P99Ms             float64 `json:"p99Ms"`
	RequestsPerSec    float64 `json:"requestsPerSec"`
	ErrorsPerSec      float64 `json:"errorsPerSec"`
	StatusCodes       string  `json:"statusCodes" gorm:"size:1000"` // JSON object, code -> count
	ErrorMessage      string  `json:"errorMessage" gorm:"size:2000"`
}

func (_ *TestRun) TableComment() string {
	return "load test runs and result summaries"
}

// RequestRecord is a single request issued during a test run.
type RequestRecord struct {
	BaseModel
	TestRunID  uint64    `json:"testRunId,string" gorm:"index"`
	Sequence   int       `json:"sequence"`
	StatusCode int       `json:"statusCode"`
	DurationMs float64   `json:"durationMs"`
	Success    bool      `json:"success"`
	Error      string    `json:"error" gorm:"size:500"`
	StartedAt  time.Time `json:"startedAt"`
}

func (_ *RequestRecord) TableComment() string {
	return "individual requests of a load test run"
}

// SystemMetric is one resource usage sample taken while a test run is active.
type SystemMetric struct {
	BaseModel
	TestRunID     uint64    `json:"testRunId,string" gorm:"index"`
	CPUPercent    float64   `json:"cpuPercent"`
	MemoryPercent float64   `json:"memoryPercent"`
	MemoryUsedMB  float64   `json:"memoryUsedMb"`
	DiskPercent   float64   `json:"diskPercent"`
	DiskReadMB    float64   `json:"diskReadMb"`  // delta since test start
	DiskWriteMB   float64   `json:"diskWriteMb"` // delta since test start
	NetSentMB     float64   `json:"netSentMb"`   // delta since test start
	NetRecvMB     float64   `json:"netRecvMb"`   // delta since test start
	CollectedAt   time.Time `json:"collectedAt"`
}

func (_ *SystemMetric) TableComment() string {
	return "system resource samples collected during load tests"
}

func init() {
	Models = append(Models, &TestRun{}, &RequestRecord{}, &SystemMetric{})
}
