package report

import "sync"

// FailureSample is one failed invocation, kept for debugging
type FailureSample struct {
	RequestID    string  `json:"request_id"`
	TaskID       string  `json:"task_id"`
	ErrorType    string  `json:"error_type"`
	ErrorMessage string  `json:"error_message"`
	Duration     float64 `json:"duration_seconds"`
}

// FailureLog is a ring buffer of the last N failed invocations
type FailureLog struct {
	samples []FailureSample
	maxSize int
	mu      sync.RWMutex
}

// NewFailureLog creates a failure log with fixed size
func NewFailureLog(maxSize int) *FailureLog {
	return &FailureLog{
		samples: make([]FailureSample, 0, maxSize),
		maxSize: maxSize,
	}
}

// Record adds r if it failed
func (f *FailureLog) Record(r *Result) {
	if r.Succeeded() {
		return
	}

	sample := FailureSample{
		RequestID:    r.RequestID,
		TaskID:       r.TaskID,
		ErrorType:    r.ErrorType,
		ErrorMessage: r.ErrorMessage,
		Duration:     r.Duration.Seconds(),
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Ring buffer: if full, drop oldest
	if len(f.samples) >= f.maxSize {
		f.samples = f.samples[1:]
	}
	f.samples = append(f.samples, sample)
}

// Recent returns up to n failures, newest first
func (f *FailureLog) Recent(n int) []FailureSample {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if n <= 0 || n > len(f.samples) {
		n = len(f.samples)
	}

	result := make([]FailureSample, n)
	for i := 0; i < n; i++ {
		result[i] = f.samples[len(f.samples)-1-i]
	}
	return result
}

// Count returns how many failures are held
func (f *FailureLog) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.samples)
}
