// Package metrics is the small facade the conversion code reports to.
//
// Callers either hold a Recorder bound to an explicit backend or use the
// package-level Record* helpers, which report to the process-wide backend
// installed with SetBackend. The default backend drops everything.
package metrics

import (
	"sync"
	"time"
)

// Metric names. Backends switch on these and ignore anything else.
const (
	RecordsTotal       = "json2csv_records_total"
	StepTotal          = "json2csv_step_total"
	StepDuration       = "json2csv_step_duration_seconds"
	ScriptErrorsTotal  = "json2csv_script_errors_total"
	defaultJobLabelKey = "job"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric events. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer.
type Flusher interface {
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. A nil b restores the
// no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the current backend if it buffers.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// Recorder reports to one backend. The zero Recorder reports to the
// process-wide backend installed with SetBackend.
type Recorder struct {
	b Backend
}

// NewRecorder returns a Recorder bound to b. A nil b gives the zero Recorder.
func NewRecorder(b Backend) Recorder { return Recorder{b: b} }

func (r Recorder) backend() Backend {
	if r.b != nil {
		return r.b
	}
	return current()
}

// RecordStep counts one execution of a pipeline step and its duration.
// Status is "ok" or "error" depending on err.
func (r Recorder) RecordStep(job, step string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{defaultJobLabelKey: job, "step": step, "status": status}
	b := r.backend()
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDuration, d.Seconds(), l)
}

// RecordRecords counts records of a kind ("in", "out").
func (r Recorder) RecordRecords(job, kind string, n int) {
	if n <= 0 {
		return
	}
	r.backend().IncCounter(RecordsTotal, float64(n), Labels{defaultJobLabelKey: job, "kind": kind})
}

// RecordScriptError counts a recovered script failure in a per-row stage.
func (r Recorder) RecordScriptError(job, stage string) {
	r.backend().IncCounter(ScriptErrorsTotal, 1, Labels{defaultJobLabelKey: job, "stage": stage})
}

// RecordStep reports to the process-wide backend.
func RecordStep(job, step string, err error, d time.Duration) {
	Recorder{}.RecordStep(job, step, err, d)
}

// RecordRecords reports to the process-wide backend.
func RecordRecords(job, kind string, n int) {
	Recorder{}.RecordRecords(job, kind, n)
}

// RecordScriptError reports to the process-wide backend.
func RecordScriptError(job, stage string) {
	Recorder{}.RecordScriptError(job, stage)
}
