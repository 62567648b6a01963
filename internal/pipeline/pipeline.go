// Package pipeline connects the serial transport to the processing chain: it
// timestamps incoming sentences, parses them, runs acceleration samples
// through the signal processor, drives the event detector, and maintains the
// display window and status snapshots served over HTTP.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/tremor-data/intensity.report/internal/detect"
	"github.com/tremor-data/intensity.report/internal/history"
	"github.com/tremor-data/intensity.report/internal/monitoring"
	"github.com/tremor-data/intensity.report/internal/seismic"
	"github.com/tremor-data/intensity.report/internal/sentence"
	"github.com/tremor-data/intensity.report/internal/timeutil"
)

const (
	// DefaultDisplayWindow is how many processed samples the display buffer
	// retains for the waveform view.
	DefaultDisplayWindow = 50

	// DefaultDisplayInterval is the cadence at which staged samples are
	// flushed into the display window (about 30 Hz).
	DefaultDisplayInterval = 33 * time.Millisecond

	// DefaultStatusInterval is the cadence at which the status snapshot is
	// republished (10 Hz).
	DefaultStatusInterval = 100 * time.Millisecond

	// DefaultWorkerPoll is how long the worker sleeps when the queue is
	// empty.
	DefaultWorkerPoll = 2 * time.Millisecond
)

// LineSource is the subset of the serial mux the scheduler consumes. The
// sink registration is lossless: every framed line the transport produces
// reaches the callback, unlike droppable channel subscriptions.
type LineSource interface {
	SubscribeLines(fn func(line string)) string
	Unsubscribe(id string)
}

// Diagnostic reports one dropped line or transport fault. Delivery is
// best-effort: when nobody drains the channel, diagnostics are counted in the
// status snapshot but the notification is dropped.
type Diagnostic struct {
	Time time.Time
	Line string
	Err  error
}

// Status is the periodically published pipeline snapshot.
type Status struct {
	LatestIntensity  float64   `json:"latest_intensity"`
	LatestGal        float64   `json:"latest_gal"`
	LatestSva        float64   `json:"latest_sva"`
	LatestLpgmClass  int       `json:"latest_lpgm_class"`
	Recording        bool      `json:"recording"`
	QueueDepth       int       `json:"queue_depth"`
	SamplesProcessed uint64    `json:"samples_processed"`
	ParseErrors      uint64    `json:"parse_errors"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Config wires the scheduler's collaborators and tick intervals. Zero
// intervals fall back to the package defaults.
type Config struct {
	Parser    *sentence.Parser
	Processor *seismic.Processor
	Detector  *detect.Detector
	History   *history.Store
	Clock     timeutil.Clock

	DisplayWindow   int
	DisplayInterval time.Duration
	StatusInterval  time.Duration
	WorkerPoll      time.Duration
}

// Scheduler owns the ingestion, worker, and publishing goroutines. The
// processor and detector are only ever touched by the worker goroutine;
// everything read by HTTP handlers sits behind s.mu.
type Scheduler struct {
	parser    *sentence.Parser
	processor *seismic.Processor
	detector  *detect.Detector
	history   *history.Store
	clock     timeutil.Clock

	windowSize      int
	displayInterval time.Duration
	statusInterval  time.Duration
	workerPoll      time.Duration

	queue lineQueue
	diag  chan Diagnostic

	mu               sync.Mutex
	staging          []seismic.ProcessedSample
	window           []seismic.ProcessedSample
	published        Status
	latestIntensity  float64
	latestGal        float64
	latestSva        float64
	latestLpgm       int
	recording        bool
	samplesProcessed uint64
	parseErrors      uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler builds a stopped scheduler. Call Start to begin processing.
func NewScheduler(cfg Config) *Scheduler {
	s := &Scheduler{
		parser:          cfg.Parser,
		processor:       cfg.Processor,
		detector:        cfg.Detector,
		history:         cfg.History,
		clock:           cfg.Clock,
		windowSize:      cfg.DisplayWindow,
		displayInterval: cfg.DisplayInterval,
		statusInterval:  cfg.StatusInterval,
		workerPoll:      cfg.WorkerPoll,
		diag:            make(chan Diagnostic, 16),
	}
	if s.clock == nil {
		s.clock = timeutil.RealClock{}
	}
	if s.windowSize <= 0 {
		s.windowSize = DefaultDisplayWindow
	}
	if s.displayInterval <= 0 {
		s.displayInterval = DefaultDisplayInterval
	}
	if s.statusInterval <= 0 {
		s.statusInterval = DefaultStatusInterval
	}
	if s.workerPoll <= 0 {
		s.workerPoll = DefaultWorkerPoll
	}
	return s
}

// Start launches the pipeline goroutines against the given line source. The
// processor state is reset so a restarted pipeline never carries filter
// memory or integral drift from a previous run.
func (s *Scheduler) Start(ctx context.Context, src LineSource) {
	s.processor.Reset()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(4)
	go s.ingestLoop(ctx, src)
	go s.workerLoop(ctx)
	go s.displayLoop(ctx)
	go s.statusLoop(ctx)
}

// Stop cancels the pipeline goroutines and waits for them to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// ingestLoop registers a lossless sink that enqueues every framed sentence
// stamped with its arrival time. The unbounded queue is the handoff, so the
// sink never blocks the transport.
func (s *Scheduler) ingestLoop(ctx context.Context, src LineSource) {
	defer s.wg.Done()

	id := src.SubscribeLines(func(line string) {
		s.queue.Enqueue(queuedLine{line: line, ts: s.clock.Now()})
	})
	defer src.Unsubscribe(id)

	<-ctx.Done()
}

// workerLoop drains the queue strictly in FIFO order. All parsing and signal
// processing happens here, on a single goroutine, preserving sample order.
func (s *Scheduler) workerLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}
		item, ok := s.queue.TryDequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.clock.After(s.workerPoll):
			}
			continue
		}
		s.handleLine(item)
	}
}

// handleLine parses and dispatches one sentence. Malformed input is counted
// and logged but never stops the pipeline.
func (s *Scheduler) handleLine(item queuedLine) {
	sample, err := s.parser.Parse(item.line, item.ts)
	if err != nil {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()
		s.notify(Diagnostic{Time: item.ts, Line: item.line, Err: err})
		monitoring.Logf("[Pipeline] dropping sentence %q: %v", item.line, err)
		return
	}

	switch v := sample.(type) {
	case sentence.Acceleration:
		processed := s.processor.Process(v)
		s.detector.ObserveMotion(processed.Gal, processed.LpgmClass, processed.Sva)

		s.mu.Lock()
		s.staging = append(s.staging, processed)
		s.latestGal = processed.Gal
		s.latestSva = processed.Sva
		s.latestLpgm = processed.LpgmClass
		s.samplesProcessed++
		s.mu.Unlock()

	case sentence.Intensity:
		record := s.detector.ObserveIntensity(v.Value, v.Timestamp)

		s.mu.Lock()
		s.latestIntensity = v.Value
		s.recording = s.detector.Recording()
		s.samplesProcessed++
		s.mu.Unlock()

		if record != nil {
			monitoring.Logf("[Pipeline] event closed: intensity %.3f gal %.2f class %d",
				record.MaxIntensity, record.MaxGal, record.MaxLpgmClass)
			s.history.Record(*record)
		}

	case sentence.Raw:
		// raw diagnostic sentences are accepted and discarded
	}
}

// displayLoop periodically flushes staged samples into the display window.
func (s *Scheduler) displayLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(s.displayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.flushDisplay()
		}
	}
}

// flushDisplay appends staged samples to the window and trims it to the
// configured size, oldest first.
func (s *Scheduler) flushDisplay() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.staging) == 0 {
		return
	}
	s.window = append(s.window, s.staging...)
	s.staging = nil
	if excess := len(s.window) - s.windowSize; excess > 0 {
		s.window = append(s.window[:0], s.window[excess:]...)
	}
}

// statusLoop republishes the status snapshot at a fixed cadence.
func (s *Scheduler) statusLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(s.statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.publishStatus()
		}
	}
}

func (s *Scheduler) publishStatus() {
	depth := s.queue.Len()
	now := s.clock.Now()

	s.mu.Lock()
	s.published = Status{
		LatestIntensity:  s.latestIntensity,
		LatestGal:        s.latestGal,
		LatestSva:        s.latestSva,
		LatestLpgmClass:  s.latestLpgm,
		Recording:        s.recording,
		QueueDepth:       depth,
		SamplesProcessed: s.samplesProcessed,
		ParseErrors:      s.parseErrors,
		UpdatedAt:        now,
	}
	s.mu.Unlock()
}

// notify delivers a diagnostic without ever blocking the worker.
func (s *Scheduler) notify(d Diagnostic) {
	select {
	case s.diag <- d:
	default:
	}
}

// Diagnostics returns the channel of dropped-line and fault notifications.
func (s *Scheduler) Diagnostics() <-chan Diagnostic {
	return s.diag
}

// DisplayWindow returns a copy of the current display window, oldest sample
// first.
func (s *Scheduler) DisplayWindow() []seismic.ProcessedSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]seismic.ProcessedSample, len(s.window))
	copy(out, s.window)
	return out
}

// Status returns the most recently published status snapshot.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published
}
