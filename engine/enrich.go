package engine

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ponwatch/ponwatch/metrics"
	"github.com/ponwatch/ponwatch/types"
)

// job is one pending deep-detail fetch. attempts counts failures so far.
type job struct {
	serial   string
	attempts int
}

// enricher drains a per-device queue of detail fetches with bounded
// parallelism. At most one job exists per serial; re-enqueueing a
// queued serial is a no-op.
type enricher struct {
	device      types.Device
	driver      types.Driver
	terminals   TerminalStore
	concurrency int
	maxAttempts int
	met         *metrics.Metrics
	log         zerolog.Logger

	mu     sync.Mutex
	queued map[string]bool
	queue  []job

	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newEnricher(device types.Device, driver types.Driver, terminals TerminalStore, opts Options, log zerolog.Logger) *enricher {
	return &enricher{
		device:      device,
		driver:      driver,
		terminals:   terminals,
		concurrency: opts.EnrichConcurrency,
		maxAttempts: opts.EnrichAttempts,
		met:         opts.Metrics,
		log:         log.With().Str("component", "enricher").Int64("device_id", device.ID).Logger(),
		queued:      make(map[string]bool),
		wake:        make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// enqueue adds a serial to the queue unless it is already pending or
// in flight.
func (w *enricher) enqueue(serial string) {
	w.mu.Lock()
	if w.queued[serial] {
		w.mu.Unlock()
		return
	}
	w.queued[serial] = true
	w.queue = append(w.queue, job{serial: serial})
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *enricher) next() (job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return job{}, false
	}
	j := w.queue[0]
	w.queue = w.queue[1:]
	return j, true
}

// run drains the queue until stopped, fanning out up to concurrency
// fetches. In-flight fetches are awaited on stop; the remaining queue is
// abandoned.
func (w *enricher) run() {
	defer close(w.done)
	ctx := context.Background()
	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup

	for {
		j, ok := w.next()
		if !ok {
			select {
			case <-w.wake:
				continue
			case <-w.stopCh:
				wg.Wait()
				return
			}
		}

		select {
		case sem <- struct{}{}:
		case <-w.stopCh:
			wg.Wait()
			return
		}
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			defer func() { <-sem }()
			w.process(ctx, j)
		}(j)
	}
}

// stop halts the worker and blocks until in-flight jobs finish.
func (w *enricher) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.done
}

func (w *enricher) process(ctx context.Context, j job) {
	stored, err := w.terminals.BySerial(ctx, w.device.ID, j.serial)
	if err != nil {
		w.retry(j, err)
		return
	}
	if stored == nil {
		w.finish(j.serial)
		return
	}
	// Detail queries address a terminal by port and logical index; a
	// terminal without an index yet cannot be enriched.
	if stored.Index <= 0 {
		w.finish(j.serial)
		w.met.EnrichmentOutcome(w.device.Name, "skipped")
		return
	}

	det, err := w.driver.Detail(ctx, stored.Port, stored.Index)
	if err != nil {
		w.retry(j, err)
		return
	}
	applyDetail(stored, det)
	if err := w.terminals.Update(ctx, stored); err != nil {
		w.retry(j, err)
		return
	}
	w.finish(j.serial)
	w.met.EnrichmentOutcome(w.device.Name, "ok")
}

func (w *enricher) finish(serial string) {
	w.mu.Lock()
	delete(w.queued, serial)
	w.mu.Unlock()
}

// retry requeues a failed job until its failure count reaches the cap,
// then drops it.
func (w *enricher) retry(j job, cause error) {
	j.attempts++
	if j.attempts >= w.maxAttempts {
		w.finish(j.serial)
		w.log.Warn().Err(cause).Str("serial", j.serial).Int("attempts", j.attempts).Msg("enrichment dropped after retries")
		w.met.EnrichmentOutcome(w.device.Name, "dropped")
		return
	}
	w.log.Debug().Err(cause).Str("serial", j.serial).Int("attempts", j.attempts).Msg("enrichment failed, requeueing")
	w.met.EnrichmentOutcome(w.device.Name, "retry")

	w.mu.Lock()
	w.queue = append(w.queue, j)
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// applyDetail copies every non-zero detail field onto the stored record.
func applyDetail(t *types.StoredTerminal, d *types.Detail) {
	if d.Name != "" {
		t.Name = d.Name
	}
	if d.Model != "" {
		t.Model = d.Model
	}
	if d.AuthMode != "" {
		t.AuthMode = d.AuthMode
	}
	if d.ConfigState != "" {
		t.ConfigState = d.ConfigState
	}
	if d.DBAMode != "" {
		t.DBAMode = d.DBAMode
	}
	if d.LineProfile != "" {
		t.LineProfile = d.LineProfile
	}
	if d.ServiceProfile != "" {
		t.ServiceProfile = d.ServiceProfile
	}
	if d.Channel != "" {
		t.Channel = d.Channel
	}
	if d.OnlineDuration != "" {
		t.OnlineDuration = d.OnlineDuration
	}
	if d.DistanceM > 0 {
		t.DistanceM = d.DistanceM
	}
	if d.MAC != "" {
		t.MAC = d.MAC
	}
	if d.RxPower != nil {
		t.RxPower = d.RxPower
	}
	if d.TxPower != nil {
		t.TxPower = d.TxPower
	}
	if d.LastAuthAt != nil {
		t.LastAuthAt = d.LastAuthAt
	}
	if d.LastOfflineAt != nil {
		t.LastOfflineAt = d.LastOfflineAt
	}
}
