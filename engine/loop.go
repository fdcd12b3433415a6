package engine

import (
	"context"
	"sync"
	"time"

	"github.com/ponwatch/ponwatch/types"
)

// loop is the per-device discovery state. stop is closed to request a
// cooperative stop; done is closed when the goroutine has exited.
type loop struct {
	device    types.Device
	driver    types.Driver
	startedAt time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	enrich   *enricher
}

func (l *loop) requestStop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *loop) stopping() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}

// sleepOrStop waits out d, returning false early if stop closes first.
func sleepOrStop(stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stop:
		return false
	}
}

type cycleCounters struct {
	discovered int
	updated    int
	skipped    int
}

// runLoop is the self-healing discovery loop: poll, persist, sleep,
// repeat. Driver errors mark the run and back off; only an explicit stop
// exits.
func (e *Engine) runLoop(l *loop) {
	defer close(l.done)
	ctx := context.Background()
	log := e.log.With().Int64("device_id", l.device.ID).Str("device", l.device.Name).Logger()
	log.Info().Msg("discovery loop started")

	for {
		if l.stopping() {
			log.Info().Msg("discovery loop stopped")
			return
		}

		started := time.Now()
		counters, err := e.runCycle(ctx, l)
		elapsed := time.Since(started)

		if err != nil {
			log.Error().Err(err).Dur("elapsed", elapsed).Msg("discovery cycle failed")
			e.opts.Metrics.ObserveCycle(l.device.Name, "error", elapsed)
			e.upsertRun(ctx, l, types.RunError, err.Error(), counters, false)
			if !sleepOrStop(l.stop, e.opts.ErrorBackoff) {
				log.Info().Msg("discovery loop stopped")
				return
			}
			e.upsertRun(ctx, l, types.RunRunning, "", cycleCounters{}, false)
			continue
		}

		log.Debug().
			Int("discovered", counters.discovered).
			Int("updated", counters.updated).
			Int("skipped", counters.skipped).
			Dur("elapsed", elapsed).
			Msg("discovery cycle complete")
		e.opts.Metrics.ObserveCycle(l.device.Name, "ok", elapsed)
		e.opts.Metrics.AddTerminals(l.device.Name, "discovered", counters.discovered)
		e.opts.Metrics.AddTerminals(l.device.Name, "updated", counters.updated)
		e.opts.Metrics.AddTerminals(l.device.Name, "skipped", counters.skipped)
		e.upsertRun(ctx, l, types.RunRunning, "", counters, true)

		if !sleepOrStop(l.stop, e.opts.CycleInterval) {
			log.Info().Msg("discovery loop stopped")
			return
		}
	}
}

// runCycle performs one full device poll, persisting each batch as it
// arrives.
func (e *Engine) runCycle(ctx context.Context, l *loop) (cycleCounters, error) {
	var c cycleCounters
	_, err := l.driver.Discover(ctx, func(ctx context.Context, batch []types.Terminal) error {
		for _, t := range batch {
			if err := e.persistTerminal(ctx, l, t, &c); err != nil {
				return err
			}
		}
		return nil
	})
	return c, err
}

// persistTerminal diffs one discovered terminal against the stored
// record by fingerprint. Unchanged records are never written.
func (e *Engine) persistTerminal(ctx context.Context, l *loop, t types.Terminal, c *cycleCounters) error {
	if t.Serial == "" {
		c.skipped++
		return nil
	}
	fp := types.Fingerprint(t)
	stored, err := e.terminals.BySerial(ctx, l.device.ID, t.Serial)
	if err != nil {
		return err
	}
	now := time.Now()

	if stored == nil {
		rec := &types.StoredTerminal{
			DeviceID:    l.device.ID,
			Terminal:    t,
			Fingerprint: fp,
			FirstSeenAt: now,
			LastSeenAt:  now,
		}
		if err := e.terminals.Insert(ctx, rec); err != nil {
			return err
		}
		c.discovered++
		l.enrich.enqueue(t.Serial)
		return nil
	}

	if stored.Fingerprint == fp {
		c.skipped++
		return nil
	}

	stored.Terminal = t
	stored.Fingerprint = fp
	stored.LastSeenAt = now
	if err := e.terminals.Update(ctx, stored); err != nil {
		return err
	}
	c.updated++
	if !stored.HasDetail() {
		l.enrich.enqueue(t.Serial)
	}
	return nil
}

func (e *Engine) upsertRun(ctx context.Context, l *loop, status types.RunStatus, errMsg string, c cycleCounters, completed bool) {
	now := time.Now()
	run := types.Run{
		DeviceID:    l.device.ID,
		Status:      status,
		Error:       errMsg,
		StartedAt:   l.startedAt,
		LastCycleAt: &now,
		Discovered:  c.discovered,
		Updated:     c.updated,
		Skipped:     c.skipped,
	}
	if completed {
		run.CompletedAt = &now
	}
	if err := e.runs.Upsert(ctx, run); err != nil {
		e.log.Warn().Err(err).Int64("device_id", l.device.ID).Msg("run upsert failed")
	}
}
