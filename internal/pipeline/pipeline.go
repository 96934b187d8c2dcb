// File: internal/pipeline/pipeline.go
//
// Package pipeline works through the input records one at a time: filter,
// match, mark, submit, record. A record can fail in many ways but may never
// take the run down with it; only the watchdog's abort and idle-timeout
// conditions unwind the loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/sbrtools/gcbot/internal/config"
	"github.com/sbrtools/gcbot/internal/ledger"
	"github.com/sbrtools/gcbot/internal/records"
	"github.com/sbrtools/gcbot/internal/session"
	"github.com/sbrtools/gcbot/internal/surface"
	"github.com/sbrtools/gcbot/internal/watchdog"
)

// ProgressFunc receives (processed, total, currentPosition) after every
// record. Handlers run behind a recover: a broken host callback must never
// disturb the run.
type ProgressFunc func(processed, total, current int)

// Stats summarizes a run.
type Stats struct {
	Total            int
	Processed        int
	Succeeded        int
	Failed           int
	Skipped          int
	SkippedCompleted int
	Errors           int
}

// rowResult is the per-record outcome destined for the audit ledger.
type rowResult struct {
	Status string
	Note   string
}

// Pipeline drives one batch run. Single worker by construction: the surface
// is stateful and single-session, so there is exactly one mutator.
type Pipeline struct {
	surf    surface.Surface
	monitor *watchdog.Monitor
	sess    *session.Machine
	cfg     *config.Config
	logger  *zap.Logger

	progress ProgressFunc
	now      func() time.Time
	sleep    func(time.Duration)
	jitter   func(min, max time.Duration) time.Duration
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithProgress installs the host progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(p *Pipeline) { p.progress = fn }
}

// WithClock replaces the time source and sleeper, for tests.
func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(p *Pipeline) {
		p.now = now
		p.sleep = sleep
	}
}

// WithJitter replaces the randomized-delay source, for tests.
func WithJitter(fn func(min, max time.Duration) time.Duration) Option {
	return func(p *Pipeline) { p.jitter = fn }
}

// New builds a Pipeline around an established surface and session machine.
func New(
	surf surface.Surface,
	monitor *watchdog.Monitor,
	sess *session.Machine,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		surf:    surf,
		monitor: monitor,
		sess:    sess,
		cfg:     cfg,
		logger:  logger.Named("pipeline"),
		now:     time.Now,
		sleep:   time.Sleep,
		jitter:  randomBetween,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func randomBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + rand.N(max-min)
}

// fatal reports whether err must unwind the whole run.
func fatal(err error) bool {
	return errors.Is(err, watchdog.ErrAborted) || errors.Is(err, watchdog.ErrIdleTimeout)
}

// RunCSV loads the input file and runs the window. A load failure is terminal
// but still leaves a one-row audit ledger describing it.
func (p *Pipeline) RunCSV(ctx context.Context, path string, window records.Window) (Stats, error) {
	src, err := records.LoadCSV(path)
	if err != nil {
		p.logger.Error("Failed to load input file.", zap.String("path", path), zap.Error(err))
		p.writeLoadFailure(err)
		return Stats{}, err
	}
	return p.Run(ctx, src, path, window)
}

// writeLoadFailure records an input-load failure in a fresh ledger so the
// run leaves a trace even when no record was ever attempted.
func (p *Pipeline) writeLoadFailure(loadErr error) {
	path, err := ledger.BuildRunLogPath(p.cfg.Run.LogsDir, p.now())
	if err != nil {
		p.logger.Warn("Failed to create run log for load failure.", zap.Error(err))
		return
	}
	w, err := ledger.NewWriter(path)
	if err != nil {
		p.logger.Warn("Failed to create run log for load failure.", zap.Error(err))
		return
	}
	defer w.Close()
	if err := w.Append(ledger.Row{Status: ledger.StatusError, Note: loadErr.Error()}); err != nil {
		p.logger.Warn("Failed to write run log row.", zap.Error(err))
	}
	p.logger.Info("Run log saved.", zap.String("path", path))
}

// Run processes the window of src, appending one audit row per record and
// overwriting the checkpoint as it goes.
func (p *Pipeline) Run(ctx context.Context, src records.Source, sourceName string, window records.Window) (Stats, error) {
	total := src.Len()
	window, err := window.Clamp(total)
	if err != nil {
		return Stats{}, err
	}
	selected := window.End - window.Start + 1
	stats := Stats{Total: selected}

	logPath, err := ledger.BuildRunLogPath(p.cfg.Run.LogsDir, p.now())
	if err != nil {
		return stats, err
	}
	audit, err := ledger.NewWriter(logPath)
	if err != nil {
		return stats, err
	}
	defer func() {
		if err := audit.Close(); err != nil {
			p.logger.Warn("Failed to close run log.", zap.Error(err))
		}
		p.logger.Info("Run log saved.", zap.String("path", logPath))
	}()

	p.logger.Info("Scanning ledgers for completed records.")
	completed := ledger.CompletedIDs(p.cfg.Run.LogsDir, p.now(), p.cfg.Run.CompletedDaysBack)
	p.logger.Info("Completed-record history loaded.", zap.Int("count", len(completed)))

	p.logger.Info("Start processing records.",
		zap.Int("total", selected),
		zap.Int("start_row", window.Start),
		zap.Int("end_row", window.End))
	p.emitProgress(0, selected, 0)

	backoff := p.cfg.Run.BackoffBase

	for position := window.Start; position <= window.End; position++ {
		if err := p.monitor.CheckAlive(); err != nil {
			return stats, err
		}

		// Rate-limit boundary: cool down, then force a fresh session because
		// the cookies are gone.
		if limited, advisory := p.surf.RateLimit(); limited {
			if err := p.coolDown(ctx, advisory, &backoff); err != nil {
				return stats, err
			}
			if err := p.sess.EnsureOnTarget(ctx); err != nil {
				return stats, err
			}
		}

		rec := src.At(position - 1)
		batch := position - window.Start + 1

		if rec.IDSBR != "" && completed[rec.IDSBR] {
			p.logger.Info("Skipping record: already completed in a previous run.",
				zap.Int("row", batch), zap.Int("total", selected),
				zap.Int("position", position), zap.String("idsbr", rec.IDSBR))
			stats.Processed++
			stats.SkippedCompleted++
			p.appendRow(audit, position, rec, rowResult{ledger.StatusSkipped, "Already completed in previous runs"})
			p.emitProgress(stats.Processed, selected, position)
			continue
		}

		p.logger.Info("Processing record.",
			zap.Int("row", batch), zap.Int("total", selected),
			zap.Int("position", position), zap.String("idsbr", dash(rec.IDSBR)))
		stats.Processed++

		result, err := p.processRecord(ctx, rec)
		if err != nil {
			// Fatal only; the in-flight record still gets its audit row.
			p.appendRow(audit, position, rec, rowResult{ledger.StatusError, err.Error()})
			return stats, err
		}

		switch result.Status {
		case ledger.StatusSuccess:
			stats.Succeeded++
			// A success counts as completed immediately, so a duplicate key
			// later in the same run is skipped like any historical one.
			if rec.IDSBR != "" {
				completed[rec.IDSBR] = true
			}
		case ledger.StatusFailure:
			stats.Failed++
		case ledger.StatusSkipped:
			stats.Skipped++
		default:
			stats.Errors++
		}
		p.logRowSummary(batch, position, rec.IDSBR, result)

		p.appendRow(audit, position, rec, result)
		p.saveCheckpoint(sourceName, position)
		p.emitProgress(stats.Processed, selected, position)

		if err := p.monitor.Pause(p.jitter(p.cfg.Run.DelayMin, p.cfg.Run.DelayMax)); err != nil {
			return stats, err
		}
	}

	p.logger.Info("Processing completed.",
		zap.Int("total", stats.Total),
		zap.Int("processed", stats.Processed),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("skipped_completed", stats.SkippedCompleted),
		zap.Int("errors", stats.Errors))
	return stats, nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func (p *Pipeline) appendRow(audit *ledger.Writer, position int, rec records.Record, result rowResult) {
	row := ledger.Row{
		Position:  position,
		IDSBR:     rec.IDSBR,
		Name:      rec.Name,
		Address:   rec.Address,
		Code:      rec.CodeString(),
		Latitude:  rec.Latitude,
		Longitude: rec.Longitude,
		Status:    result.Status,
		Note:      result.Note,
	}
	if err := audit.Append(row); err != nil {
		p.logger.Warn("Failed to write run log row.", zap.Error(err))
	}
}

func (p *Pipeline) saveCheckpoint(sourceName string, position int) {
	cp := ledger.NewCheckpoint(sourceName, position, p.now())
	if err := ledger.SaveCheckpoint(p.cfg.Run.StateFile, cp); err != nil {
		p.logger.Warn("Failed to save checkpoint.", zap.Error(err))
	}
}

func (p *Pipeline) emitProgress(processed, total, current int) {
	if p.progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("Progress callback panicked.", zap.Any("panic", r))
		}
	}()
	p.progress(processed, total, current)
}

func (p *Pipeline) logRowSummary(batch, position int, idsbr string, result rowResult) {
	fields := []zap.Field{
		zap.Int("row", batch),
		zap.Int("position", position),
		zap.String("idsbr", dash(idsbr)),
		zap.String("status", result.Status),
		zap.String("note", dash(result.Note)),
	}
	switch result.Status {
	case ledger.StatusSuccess:
		p.logger.Info("Row summary.", fields...)
	case ledger.StatusFailure, ledger.StatusSkipped:
		p.logger.Warn("Row summary.", fields...)
	default:
		p.logger.Error("Row summary.", fields...)
	}
}

// coolDown handles an observed rate-limit signal: drop cookies, wait out the
// larger of the server's advisory and the current backoff, then double the
// backoff for the next hit. The wait bypasses the idle watchdog (it would
// trip long before an eleven-minute cool-down ends) but still honors the
// stop signal.
func (p *Pipeline) coolDown(ctx context.Context, advisory time.Duration, backoff *time.Duration) error {
	wait := *backoff
	if advisory > wait {
		wait = advisory
	}
	p.logger.Warn("Rate limit detected; cooling down.",
		zap.Duration("wait", wait),
		zap.Duration("advisory", advisory),
		zap.Duration("backoff", *backoff))

	if err := p.surf.ClearCookies(ctx); err != nil {
		p.logger.Warn("Failed to clear cookies.", zap.Error(err))
	}
	p.surf.ClearRateLimit()

	if err := p.stopAwareSleep(wait); err != nil {
		return err
	}

	*backoff = *backoff * 2
	if *backoff > p.cfg.Run.BackoffCap {
		*backoff = p.cfg.Run.BackoffCap
	}
	return nil
}

// stopAwareSleep sleeps in chunks, checking the stop signal and feeding the
// idle watchdog so a sanctioned cool-down never reads as inactivity.
func (p *Pipeline) stopAwareSleep(d time.Duration) error {
	const chunk = time.Second
	deadline := p.now().Add(d)
	for {
		if p.monitor.Stopped() {
			return watchdog.ErrAborted
		}
		p.monitor.MarkActivity()
		remaining := deadline.Sub(p.now())
		if remaining <= 0 {
			return nil
		}
		if remaining < chunk {
			p.sleep(remaining)
		} else {
			p.sleep(chunk)
		}
	}
}

// processRecord runs steps 3-7 for one record. The returned error is only
// ever a fatal condition; everything else is folded into the row result. A
// panic anywhere inside becomes a status=error row.
func (p *Pipeline) processRecord(ctx context.Context, rec records.Record) (result rowResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Panic while processing record.",
				zap.String("idsbr", dash(rec.IDSBR)), zap.Any("panic", r))
			result = rowResult{ledger.StatusError, fmt.Sprintf("panic: %v", r)}
			err = nil
		}
	}()

	result, err = p.doRecord(ctx, rec)
	if err != nil && !fatal(err) {
		p.logger.Error("Error while processing record.",
			zap.String("idsbr", dash(rec.IDSBR)), zap.Error(err))
		result = rowResult{ledger.StatusError, err.Error()}
		err = nil
	}
	return result, err
}

func (p *Pipeline) doRecord(ctx context.Context, rec records.Record) (rowResult, error) {
	if err := p.sess.EnsureOnTarget(ctx); err != nil {
		return rowResult{}, err
	}

	p.logger.Info("Applying filter.",
		zap.String("idsbr", dash(rec.IDSBR)),
		zap.String("nama_usaha", dash(rec.Name)),
		zap.String("alamat", dash(rec.Address)))
	count, err := p.applyFilter(ctx, rec)
	if err != nil {
		return rowResult{}, err
	}
	p.logger.Info("Filter results.", zap.Int("count", count))

	chosen, ok, err := p.selectCandidate(ctx, rec)
	if err != nil {
		return rowResult{}, err
	}
	if !ok {
		p.logger.Warn("No results found; skipping.", zap.String("idsbr", dash(rec.IDSBR)))
		return rowResult{ledger.StatusFailure, "No results found"}, nil
	}

	if err := p.surf.Click(ctx, selResultCard, chosen.Index); err != nil {
		return rowResult{}, err
	}

	if n, err := p.surf.CountContaining(ctx, selDoneBadge, markerDone); err == nil && n > 0 {
		p.logger.Info("Skipped: already ground-checked.", zap.String("idsbr", dash(rec.IDSBR)))
		return rowResult{ledger.StatusSkipped, "Sudah GC"}, nil
	}
	if n, err := p.surf.CountContaining(ctx, selInactiveStatus, markerDuplicate); err == nil && n > 0 {
		p.logger.Info("Skipped: duplicate entry.", zap.String("idsbr", dash(rec.IDSBR)))
		return rowResult{ledger.StatusSkipped, "Duplikat"}, nil
	}

	return p.submitRecord(ctx, rec)
}
