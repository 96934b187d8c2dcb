// File: internal/pipeline/filter.go
package pipeline

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/sbrtools/gcbot/internal/matching"
	"github.com/sbrtools/gcbot/internal/records"
)

// Result-list and filter-panel selectors of the target surface.
const (
	selSearchID      = "#search-idsbr"
	selSearchName    = "#search-nama"
	selSearchAddress = "#search-alamat"
	selFilterToggle  = "#toggle-filter"

	selResultCard = ".usaha-card-header"
	selCardBody   = ".usaha-card"
	selEmptyState = ".empty-state, .no-data, .no-results"

	selDoneBadge      = ".gc-badge"
	selInactiveStatus = ".usaha-status.tidak-aktif"

	markerDone      = "Sudah GC"
	markerDuplicate = "Duplikat"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsStr renders a Go string as a JS string literal.
func jsStr(s string) string {
	out, _ := json.Marshal(s)
	return string(out)
}

// resultsSnapshot captures enough of the result list to detect a refresh:
// the count plus the first and last card texts.
type resultsSnapshot struct {
	count int
	first string
	last  string
}

func (p *Pipeline) snapshotResults(ctx context.Context) resultsSnapshot {
	count, err := p.surf.Count(ctx, selResultCard)
	if err != nil || count == 0 {
		return resultsSnapshot{}
	}
	snap := resultsSnapshot{count: count}
	snap.first, _ = p.surf.Text(ctx, selResultCard, 0)
	if count > 1 {
		snap.last, _ = p.surf.Text(ctx, selResultCard, count-1)
	} else {
		snap.last = snap.first
	}
	return snap
}

// ensureFilterPanelOpen makes the id search field visible, toggling the
// filter panel when it is collapsed.
func (p *Pipeline) ensureFilterPanelOpen(ctx context.Context) error {
	visible, err := p.surf.Visible(ctx, selSearchID)
	if err != nil {
		return err
	}
	if visible {
		return nil
	}
	n, err := p.surf.Count(ctx, selFilterToggle)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	p.monitor.MarkActivity()
	if err := p.surf.Click(ctx, selFilterToggle, 0); err != nil {
		return err
	}
	_, err = p.monitor.WaitUntil(func() bool {
		v, err := p.surf.Visible(ctx, selSearchID)
		return err == nil && v
	}, 10*time.Second)
	return err
}

// setFilterValues writes all three filter inputs in one script and fires the
// input/change events the page's framework listens for. A single evaluate
// keeps the three fields consistent: no partial filter is ever submitted.
func (p *Pipeline) setFilterValues(ctx context.Context, id, name, address string) error {
	p.monitor.MarkActivity()
	script := fmt.Sprintf(`(() => {
	const values = { %s: %s, %s: %s, %s: %s };
	for (const [sel, value] of Object.entries(values)) {
		const input = document.querySelector(sel);
		if (!input) continue;
		input.value = value || "";
		input.dispatchEvent(new Event("input", { bubbles: true }));
		input.dispatchEvent(new Event("change", { bubbles: true }));
	}
})()`,
		jsStr(selSearchID), jsStr(id),
		jsStr(selSearchName), jsStr(name),
		jsStr(selSearchAddress), jsStr(address))
	return p.surf.Evaluate(ctx, script, nil)
}

// waitForResults blocks until the result list changes from the pre-filter
// snapshot or an empty-state marker shows, then waits out the blocking
// overlay and returns the card count.
func (p *Pipeline) waitForResults(ctx context.Context, previous resultsSnapshot, timeout time.Duration) (int, error) {
	_, err := p.monitor.WaitUntil(func() bool {
		if v, err := p.surf.Visible(ctx, selEmptyState); err == nil && v {
			return true
		}
		return p.snapshotResults(ctx) != previous
	}, timeout)
	if err != nil {
		return 0, err
	}
	if err := p.sess.WaitOverloadClear(ctx); err != nil {
		return 0, err
	}
	return p.surf.Count(ctx, selResultCard)
}

func (p *Pipeline) searchWith(ctx context.Context, id, name, address string) (int, error) {
	previous := p.snapshotResults(ctx)
	if err := p.setFilterValues(ctx, id, name, address); err != nil {
		return 0, err
	}
	// Brief debounce before watching for the refresh.
	if err := p.monitor.Pause(500 * time.Millisecond); err != nil {
		return 0, err
	}
	return p.waitForResults(ctx, previous, 15*time.Second)
}

// repollIfSlow gives a multi-result list a short window to settle, for
// result sets that trickle in after the first render.
func (p *Pipeline) repollIfSlow(ctx context.Context, count int) (int, error) {
	if count <= 1 {
		return count, nil
	}
	previous := p.snapshotResults(ctx)
	changed, err := p.monitor.WaitUntil(func() bool {
		if v, err := p.surf.Visible(ctx, selEmptyState); err == nil && v {
			return true
		}
		return p.snapshotResults(ctx) != previous
	}, 5*time.Second)
	if err != nil {
		return 0, err
	}
	if !changed {
		return count, nil
	}
	if err := p.sess.WaitOverloadClear(ctx); err != nil {
		return 0, err
	}
	return p.surf.Count(ctx, selResultCard)
}

// applyFilter runs the layered search: id alone first; a lone result wins
// outright; a noisy or empty result broadens to id+name+address when those
// fields exist.
func (p *Pipeline) applyFilter(ctx context.Context, rec records.Record) (int, error) {
	if err := p.ensureFilterPanelOpen(ctx); err != nil {
		return 0, err
	}

	if rec.IDSBR == "" {
		return p.searchWith(ctx, "", rec.Name, rec.Address)
	}

	count, err := p.searchWith(ctx, rec.IDSBR, "", "")
	if err != nil {
		return 0, err
	}
	if count > 1 {
		p.logger.Info("Results not unique; rechecking for slow loading.", zap.Int("count", count))
		if count, err = p.repollIfSlow(ctx, count); err != nil {
			return 0, err
		}
	}
	if count == 1 {
		return count, nil
	}
	if rec.Name != "" || rec.Address != "" {
		if count == 0 {
			p.logger.Warn("IDSBR not found; retrying with idsbr + nama_usaha + alamat.")
		} else {
			p.logger.Warn("Multiple results for IDSBR; retrying with idsbr + nama_usaha + alamat.",
				zap.Int("count", count))
		}
		return p.searchWith(ctx, rec.IDSBR, rec.Name, rec.Address)
	}
	return count, nil
}

// selectCandidate evaluates every rendered card against the record and
// applies the disambiguation policy. ok=false means no confident match.
func (p *Pipeline) selectCandidate(ctx context.Context, rec records.Record) (matching.Candidate, bool, error) {
	count, err := p.surf.Count(ctx, selResultCard)
	if err != nil {
		return matching.Candidate{}, false, err
	}
	if count == 0 {
		return matching.Candidate{}, false, nil
	}
	if err := p.sess.WaitOverloadClear(ctx); err != nil {
		return matching.Candidate{}, false, err
	}

	query := matching.NewQuery(rec.IDSBR, rec.Name, rec.Address)

	// Prefer the full card body text; fall back to the header when the body
	// count disagrees (partial renders) or yields nothing.
	bodyCount, _ := p.surf.Count(ctx, selCardBody)
	candidates := make([]matching.Candidate, 0, count)
	for idx := 0; idx < count; idx++ {
		text := ""
		if bodyCount == count {
			text, _ = p.surf.Text(ctx, selCardBody, idx)
		}
		if text == "" {
			text, _ = p.surf.Text(ctx, selResultCard, idx)
		}
		candidates = append(candidates, query.Evaluate(idx, text))
	}

	result := query.Select(candidates)
	if !result.OK {
		p.logger.Warn("No confident match.",
			zap.String("reason", result.Reason),
			zap.String("idsbr", dash(query.IDNorm())),
			zap.String("nama_tokens", matching.JoinTokens(query.NameTokens())),
			zap.String("alamat_tokens", matching.JoinTokens(query.AddressTokens())))
		considered := result.Considered
		if max := p.cfg.Run.MatchLogMax; max > 0 && len(considered) > max {
			considered = considered[:max]
		}
		for _, c := range considered {
			p.logger.Info(c.Summary())
		}
		return matching.Candidate{}, false, nil
	}

	p.logger.Info("Match selected.")
	p.logger.Info(result.Chosen.Summary())
	return result.Chosen, true, nil
}
