// File: internal/pipeline/submit.go
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sbrtools/gcbot/internal/ledger"
	"github.com/sbrtools/gcbot/internal/records"
)

// Detail-form and dialog selectors of the target surface.
const (
	selMarkButton    = ".btn-tandai"
	selOutcomeSelect = "#tt_hasil_gc"
	selLatitude      = "#tt_latitude_cek_user"
	selLongitude     = "#tt_longitude_cek_user"
	selSubmitButton  = "#save-tandai-usaha-btn"

	selDialogTitle     = ".swal2-title"
	selDialogPopup     = ".swal2-popup"
	selDialogErrorIcon = ".swal2-icon-error"
	selDialogConfirm   = ".swal2-confirm"
	selDialogCancel    = ".swal2-cancel"
	selDialogContainer = ".swal2-container"

	markerBusy    = "Server Sibuk"
	markerConfirm = "tanpa melakukan geotag"
	markerSuccess = "Data submitted successfully"
	markerGeotag  = "Ambil Lokasi"
)

// Post-submit dialog classification.
const (
	dialogNone    = ""
	dialogBusy    = "busy"
	dialogError   = "error"
	dialogConfirm = "confirm"
	dialogSuccess = "success"
)

// submitRecord drives the detail form for a matched record: open, set the
// outcome, fill coordinates, submit, and see the dialogs through.
func (p *Pipeline) submitRecord(ctx context.Context, rec records.Record) (rowResult, error) {
	id := dash(rec.IDSBR)

	if n, err := p.surf.Count(ctx, selMarkButton); err != nil {
		return rowResult{}, err
	} else if n == 0 {
		p.logger.Warn("Mark button not found; skipping.", zap.String("idsbr", id))
		return rowResult{ledger.StatusFailure, "Tombol Tandai tidak ditemukan"}, nil
	}
	if visible, err := p.surf.Visible(ctx, selMarkButton); err != nil {
		return rowResult{}, err
	} else if !visible {
		p.logger.Warn("Mark button not visible; skipping.", zap.String("idsbr", id))
		return rowResult{ledger.StatusFailure, "Tombol Tandai tidak terlihat"}, nil
	}

	if err := p.sess.WaitOverloadClear(ctx); err != nil {
		return rowResult{}, err
	}
	p.monitor.MarkActivity()
	if err := p.surf.Click(ctx, selMarkButton, 0); err != nil {
		p.logger.Warn("Mark button click failed; skipping.",
			zap.String("idsbr", id), zap.Error(err))
		return rowResult{ledger.StatusFailure, "Tombol Tandai gagal diklik"}, nil
	}

	formReady, err := p.monitor.WaitUntil(func() bool {
		n, err := p.surf.Count(ctx, selOutcomeSelect)
		return err == nil && n > 0
	}, 30*time.Second)
	if err != nil {
		return rowResult{}, err
	}
	if !formReady {
		p.logger.Warn("Detail form did not appear; skipping.", zap.String("idsbr", id))
		return rowResult{ledger.StatusFailure, "Form Hasil GC tidak muncul"}, nil
	}

	outcomeSet, err := p.setOutcome(ctx, rec.Code)
	if err != nil {
		return rowResult{}, err
	}
	if !outcomeSet {
		p.logger.Warn("Outcome code invalid or empty; skipping.", zap.String("idsbr", id))
		if err := p.returnToTarget(ctx); err != nil {
			return rowResult{}, err
		}
		return rowResult{ledger.StatusFailure, "Hasil GC tidak valid/kosong"}, nil
	}
	p.logger.Info("Outcome set.", zap.String("hasil_gc", rec.CodeString()), zap.String("idsbr", id))

	if err := p.fillCoordinates(ctx, rec); err != nil {
		return rowResult{}, err
	}

	return p.submitForm(ctx, rec)
}

// setOutcome selects the outcome code on the detail form, escalating through
// three strategies: option value, option label, then a forced scripted
// assignment verified by reading the value back.
func (p *Pipeline) setOutcome(ctx context.Context, code *int) (bool, error) {
	if code == nil {
		return false, nil
	}
	value := strconv.Itoa(*code)

	if _, err := p.monitor.WaitUntil(func() bool {
		n, err := p.surf.Count(ctx, selOutcomeSelect)
		return err == nil && n > 0
	}, 15*time.Second); err != nil {
		return false, err
	}

	p.monitor.MarkActivity()
	if ok, err := p.surf.SelectValue(ctx, selOutcomeSelect, value); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}

	if label, known := records.CodeLabels[*code]; known {
		if ok, err := p.surf.SelectLabel(ctx, selOutcomeSelect, label); err != nil {
			return false, err
		} else if ok {
			return true, nil
		}
	}

	// Last resort: assign the value directly and fire change, then verify it
	// stuck. Some form states render the select before wiring its options.
	script := fmt.Sprintf(`(() => {
	const select = document.querySelector(%s);
	if (!select) return;
	select.value = %s;
	select.dispatchEvent(new Event("change", { bubbles: true }));
})()`, jsStr(selOutcomeSelect), jsStr(value))
	if err := p.surf.Evaluate(ctx, script, nil); err != nil {
		return false, err
	}
	current, err := p.surf.InputValue(ctx, selOutcomeSelect)
	if err != nil {
		return false, err
	}
	return current == value, nil
}

// fillCoordinates writes the record's coordinates into fields that are still
// empty, and falls back to the surface's own geotag control when the record
// carries none and the outcome is not "not found".
func (p *Pipeline) fillCoordinates(ctx context.Context, rec records.Record) error {
	p.logger.Info("Filling coordinates.",
		zap.String("latitude", dash(rec.Latitude)),
		zap.String("longitude", dash(rec.Longitude)))
	if err := p.fillIfEmpty(ctx, selLatitude, rec.Latitude, "latitude"); err != nil {
		return err
	}
	if err := p.fillIfEmpty(ctx, selLongitude, rec.Longitude, "longitude"); err != nil {
		return err
	}

	coordsMissing := rec.Latitude == "" || rec.Longitude == ""
	notFound := rec.Code != nil && *rec.Code == records.CodeNotFound
	if coordsMissing && !notFound {
		clicked, err := p.surf.ClickContaining(ctx, "button", markerGeotag)
		if err != nil {
			return err
		}
		if clicked {
			p.logger.Info("Coordinates empty; requested geotag from the surface.")
			p.monitor.MarkActivity()
			if err := p.monitor.Pause(2 * time.Second); err != nil {
				return err
			}
		}
	}
	return nil
}

// fillIfEmpty writes value into sel only when the field exists, is visible
// and currently empty. Pre-filled values on the surface win over the input
// file.
func (p *Pipeline) fillIfEmpty(ctx context.Context, sel, value, fieldName string) error {
	if value == "" {
		return nil
	}
	n, err := p.surf.Count(ctx, sel)
	if err != nil {
		return err
	}
	visible := false
	if n > 0 {
		if visible, err = p.surf.Visible(ctx, sel); err != nil {
			return err
		}
	}
	if n == 0 || !visible {
		p.logger.Warn("Field not found; leaving it.", zap.String("field", fieldName))
		return nil
	}
	current, err := p.surf.InputValue(ctx, sel)
	if err != nil {
		return err
	}
	if strings.TrimSpace(current) != "" {
		return nil
	}
	p.monitor.MarkActivity()
	return p.surf.Fill(ctx, sel, value)
}

// submitForm clicks submit under a bounded retry loop, classifying the
// response dialog each time. Busy and error dialogs are retried; confirm and
// success end the loop. Exhausting the retries is a failure, never a crash.
func (p *Pipeline) submitForm(ctx context.Context, rec records.Record) (rowResult, error) {
	if n, err := p.surf.Count(ctx, selSubmitButton); err != nil {
		return rowResult{}, err
	} else if n == 0 {
		p.logger.Warn("Submit button not found; skipping.", zap.String("idsbr", dash(rec.IDSBR)))
		if err := p.returnToTarget(ctx); err != nil {
			return rowResult{}, err
		}
		return rowResult{ledger.StatusFailure, "Tombol submit tidak ditemukan"}, nil
	}
	if visible, err := p.surf.Visible(ctx, selSubmitButton); err != nil {
		return rowResult{}, err
	} else if !visible {
		p.logger.Warn("Submit button not visible; skipping.", zap.String("idsbr", dash(rec.IDSBR)))
		if err := p.returnToTarget(ctx); err != nil {
			return rowResult{}, err
		}
		return rowResult{ledger.StatusFailure, "Tombol submit tidak terlihat"}, nil
	}
	if err := p.sess.WaitOverloadClear(ctx); err != nil {
		return rowResult{}, err
	}

	dialog := dialogNone
	submitted := false
	for attempt := 0; attempt <= p.cfg.Run.SubmitRetries; attempt++ {
		// Hesitate briefly before the click; instant submits read as a bot.
		if err := p.monitor.Pause(p.jitter(500*time.Millisecond, 1500*time.Millisecond)); err != nil {
			return rowResult{}, err
		}
		p.monitor.MarkActivity()
		if err := p.surf.Click(ctx, selSubmitButton, 0); err != nil {
			p.logger.Warn("Submit click failed.", zap.Error(err))
		}

		var err error
		dialog, err = p.awaitDialog(ctx)
		if err != nil {
			return rowResult{}, err
		}

		switch dialog {
		case dialogBusy:
			p.logger.Warn("Server busy; retrying.",
				zap.Int("attempt", attempt+1), zap.Int("max", p.cfg.Run.SubmitRetries))
			if err := p.monitor.Pause(3 * time.Second); err != nil {
				return rowResult{}, err
			}
			clicked, err := p.surf.ClickContaining(ctx, selDialogConfirm, "Coba Lagi")
			if err != nil {
				return rowResult{}, err
			}
			if clicked {
				// The retry button resubmits on its own; give it a moment
				// before re-reading the dialog state.
				if err := p.monitor.Pause(2 * time.Second); err != nil {
					return rowResult{}, err
				}
				continue
			}
			if _, err := p.surf.ClickContaining(ctx, selDialogCancel, "Tutup"); err != nil {
				return rowResult{}, err
			}
			if err := p.monitor.Pause(time.Second); err != nil {
				return rowResult{}, err
			}

		case dialogError:
			p.logger.Warn("Error dialog after submit; dismissing.", zap.Int("attempt", attempt+1))
			if err := p.dismissErrorDialog(ctx); err != nil {
				return rowResult{}, err
			}

		case dialogConfirm, dialogSuccess:
			submitted = true

		default:
			p.logger.Warn("No response dialog after submit; retrying click.")
		}
		if submitted {
			break
		}
	}

	if !submitted {
		p.logger.Error("Submit failed after retries.", zap.String("idsbr", dash(rec.IDSBR)))
		if err := p.returnToTarget(ctx); err != nil {
			return rowResult{}, err
		}
		return rowResult{ledger.StatusFailure, "Server Sibuk / No Response"}, nil
	}

	if dialog == dialogConfirm {
		// The surface only asks for confirmation when submitting without a
		// geotag; seeing it with coordinates present is an anomaly.
		if rec.Latitude != "" || rec.Longitude != "" {
			if err := p.returnToTarget(ctx); err != nil {
				return rowResult{}, err
			}
			return rowResult{ledger.StatusFailure, "Anomali dialog geotag"}, nil
		}
		clicked, err := p.surf.ClickContaining(ctx, selDialogConfirm, "Ya")
		if err != nil {
			return rowResult{}, err
		}
		if !clicked {
			if err := p.returnToTarget(ctx); err != nil {
				return rowResult{}, err
			}
			return rowResult{ledger.StatusFailure, "Dialog geotag tanpa tombol Ya"}, nil
		}
	}

	if dialog != dialogSuccess {
		ok, err := p.monitor.WaitUntil(func() bool {
			n, err := p.surf.CountContaining(ctx, selDialogPopup, markerSuccess)
			return err == nil && n > 0
		}, 30*time.Second)
		if err != nil {
			return rowResult{}, err
		}
		if !ok {
			if err := p.returnToTarget(ctx); err != nil {
				return rowResult{}, err
			}
			return rowResult{ledger.StatusFailure, "Dialog sukses tidak muncul"}, nil
		}
	}

	if _, err := p.surf.ClickContaining(ctx, selDialogConfirm, "OK"); err != nil {
		return rowResult{}, err
	}
	if _, err := p.monitor.WaitUntil(func() bool {
		n, err := p.surf.Count(ctx, selDialogPopup)
		return err == nil && n == 0
	}, 10*time.Second); err != nil {
		return rowResult{}, err
	}
	if _, err := p.monitor.WaitUntil(func() bool {
		if v, err := p.surf.Visible(ctx, selSearchID); err == nil && v {
			return true
		}
		n, err := p.surf.Count(ctx, selResultCard)
		return err == nil && n > 0
	}, 10*time.Second); err != nil {
		return rowResult{}, err
	}
	if err := p.returnToTarget(ctx); err != nil {
		return rowResult{}, err
	}
	return rowResult{ledger.StatusSuccess, "Submit sukses"}, nil
}

// awaitDialog classifies the post-submit response. Busy is checked first and
// error dialogs are detected even mid-animation; only success requires the
// popup to be fully visible.
func (p *Pipeline) awaitDialog(ctx context.Context) (string, error) {
	dialog := dialogNone
	_, err := p.monitor.WaitUntil(func() bool {
		if n, err := p.surf.CountContaining(ctx, selDialogTitle, markerBusy); err == nil && n > 0 {
			dialog = dialogBusy
			return true
		}
		if n, err := p.surf.CountContaining(ctx, selDialogPopup, markerConfirm); err == nil && n > 0 {
			dialog = dialogConfirm
			return true
		}
		if n, err := p.surf.Count(ctx, selDialogErrorIcon); err == nil && n > 0 {
			dialog = dialogError
			return true
		}
		if n, err := p.surf.CountContaining(ctx, selDialogTitle, "Error"); err == nil && n > 0 {
			dialog = dialogError
			return true
		}
		if n, err := p.surf.CountContaining(ctx, selDialogPopup, markerSuccess); err == nil && n > 0 {
			if v, err := p.surf.Visible(ctx, selDialogPopup); err == nil && v {
				dialog = dialogSuccess
				return true
			}
		}
		return false
	}, 15*time.Second)
	return dialog, err
}

// dismissErrorDialog escalates through three close strategies: a trusted
// Enter key press, a scripted click on the confirm button, and finally
// removing the dialog from the DOM.
func (p *Pipeline) dismissErrorDialog(ctx context.Context) error {
	if err := p.monitor.Pause(time.Second); err != nil {
		return err
	}
	p.monitor.MarkActivity()
	if err := p.surf.PressKey(ctx, "\r"); err != nil {
		p.logger.Warn("Enter dismiss failed.", zap.Error(err))
	}
	if err := p.monitor.Pause(500 * time.Millisecond); err != nil {
		return err
	}

	click := fmt.Sprintf(`(() => {
	const btn = document.querySelector("button" + %s);
	if (btn) btn.click();
})()`, jsStr(selDialogConfirm))
	if err := p.surf.Evaluate(ctx, click, nil); err != nil {
		p.logger.Warn("Scripted dismiss failed.", zap.Error(err))
	}
	if err := p.monitor.Pause(500 * time.Millisecond); err != nil {
		return err
	}

	stillVisible, err := p.surf.Visible(ctx, selDialogContainer)
	if err != nil {
		return err
	}
	if stillVisible {
		p.logger.Warn("Dialog still visible; removing it from the document.")
		remove := fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (el) el.remove();
	document.body.classList.remove("swal2-shown", "swal2-height-auto");
})()`, jsStr(selDialogContainer))
		if err := p.surf.Evaluate(ctx, remove, nil); err != nil {
			return err
		}
	}
	return p.monitor.Pause(time.Second)
}

// returnToTarget navigates back to the work page when a submission left the
// surface elsewhere.
func (p *Pipeline) returnToTarget(ctx context.Context) error {
	loc, err := p.surf.Location(ctx)
	if err != nil {
		return err
	}
	if strings.HasPrefix(loc, p.cfg.Target.URL) {
		return nil
	}
	p.monitor.MarkActivity()
	return p.surf.Navigate(ctx, p.cfg.Target.URL)
}
