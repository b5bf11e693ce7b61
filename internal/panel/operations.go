package panel

import (
	"context"
	"errors"
	"log/slog"

	"bedready-go/internal/mask"
	"bedready-go/internal/octoprint"
	"bedready-go/internal/popup"
	"bedready-go/internal/settings"
	"bedready-go/internal/types"
)

const snapshotTimeLayout = "2006-01-02T15:04:05.000Z"

var ErrNoStore = errors.New("panel: no settings store configured")

// Initialize loads the settings and the snapshot list, then binds the mask
// editor. Failures are shown as notices and returned.
func (p *Panel) Initialize(ctx context.Context) error {
	defer p.emit()

	if p.store != nil {
		s, err := p.store.Load(ctx)
		if err != nil {
			p.notice(popup.TitleError, "Failed to load settings: "+octoprint.Message(err), types.SeverityError)
		} else {
			p.mu.Lock()
			p.settings = s
			p.mu.Unlock()
		}
	}

	// The mask editor binds to settings, not to the snapshot list.
	defer p.toggleMask()

	snapshots, err := p.backend.ListSnapshots(ctx)
	if err != nil {
		p.notice(popup.TitleError, "Failed to load snapshots: "+octoprint.Message(err), types.SeverityError)
		return err
	}
	p.mu.Lock()
	p.snapshots = snapshots
	p.mu.Unlock()
	return nil
}

// SnapshotName is the filename requested for a new reference snapshot.
func (p *Panel) SnapshotName() string {
	return "reference_" + p.now().UTC().Format(snapshotTimeLayout) + ".jpg"
}

// TakeSnapshot asks the backend for a new reference snapshot. On success the
// snapshot list is replaced by the one the backend returns.
func (p *Panel) TakeSnapshot(ctx context.Context) error {
	p.setBusy(true)
	defer p.setBusy(false)

	name := p.SnapshotName()
	res, err := p.backend.TakeSnapshot(ctx, name, p.maskOptions())
	if err != nil {
		p.notice(popup.TitleError, "There was an error saving the snapshot: "+octoprint.Message(err), types.SeverityError)
		return err
	}
	if res.Error != "" {
		p.showPopup(popup.Content{
			Title:    popup.TitleError,
			Body:     popup.ErrorBody(res.Error, true),
			Severity: types.SeverityError,
		})
		return &AppError{Command: "take_snapshot", Message: res.Error}
	}

	p.mu.Lock()
	p.snapshots = append([]string{}, res.Snapshots...)
	p.mu.Unlock()
	p.logger.Info("snapshot taken", slog.String("name", name), slog.Int("snapshots", len(res.Snapshots)))
	return nil
}

// DeleteSnapshot removes a stored snapshot. The local list loses exactly one
// matching entry, and only after the backend confirmed.
func (p *Panel) DeleteSnapshot(ctx context.Context, filename string) error {
	defer p.emit()

	if err := p.backend.DeleteSnapshot(ctx, filename); err != nil {
		p.notice(popup.TitleError, "There was an error deleting the snapshot: "+octoprint.Message(err), types.SeverityError)
		return err
	}

	p.mu.Lock()
	for i, name := range p.snapshots {
		if name == filename {
			p.snapshots = append(p.snapshots[:i:i], p.snapshots[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	p.notice("Snapshot Deleted", filename, types.SeverityInfo)
	return nil
}

// SetDefaultSnapshot selects the reference image. Nothing is sent until the
// settings are saved.
func (p *Panel) SetDefaultSnapshot(filename string) {
	p.mu.Lock()
	p.settings.Plugin.ReferenceImage = filename
	p.editor.Bind(p.referenceURL())
	p.mu.Unlock()
	p.emit()
}

// TestSnapshot runs a bed check against the selected reference and shows
// the comparison. The popup is an error when the similarity is below the
// configured threshold.
func (p *Panel) TestSnapshot(ctx context.Context) (types.ComparisonResult, error) {
	p.setBusy(true)
	defer p.setBusy(false)

	p.mu.Lock()
	reference := p.settings.Plugin.ReferenceImage
	threshold := p.settings.Plugin.MatchPercentage
	p.mu.Unlock()

	res, err := p.backend.CheckBed(ctx, reference, p.maskOptions())
	if err != nil {
		p.notice(popup.TitleError, "There was an error testing the snapshot: "+octoprint.Message(err), types.SeverityError)
		return types.ComparisonResult{}, err
	}
	if res.Error != "" {
		p.showPopup(popup.Content{
			Title:    popup.TitleError,
			Body:     popup.ErrorBody(res.Error, false),
			Severity: types.SeverityError,
		})
		return res, &AppError{Command: "check_bed", Message: res.Error}
	}

	severity := types.SeveritySuccess
	if res.Similarity < threshold {
		severity = types.SeverityError
	}
	p.showPopup(popup.Content{
		Title: popup.TitleTest,
		Body: popup.ComparisonBody(popup.Comparison{
			Similarity:   res.Similarity,
			ReferenceURL: p.ImageURL(res.ReferenceImage),
			TestURL:      p.ImageURL(res.TestImage),
		}),
		Severity: severity,
	})
	p.logger.Info("bed test",
		slog.Float64("similarity", res.Similarity),
		slog.Float64("threshold", threshold),
		slog.String("severity", string(severity)),
	)
	return res, nil
}

// ToggleMask attaches or detaches the mask editor to follow the mask flag.
// Repeating it without a flag change does nothing.
func (p *Panel) ToggleMask() mask.Action {
	action := p.toggleMask()
	if action != mask.Unchanged {
		p.emit()
	}
	return action
}

func (p *Panel) toggleMask() mask.Action {
	p.mu.Lock()
	enabled := p.settings.Plugin.EnableMask
	action := p.editor.Toggle(enabled, p.referenceURL(), p.settings.Plugin.MaskPoints)
	p.mu.Unlock()

	switch action {
	case mask.Attached:
		p.logger.Info("mask editor attached")
	case mask.Detached:
		p.logger.Info("mask disabled")
	default:
		if enabled {
			p.logger.Debug("mask already enabled")
		} else {
			p.logger.Debug("mask already disabled")
		}
	}
	return action
}

// SetMaskEnabled changes the mask flag and lets the editor follow it.
func (p *Panel) SetMaskEnabled(enabled bool) mask.Action {
	p.mu.Lock()
	p.settings.Plugin.EnableMask = enabled
	p.mu.Unlock()
	action := p.toggleMask()
	p.emit()
	return action
}

// UpdateMask is the editor's change callback: the polygon is rounded to
// integer points and written to the mask settings.
func (p *Panel) UpdateMask(points string) error {
	poly, err := mask.Parse(points)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.settings.Plugin.MaskPoints = poly.String()
	p.editor.SetPath(poly)
	p.mu.Unlock()
	p.emit()
	return nil
}

// UpdateSettings replaces the local settings copy, as the settings dialog
// does, and lets the mask editor follow the new flag.
func (p *Panel) UpdateSettings(v settings.Values) {
	p.mu.Lock()
	p.settings.Plugin = v
	p.editor.Bind(p.referenceURL())
	p.mu.Unlock()
	p.toggleMask()
	p.emit()
}

// SaveSettings writes the local settings copy to the settings store.
func (p *Panel) SaveSettings(ctx context.Context) error {
	if p.store == nil {
		return ErrNoStore
	}
	if err := p.store.Save(ctx, p.Settings()); err != nil {
		p.notice(popup.TitleError, "Failed to save settings: "+octoprint.Message(err), types.SeverityError)
		p.emit()
		return err
	}
	return nil
}
