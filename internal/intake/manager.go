// Package intake owns the ordered collection of uploaded photos and the
// subset chosen for deep analysis.
package intake

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/raine/vehicle-listing-bot/internal/media"
	"github.com/raine/vehicle-listing-bot/internal/photo"
)

const (
	DefaultMaxRecords  = 20
	DefaultMaxSelected = 5
	DefaultMaxFileSize = 20 << 20 // 20 MiB
)

var (
	ErrNotFound      = errors.New("photo not found")
	ErrOutOfRange    = errors.New("photo index out of range")
	ErrSelectionFull = errors.New("selection is full")
	ErrCorrupted     = errors.New("photo is corrupted")
)

// Limits bound the collection. Zero values use the defaults.
type Limits struct {
	MaxRecords  int
	MaxSelected int
	MaxFileSize int
}

// Releaser releases the transient reference of a removed record.
type Releaser interface {
	Release(rec *photo.Record) bool
}

// Manager holds the records in user order. It is not safe for concurrent
// use; the pipeline calls it from the session worker only.
type Manager struct {
	limits   Limits
	releaser Releaser
	records  []*photo.Record
	selected map[string]struct{}
}

func NewManager(limits Limits, releaser Releaser) *Manager {
	if limits.MaxRecords <= 0 {
		limits.MaxRecords = DefaultMaxRecords
	}
	if limits.MaxSelected <= 0 {
		limits.MaxSelected = DefaultMaxSelected
	}
	if limits.MaxFileSize <= 0 {
		limits.MaxFileSize = DefaultMaxFileSize
	}
	return &Manager{
		limits:   limits,
		releaser: releaser,
		selected: make(map[string]struct{}),
	}
}

// Limits returns the effective limits.
func (m *Manager) Limits() Limits {
	return m.limits
}

// Intake validates a batch and appends the accepted files as pending
// records. A bad file only excludes itself.
func (m *Manager) Intake(files []media.File) BatchReport {
	var report BatchReport
	seen := make(map[string]struct{}, len(m.records)+len(files))
	for _, rec := range m.records {
		seen[rec.Fingerprint] = struct{}{}
	}

	for _, f := range files {
		reason, ok := m.validate(f)
		if !ok {
			report.Rejected = append(report.Rejected, Rejection{Name: f.Name, Reason: reason})
			continue
		}

		fp := media.Fingerprint(f.Data)
		if _, dup := seen[fp]; dup {
			report.Rejected = append(report.Rejected, Rejection{Name: f.Name, Reason: ReasonDuplicate})
			continue
		}
		if len(m.records) >= m.limits.MaxRecords {
			report.Rejected = append(report.Rejected, Rejection{Name: f.Name, Reason: ReasonCapacity})
			continue
		}
		seen[fp] = struct{}{}

		rec := &photo.Record{
			ID:          uuid.NewString(),
			Name:        f.Name,
			MIMEType:    f.MIMEType,
			Data:        f.Data,
			Fingerprint: fp,
			Converted:   f.Converted,
			Status:      photo.StatusPending,
			Order:       len(m.records),
		}
		m.records = append(m.records, rec)
		report.Accepted = append(report.Accepted, rec)
	}

	for _, r := range report.Rejected {
		log.Info().Str("file", r.Name).Str("reason", string(r.Reason)).Msg("rejected upload")
	}
	return report
}

func (m *Manager) validate(f media.File) (RejectReason, bool) {
	switch {
	case len(f.Data) == 0:
		return ReasonEmpty, false
	case len(f.Data) > m.limits.MaxFileSize:
		return ReasonTooLarge, false
	case !f.Format().IsImage():
		return ReasonNotImage, false
	}
	return "", true
}

// Records returns the records in user order. The slice is a copy; the
// records are not.
func (m *Manager) Records() []*photo.Record {
	out := make([]*photo.Record, len(m.records))
	copy(out, m.records)
	return out
}

func (m *Manager) Len() int {
	return len(m.records)
}

func (m *Manager) Get(id string) (*photo.Record, bool) {
	if i := m.IndexOf(id); i >= 0 {
		return m.records[i], true
	}
	return nil, false
}

// At returns the record at a zero-based position.
func (m *Manager) At(index int) (*photo.Record, error) {
	if index < 0 || index >= len(m.records) {
		return nil, fmt.Errorf("%w: %d", ErrOutOfRange, index+1)
	}
	return m.records[index], nil
}

func (m *Manager) IndexOf(id string) int {
	for i, rec := range m.records {
		if rec.ID == id {
			return i
		}
	}
	return -1
}

// Move relocates the record at from to position to. Selection is tracked
// by id, so it is unaffected.
func (m *Manager) Move(from, to int) error {
	n := len(m.records)
	if from < 0 || from >= n {
		return fmt.Errorf("%w: %d", ErrOutOfRange, from+1)
	}
	if to < 0 || to >= n {
		return fmt.Errorf("%w: %d", ErrOutOfRange, to+1)
	}
	if from == to {
		return nil
	}

	rec := m.records[from]
	reordered := make([]*photo.Record, 0, n)
	reordered = append(reordered, m.records[:from]...)
	reordered = append(reordered, m.records[from+1:]...)
	reordered = append(reordered[:to], append([]*photo.Record{rec}, reordered[to:]...)...)
	m.records = reordered
	m.renumber()
	return nil
}

// Remove deletes a record, releases its transient reference and prunes it
// from the selection.
func (m *Manager) Remove(id string) (*photo.Record, error) {
	i := m.IndexOf(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec := m.records[i]
	m.records = append(m.records[:i], m.records[i+1:]...)
	delete(m.selected, id)
	m.renumber()

	if m.releaser != nil {
		m.releaser.Release(rec)
	}
	log.Info().Str("recordID", id).Int("remaining", len(m.records)).Msg("removed photo")
	return rec, nil
}

// Clear removes every record, releasing all transient references.
func (m *Manager) Clear() int {
	released := 0
	for _, rec := range m.records {
		if m.releaser != nil && m.releaser.Release(rec) {
			released++
		}
	}
	m.records = nil
	m.selected = make(map[string]struct{})
	return released
}

func (m *Manager) renumber() {
	for i, rec := range m.records {
		rec.Order = i
	}
}

// --- Selection ---

// Select adds a record to the analysis selection.
func (m *Manager) Select(id string) error {
	rec, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if rec.Status == photo.StatusCorrupted {
		return ErrCorrupted
	}
	if _, already := m.selected[id]; already {
		return nil
	}
	if len(m.selected) >= m.limits.MaxSelected {
		return fmt.Errorf("%w: at most %d photos", ErrSelectionFull, m.limits.MaxSelected)
	}
	m.selected[id] = struct{}{}
	return nil
}

func (m *Manager) Deselect(id string) {
	delete(m.selected, id)
}

// ToggleSelected flips selection and returns the new state.
func (m *Manager) ToggleSelected(id string) (bool, error) {
	if m.IsSelected(id) {
		m.Deselect(id)
		return false, nil
	}
	if err := m.Select(id); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) IsSelected(id string) bool {
	_, ok := m.selected[id]
	return ok
}

// Selected returns the selected records in user order.
func (m *Manager) Selected() []*photo.Record {
	var out []*photo.Record
	for _, rec := range m.records {
		if m.IsSelected(rec.ID) {
			out = append(out, rec)
		}
	}
	return out
}

func (m *Manager) SelectionSize() int {
	return len(m.selected)
}

// ToggleIdentifier flips the identifier-image flag and returns the new
// state. It does not touch the record status.
func (m *Manager) ToggleIdentifier(id string) (bool, error) {
	rec, ok := m.Get(id)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec.IsIdentifierImage = !rec.IsIdentifierImage
	return rec.IsIdentifierImage, nil
}

// --- Status views ---

func (m *Manager) Renderable() []*photo.Record {
	return m.filter(func(r *photo.Record) bool { return r.Renderable() })
}

func (m *Manager) Corrupted() []*photo.Record {
	return m.filter(func(r *photo.Record) bool { return r.Status == photo.StatusCorrupted })
}

func (m *Manager) Pending() []*photo.Record {
	return m.filter(func(r *photo.Record) bool { return r.Status == photo.StatusPending })
}

func (m *Manager) filter(keep func(*photo.Record) bool) []*photo.Record {
	var out []*photo.Record
	for _, rec := range m.records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}
