// Package photo tracks uploaded images and keeps at least one renderable
// reference alive for each of them.
package photo

import (
	"github.com/raine/vehicle-listing-bot/internal/media"
)

// Status is the lifecycle state of a Record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusReady     Status = "ready"
	StatusCorrupted Status = "corrupted"
)

// RefKind identifies which representation a RenderRef will render from.
type RefKind int

const (
	RefNone RefKind = iota
	RefTransient
	RefInline
)

func (k RefKind) String() string {
	switch k {
	case RefTransient:
		return "transient"
	case RefInline:
		return "inline"
	}
	return "none"
}

// RenderRef holds up to two independent references to the same image. The
// inline data URL is preferred because it does not depend on the registry
// and renders even when the file's own metadata is wrong.
type RenderRef struct {
	Transient string // blob:<id>, valid while registered
	Inline    string // data:<mime>;base64,...
}

// Kind returns the representation Active renders from.
func (r RenderRef) Kind() RefKind {
	switch {
	case r.Inline != "":
		return RefInline
	case r.Transient != "":
		return RefTransient
	}
	return RefNone
}

// Active returns the reference a renderer should use, or "" if none.
func (r RenderRef) Active() string {
	switch r.Kind() {
	case RefInline:
		return r.Inline
	case RefTransient:
		return r.Transient
	}
	return ""
}

// Usable reports whether at least one reference exists.
func (r RenderRef) Usable() bool {
	return r.Kind() != RefNone
}

// Record is one uploaded image and its derived state. Records are owned by
// the intake manager and only mutated from the session worker.
type Record struct {
	ID          string
	Name        string
	MIMEType    string
	Data        []byte
	Fingerprint string
	Converted   bool

	Ref        RenderRef
	Status     Status
	RetryCount int

	IsIdentifierImage bool
	Order             int
}

// File returns the record payload as a media.File.
func (r *Record) File() media.File {
	return media.File{Name: r.Name, MIMEType: r.MIMEType, Data: r.Data, Converted: r.Converted}
}

// SetPayload replaces the payload in place. ID, order and flags are kept.
func (r *Record) SetPayload(f media.File) {
	r.Name = f.Name
	r.MIMEType = f.MIMEType
	r.Data = f.Data
	r.Converted = r.Converted || f.Converted
	r.Fingerprint = media.Fingerprint(f.Data)
}

// Renderable reports whether the record should be shown in normal
// rendering.
func (r *Record) Renderable() bool {
	return r.Status != StatusCorrupted && r.Ref.Usable()
}

// Clone returns a copy that shares the payload bytes. Payloads are never
// mutated in place, only replaced.
func (r *Record) Clone() *Record {
	c := *r
	return &c
}
