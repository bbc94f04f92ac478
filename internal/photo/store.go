package photo

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/raine/vehicle-listing-bot/internal/media"
)

// MaxRenderRetries is how many render failures a record may heal from.
// The next failure quarantines it.
const MaxRenderRetries = 2

var ErrNotDataURL = errors.New("not a base64 data url")

// HealAction describes what HandleRenderFailure did.
type HealAction string

const (
	HealConverted   HealAction = "converted"
	HealRegenerated HealAction = "regenerated"
	HealFellBack    HealAction = "fell_back"
	HealQuarantined HealAction = "quarantined"
	HealExcluded    HealAction = "excluded"
)

// HealOutcome is the result of handling one render failure.
type HealOutcome struct {
	Action HealAction
	Err    error
}

// BuildResult carries the references built for one payload. Either error
// may be set while the other reference still succeeded.
type BuildResult struct {
	Ref          RenderRef
	TransientErr error
	InlineErr    error
}

// Store builds and heals the render references of records.
type Store struct {
	registry   *Registry
	normalizer *media.Normalizer
}

func NewStore(registry *Registry, normalizer *media.Normalizer) *Store {
	return &Store{registry: registry, normalizer: normalizer}
}

// Registry returns the transient reference registry backing the store.
func (s *Store) Registry() *Registry {
	return s.registry
}

// Build creates the transient and inline references for data in parallel.
func (s *Store) Build(ctx context.Context, data []byte, declaredMIME string) BuildResult {
	var res BuildResult
	var g errgroup.Group

	g.Go(func() error {
		ref, err := s.registry.Create(data, renderMIME(data, declaredMIME))
		res.Ref.Transient, res.TransientErr = ref, err
		return nil
	})
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			res.InlineErr = err
			return nil
		}
		ref, err := InlineRef(data, declaredMIME)
		res.Ref.Inline, res.InlineErr = ref, err
		return nil
	})
	_ = g.Wait()

	return res
}

// Attach installs built references on rec and moves it out of pending. A
// record that ended up with no reference at all is quarantined.
func (s *Store) Attach(rec *Record, res BuildResult) {
	if rec.Status == StatusCorrupted {
		s.registry.Release(res.Ref.Transient)
		return
	}
	// A rebuild replaces whatever the record had before.
	if rec.Ref.Transient != "" && rec.Ref.Transient != res.Ref.Transient {
		s.registry.Release(rec.Ref.Transient)
	}
	rec.Ref = res.Ref

	if res.TransientErr != nil {
		log.Warn().Err(res.TransientErr).Str("recordID", rec.ID).Msg("transient reference unavailable")
	}
	if res.InlineErr != nil {
		log.Warn().Err(res.InlineErr).Str("recordID", rec.ID).Msg("inline reference unavailable")
	}

	if !rec.Ref.Usable() {
		s.quarantine(rec, "no renderable reference")
		return
	}
	rec.Status = StatusReady
}

// HandleRenderFailure reacts to the active reference of rec failing to
// render. It never panics and never returns an error the caller has to
// act on; the outcome only reports what happened.
func (s *Store) HandleRenderFailure(ctx context.Context, rec *Record) HealOutcome {
	if rec.Status == StatusCorrupted {
		return HealOutcome{Action: HealExcluded}
	}

	rec.RetryCount++
	logger := log.With().Str("recordID", rec.ID).Int("retryCount", rec.RetryCount).Logger()

	if rec.RetryCount > MaxRenderRetries {
		s.quarantine(rec, "render retries exhausted")
		return HealOutcome{Action: HealQuarantined}
	}

	var errs []error

	if !rec.Converted && media.DetectFormat(rec.Data, rec.MIMEType, rec.Name).Proprietary() {
		out := s.normalizer.Convert(ctx, rec.File())
		if out.Err == nil && out.Changed {
			s.Attach(rec, s.replacePayload(ctx, rec, out.File))
			logger.Info().Msg("healed record by converting its format")
			return HealOutcome{Action: HealConverted}
		}
		errs = append(errs, out.Err)
	}

	inline, err := InlineRef(rec.Data, rec.MIMEType)
	if err == nil {
		rec.Ref.Inline = inline
		logger.Info().Msg("regenerated inline reference")
		return HealOutcome{Action: HealRegenerated}
	}
	errs = append(errs, err)
	healErr := errors.Join(errs...)

	// Nothing could be rebuilt. Drop the reference that failed so the
	// other one becomes active, if there is one.
	if rec.Ref.Kind() == RefInline && rec.Ref.Transient != "" {
		rec.Ref.Inline = ""
		logger.Warn().Err(healErr).Msg("falling back to transient reference")
		return HealOutcome{Action: HealFellBack, Err: healErr}
	}

	s.quarantine(rec, "no reference could be rebuilt")
	return HealOutcome{Action: HealQuarantined, Err: healErr}
}

// replacePayload swaps the payload of rec for f, keeping the record's id,
// order and flags, and returns freshly built references.
func (s *Store) replacePayload(ctx context.Context, rec *Record, f media.File) BuildResult {
	rec.SetPayload(f)
	return s.Build(ctx, f.Data, f.MIMEType)
}

// SwapPayloads replaces the payloads of the records named in updates, as
// happens after a compression pass. Transient references that belonged to
// a replaced payload are released once, unless a surviving record still
// uses them. It returns the number of references released.
func (s *Store) SwapPayloads(ctx context.Context, records []*Record, updates map[string]media.File) int {
	previous := make(map[string]struct{})
	for _, rec := range records {
		if rec.Ref.Transient != "" {
			previous[rec.Ref.Transient] = struct{}{}
		}
	}

	for _, rec := range records {
		f, ok := updates[rec.ID]
		if !ok || rec.Status == StatusCorrupted || len(f.Data) == 0 {
			continue
		}
		if bytes.Equal(f.Data, rec.Data) {
			continue
		}

		oldTransient := rec.Ref.Transient
		res := s.replacePayload(ctx, rec, f)
		if res.Ref.Transient == "" {
			// Keep pointing at the old payload rather than losing the fallback.
			res.Ref.Transient = oldTransient
		}
		rec.Ref = res.Ref
		if rec.Ref.Usable() {
			rec.Status = StatusReady
		}
	}

	live := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if rec.Ref.Transient != "" {
			live[rec.Ref.Transient] = struct{}{}
		}
	}

	released := 0
	for ref := range previous {
		if _, stillUsed := live[ref]; stillUsed {
			continue
		}
		if s.registry.Release(ref) {
			released++
		}
	}
	return released
}

// Release drops the transient reference owned by rec. Calling it twice is
// harmless.
func (s *Store) Release(rec *Record) bool {
	if rec.Ref.Transient == "" {
		return false
	}
	released := s.registry.Release(rec.Ref.Transient)
	rec.Ref.Transient = ""
	return released
}

// ReleaseAll releases every transient reference owned by records.
func (s *Store) ReleaseAll(records []*Record) int {
	n := 0
	for _, rec := range records {
		if s.Release(rec) {
			n++
		}
	}
	return n
}

func (s *Store) quarantine(rec *Record, reason string) {
	rec.Status = StatusCorrupted
	s.Release(rec)
	log.Warn().
		Str("recordID", rec.ID).
		Int("retryCount", rec.RetryCount).
		Str("reason", reason).
		Msg("record quarantined")
}

// InlineRef encodes data as a data URL. The MIME type is taken from the
// content when it can be sniffed, since declared types are unreliable.
func InlineRef(data []byte, declaredMIME string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyPayload
	}
	var b strings.Builder
	b.Grow(len(data)*4/3 + 64)
	b.WriteString("data:")
	b.WriteString(renderMIME(data, declaredMIME))
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String(), nil
}

// DecodeInlineRef returns the MIME type and payload of a data URL.
func DecodeInlineRef(ref string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(ref, "data:")
	if !ok {
		return "", nil, ErrNotDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrNotDataURL
	}
	mimeType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, ErrNotDataURL
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode data url: %w", err)
	}
	return mimeType, data, nil
}

func renderMIME(data []byte, declared string) string {
	if f := media.Sniff(data); f != media.FormatUnknown {
		return f.MIMEType()
	}
	if declared != "" {
		return declared
	}
	return "application/octet-stream"
}
