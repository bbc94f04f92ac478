// Package pipeline drives listing creation: it owns the form state of one
// user's listing and runs the photo, dictation, analysis and submit steps.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/raine/vehicle-listing-bot/internal/describe"
	"github.com/raine/vehicle-listing-bot/internal/dictation"
	"github.com/raine/vehicle-listing-bot/internal/intake"
	"github.com/raine/vehicle-listing-bot/internal/llm"
	"github.com/raine/vehicle-listing-bot/internal/market"
	"github.com/raine/vehicle-listing-bot/internal/media"
	"github.com/raine/vehicle-listing-bot/internal/metrics"
	"github.com/raine/vehicle-listing-bot/internal/objectstore"
	"github.com/raine/vehicle-listing-bot/internal/photo"
	"github.com/raine/vehicle-listing-bot/internal/pricing"
	"github.com/raine/vehicle-listing-bot/internal/reconcile"
	"github.com/raine/vehicle-listing-bot/internal/storage"
	"github.com/raine/vehicle-listing-bot/internal/vehicle"
)

const DefaultAnalysisTimeout = 90 * time.Second

var (
	ErrUnknownField  = errors.New("unknown field")
	ErrNoPricing     = errors.New("no pricing yet, set a price or run an analysis")
	ErrUnknownTier   = errors.New("unknown price tier")
	ErrNoPhotos      = errors.New("no usable photos")
	ErrNoPrice       = errors.New("no price set")
	ErrSubmitPending = errors.New("listing is already being submitted")
	ErrClosed        = errors.New("pipeline closed")
)

// ListingStore persists assembled listings.
type ListingStore interface {
	SaveListing(l *storage.Listing) error
}

// Deps are the collaborators shared by every orchestrator. Analyzer,
// Market, Transcriber, Extractor, Persister and Metrics may be nil.
type Deps struct {
	Store       *photo.Store
	Normalizer  *media.Normalizer
	Renderer    *photo.Renderer
	Pricing     *pricing.Engine
	Composer    *describe.Composer
	Analyzer    llm.Analyzer
	Market      market.Provider
	Transcriber dictation.Transcriber
	Extractor   dictation.Extractor
	Persister   *objectstore.Persister
	Listings    ListingStore
	Metrics     *metrics.Pipeline
}

// Options are per-orchestrator settings.
type Options struct {
	UserID           int64
	Location         string
	Limits           intake.Limits
	AnalysisTimeout  time.Duration
	DictationTimeout time.Duration
}

// Orchestrator owns the authoritative state of one listing. It is not safe
// for concurrent use: every method, including Apply, must be called from
// the same goroutine. Background tasks only ever see copies and report
// through dispatch.
type Orchestrator struct {
	deps     Deps
	opts     Options
	dispatch func(Event)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool

	epoch      int
	intake     *intake.Manager
	attrs      *vehicle.Attributes
	reconciler *reconcile.Engine
	bridge     *dictation.Bridge

	analysisSeq    int
	analysisCancel context.CancelFunc
	marketCancel   context.CancelFunc
	analyzing      bool
	submitting     bool

	analysis    *llm.AnalysisResult
	market      *market.Stats
	breakdown   *pricing.Breakdown
	warning     pricing.Warning
	description describe.Description
	tier        pricing.Tier
}

// New creates an orchestrator. dispatch is called from background
// goroutines and must hand events to the owning goroutine.
func New(deps Deps, opts Options, dispatch func(Event)) *Orchestrator {
	if opts.AnalysisTimeout <= 0 {
		opts.AnalysisTimeout = DefaultAnalysisTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		deps:     deps,
		opts:     opts,
		dispatch: dispatch,
		ctx:      ctx,
		cancel:   cancel,
	}
	o.reset()
	return o
}

func (o *Orchestrator) reset() {
	o.intake = intake.NewManager(o.opts.Limits, o.deps.Store)
	o.attrs = vehicle.NewAttributes()
	o.reconciler = reconcile.NewEngine()
	o.bridge = dictation.NewBridge(o.deps.Transcriber, o.deps.Extractor, o.opts.DictationTimeout)
	o.analysisCancel = nil
	o.marketCancel = nil
	o.analyzing = false
	o.submitting = false
	o.analysis = nil
	o.market = nil
	o.breakdown = nil
	o.warning = pricing.Warning{}
	o.description = describe.Description{}
	o.tier = ""
}

// StartOver drops the listing and everything owned by it. Every transient
// reference is released exactly once; results of tasks still in flight
// are discarded when they arrive.
func (o *Orchestrator) StartOver() {
	o.teardown()
	o.epoch++
	o.reset()
	o.refreshGauge()
	log.Info().Int64("userId", o.opts.UserID).Int("epoch", o.epoch).Msg("listing started over")
}

// Close tears the listing down and stops accepting events. Tasks still in
// flight are cancelled; Wait blocks until they are gone.
func (o *Orchestrator) Close() {
	if o.closed {
		return
	}
	o.closed = true
	o.teardown()
	o.cancel()
	o.refreshGauge()
}

// Wait blocks until every background task has returned. It must not be
// called from a goroutine that dispatch blocks on.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) teardown() {
	o.bridge.Cancel()
	if o.analysisCancel != nil {
		o.analysisCancel()
	}
	if o.marketCancel != nil {
		o.marketCancel()
	}
	released := o.intake.Clear()
	log.Debug().Int64("userId", o.opts.UserID).Int("released", released).Msg("released listing photos")
}

// spawn runs fn in the background, tracked by Wait.
func (o *Orchestrator) spawn(fn func(ctx context.Context) Event) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.emit(fn(o.ctx))
	}()
}

// emit hands ev to dispatch, or discards it once closed.
func (o *Orchestrator) emit(ev Event) {
	if ev == nil {
		return
	}
	if o.ctx.Err() != nil {
		o.discard(ev)
		return
	}
	o.dispatch(ev)
}

// discard frees what an event owns. Safe from any goroutine.
func (o *Orchestrator) discard(ev Event) {
	if built, ok := ev.(RefsBuilt); ok {
		o.deps.Store.Registry().Release(built.Result.Ref.Transient)
	}
}

// Apply folds a background result into the state and tells the UI what
// changed. Results from an earlier listing or a superseded request are
// dropped.
func (o *Orchestrator) Apply(ev Event) Notice {
	if o.closed || ev.epoch() != o.epoch {
		log.Debug().Int("eventEpoch", ev.epoch()).Int("epoch", o.epoch).Msg("dropping stale event")
		o.discard(ev)
		return Notice{}
	}

	switch e := ev.(type) {
	case RefsBuilt:
		return o.applyRefsBuilt(e)
	case AnalysisDone:
		return o.applyAnalysis(e)
	case MarketDone:
		return o.applyMarket(e)
	case DictationDone:
		return o.applyDictation(e)
	case SubmitDone:
		return o.applySubmit(e)
	}
	log.Error().Str("event", fmt.Sprintf("%T", ev)).Msg("unhandled pipeline event")
	return Notice{}
}

// --- Photos ---

// AddFiles validates a batch, converts proprietary formats synchronously
// so previews work right away, and builds the render references of every
// accepted file in the background.
func (o *Orchestrator) AddFiles(ctx context.Context, files []media.File) intake.BatchReport {
	report := o.intake.Intake(files)

	o.deps.Metrics.FileAccepted(len(report.Accepted))
	for _, r := range report.Rejected {
		o.deps.Metrics.FileRejected(string(r.Reason))
	}

	for _, rec := range report.Accepted {
		if out := o.deps.Normalizer.Convert(ctx, rec.File()); out.Changed {
			rec.SetPayload(out.File)
		} else if out.Err != nil {
			o.deps.Metrics.Fallback("conversion")
		}

		id, data, mimeType, epoch := rec.ID, rec.Data, rec.MIMEType, o.epoch
		o.spawn(func(ctx context.Context) Event {
			return RefsBuilt{Epoch: epoch, RecordID: id, Result: o.deps.Store.Build(ctx, data, mimeType)}
		})
	}

	log.Info().
		Int64("userId", o.opts.UserID).
		Int("accepted", len(report.Accepted)).
		Int("rejected", len(report.Rejected)).
		Int("total", o.intake.Len()).
		Msg("photos added")
	return report
}

func (o *Orchestrator) applyRefsBuilt(e RefsBuilt) Notice {
	rec, ok := o.intake.Get(e.RecordID)
	if !ok {
		// Removed while building.
		o.discard(e)
		return Notice{}
	}
	o.deps.Store.Attach(rec, e.Result)
	o.refreshGauge()

	n := Notice{}
	if rec.Status == photo.StatusCorrupted {
		o.deps.Metrics.RecordCorrupted()
		o.intake.Deselect(rec.ID)
	}
	if len(o.intake.Pending()) == 0 {
		n.Kind = NoticePhotosReady
		n.Corrupted = len(o.intake.Corrupted())
	}
	return n
}

// ReportRenderFailure heals a record whose preview failed to render.
func (o *Orchestrator) ReportRenderFailure(ctx context.Context, id string) (photo.HealOutcome, error) {
	rec, ok := o.intake.Get(id)
	if !ok {
		return photo.HealOutcome{}, fmt.Errorf("%w: %s", intake.ErrNotFound, id)
	}
	out := o.deps.Store.HandleRenderFailure(ctx, rec)
	o.deps.Metrics.RenderHealed(string(out.Action))
	if out.Action == photo.HealQuarantined {
		o.deps.Metrics.RecordCorrupted()
		o.intake.Deselect(id)
	}
	o.refreshGauge()
	return out, nil
}

// Preview is a rendered contact sheet of the listing photos.
type Preview struct {
	Image   []byte
	Indices []int // 1-based photo numbers in sheet order
	Healed  int
}

// Preview renders the photos and heals the ones that failed to render.
// Healing happens after the render pass, never inside it.
func (o *Orchestrator) Preview(ctx context.Context) (Preview, error) {
	report, err := o.deps.Renderer.ContactSheet(o.intake.Records())
	if err != nil {
		return Preview{}, err
	}
	p := Preview{Image: report.Image}
	for _, id := range report.Rendered {
		p.Indices = append(p.Indices, o.intake.IndexOf(id)+1)
	}
	for _, id := range report.Failed {
		if _, err := o.ReportRenderFailure(ctx, id); err == nil {
			p.Healed++
		}
	}
	return p, nil
}

// IDAt returns the id of the photo at a 0-based index.
func (o *Orchestrator) IDAt(index int) (string, error) {
	rec, err := o.intake.At(index)
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (o *Orchestrator) Move(from, to int) error {
	return o.intake.Move(from, to)
}

// Remove deletes a photo, releasing its transient reference and dropping
// it from the selection.
func (o *Orchestrator) Remove(id string) error {
	if _, err := o.intake.Remove(id); err != nil {
		return err
	}
	o.refreshGauge()
	return nil
}

func (o *Orchestrator) ToggleSelected(id string) (bool, error) {
	return o.intake.ToggleSelected(id)
}

func (o *Orchestrator) ToggleIdentifier(id string) (bool, error) {
	return o.intake.ToggleIdentifier(id)
}

func (o *Orchestrator) refreshGauge() {
	o.deps.Metrics.SetTransientRefs(o.deps.Store.Registry().Live())
}

// --- Form ---

// SetField applies a manual edit. "notes" appends to the free-text notes.
func (o *Orchestrator) SetField(name, value string) (vehicle.Field, error) {
	if name == "notes" || name == "note" {
		o.attrs.AppendNotes(value)
		return "", nil
	}
	field, ok := vehicle.ParseField(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	o.reconciler.SetManual(o.attrs, field, value)
	if field == vehicle.FieldPrice {
		o.priceEdited()
	}
	return field, nil
}

// SetPrice sets the asking price and refreshes the pricing.
func (o *Orchestrator) SetPrice(price int) error {
	if price <= 0 {
		return fmt.Errorf("price must be positive")
	}
	o.reconciler.SetManual(o.attrs, vehicle.FieldPrice, fmt.Sprint(price))
	o.priceEdited()
	return nil
}

// priceEdited refreshes pricing after a manual price change. A breakdown
// based on the market average is kept.
func (o *Orchestrator) priceEdited() {
	o.tier = ""
	if o.breakdown == nil || o.breakdown.BaseSource() == pricing.BaseAskingPrice {
		o.reprice()
	}
	o.classify()
}

// SelectTier picks one of the price tiers as the asking price.
func (o *Orchestrator) SelectTier(name string) (int, error) {
	tier, ok := pricing.ParseTier(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTier, name)
	}
	if o.breakdown == nil {
		return 0, ErrNoPricing
	}
	price := o.breakdown.Tiers().Price(tier)
	o.tier = tier
	o.reconciler.SetManual(o.attrs, vehicle.FieldPrice, fmt.Sprint(price))
	o.classify()
	return price, nil
}

// SetLocation sets the location used for market lookups.
func (o *Orchestrator) SetLocation(location string) {
	o.opts.Location = location
}

// ResolveConflict dismisses the open conflicts on a field.
func (o *Orchestrator) ResolveConflict(field vehicle.Field) {
	o.reconciler.Resolve(field)
}

// reprice builds a fresh breakdown from the current inputs. Without a
// base value the previous breakdown is dropped.
func (o *Orchestrator) reprice() {
	in := pricing.Input{
		AskingPrice:   o.attrs.Int(vehicle.FieldPrice),
		MarketAverage: o.marketAverage(),
		TitleStatus:   o.attrs.Text(vehicle.FieldTitleStatus),
		Trim:          o.attrs.Text(vehicle.FieldTrim),
		Mileage:       o.attrs.Int(vehicle.FieldMileage),
		FeatureCount:  len(o.attrs.Features),
	}
	if o.analysis != nil {
		in.External = o.analysis.Pricing
	}
	b, err := o.deps.Pricing.Synthesize(in)
	if err != nil {
		o.breakdown = nil
		return
	}
	o.breakdown = &b
	if b.BaseSource() == pricing.BaseAskingPrice {
		o.deps.Metrics.Fallback("asking_price_base")
	}
}

func (o *Orchestrator) marketAverage() int {
	if o.market != nil && o.market.Average > 0 {
		return o.market.Average
	}
	if o.analysis != nil {
		return o.analysis.MarketAverage
	}
	return 0
}

// classify refreshes the advisory warning. It never touches the price.
func (o *Orchestrator) classify() {
	price := o.attrs.Int(vehicle.FieldPrice)
	o.warning = pricing.Classify(price, o.marketAverage())
	if o.warning.Level == pricing.WarningNone && price > 0 && o.analysis != nil && o.analysis.Warning != "" {
		o.warning = pricing.Warning{Level: o.analysis.Warning}
	}
}

// --- Dictation ---

// StartDictation begins recording from rec.
func (o *Orchestrator) StartDictation(ctx context.Context, rec dictation.Recorder) error {
	if o.closed {
		return ErrClosed
	}
	return o.bridge.Start(ctx, rec)
}

// StopDictation ends the recording and transcribes it in the background.
func (o *Orchestrator) StopDictation() error {
	epoch := o.epoch
	o.wg.Add(1)
	err := o.bridge.Stop(o.ctx, o.attrs.Snapshot(), func(res dictation.Result) {
		defer o.wg.Done()
		o.emit(DictationDone{Epoch: epoch, Result: res})
	})
	if err != nil {
		o.wg.Done()
		return err
	}
	return nil
}

// DictateClip transcribes audio that was recorded elsewhere, such as a
// voice note.
func (o *Orchestrator) DictateClip(ctx context.Context, clip dictation.Audio) error {
	if err := o.StartDictation(ctx, dictation.NewClipRecorder(clip)); err != nil {
		return err
	}
	return o.StopDictation()
}

func (o *Orchestrator) CancelDictation() {
	o.bridge.Cancel()
}

func (o *Orchestrator) DictationState() dictation.State {
	return o.bridge.State()
}

func (o *Orchestrator) applyDictation(e DictationDone) Notice {
	if !o.bridge.Complete(e.Result) {
		return Notice{}
	}
	res := e.Result
	if res.Err != nil {
		o.deps.Metrics.CollaboratorFailed("transcription")
		log.Warn().Err(res.Err).Int64("userId", o.opts.UserID).Msg("dictation failed")
		return Notice{Kind: NoticeDictationFailed, Err: res.Err}
	}
	if res.Fallback {
		o.deps.Metrics.CollaboratorFailed("extraction")
		o.deps.Metrics.Fallback("local_extraction")
	}

	conflicts := o.reconciler.Merge(o.attrs, res.Extraction.Candidates, vehicle.SourceDictation)
	reconcile.AppendTranscript(o.attrs, res.Transcript)
	o.attrs.AddFeatures(res.Extraction.Features...)

	log.Info().
		Int64("userId", o.opts.UserID).
		Int("candidates", len(res.Extraction.Candidates)).
		Int("conflicts", len(conflicts)).
		Bool("fallback", res.Fallback).
		Msg("dictation merged")

	return Notice{Kind: NoticeDictation, Conflicts: conflicts, Transcript: res.Transcript}
}

// --- Views ---

// View is a read-only copy of the listing state for rendering.
type View struct {
	Records     []*photo.Record
	Selected    map[string]bool
	Attributes  *vehicle.Attributes
	Conflicts   []reconcile.Conflict
	Breakdown   *pricing.Breakdown
	Warning     pricing.Warning
	Description describe.Description
	Tier        pricing.Tier
	Market      *market.Stats
	VIN         *llm.VINStatus
	Dictation   dictation.State
	Analyzing   bool
	Submitting  bool
}

// Snapshot returns a copy of the state that stays valid after later
// mutations.
func (o *Orchestrator) Snapshot() View {
	v := View{
		Selected:    make(map[string]bool),
		Attributes:  o.attrs.Clone(),
		Conflicts:   o.reconciler.Conflicts(),
		Warning:     o.warning,
		Description: o.description,
		Tier:        o.tier,
		Dictation:   o.bridge.State(),
		Analyzing:   o.analyzing,
		Submitting:  o.submitting,
	}
	for _, rec := range o.intake.Records() {
		v.Records = append(v.Records, rec.Clone())
		if o.intake.IsSelected(rec.ID) {
			v.Selected[rec.ID] = true
		}
	}
	if o.breakdown != nil {
		b := *o.breakdown
		v.Breakdown = &b
	}
	if o.market != nil {
		m := *o.market
		v.Market = &m
	}
	if o.analysis != nil && o.analysis.VIN != nil {
		vin := *o.analysis.VIN
		v.VIN = &vin
	}
	return v
}
