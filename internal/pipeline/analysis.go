package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/raine/vehicle-listing-bot/internal/describe"
	"github.com/raine/vehicle-listing-bot/internal/llm"
	"github.com/raine/vehicle-listing-bot/internal/market"
	"github.com/raine/vehicle-listing-bot/internal/media"
	"github.com/raine/vehicle-listing-bot/internal/photo"
	"github.com/raine/vehicle-listing-bot/internal/pricing"
	"github.com/raine/vehicle-listing-bot/internal/reconcile"
	"github.com/raine/vehicle-listing-bot/internal/vehicle"
)

const maxParallelCompressions = 2

// analysisInput is the copy of the state an analysis task works on.
type analysisInput struct {
	epoch      int
	seq        int
	files      map[string]photoCopy
	order      []string
	selected   []string
	attributes map[vehicle.Field]string
	query      market.Query
}

type photoCopy struct {
	file        media.File
	fingerprint string
	identifier  bool
}

// RequestAnalysis compresses the photos and sends the selection to the
// analysis and market services in the background. Without an explicit
// selection the first photos up to the selection limit are used. A newer
// request supersedes one still in flight.
func (o *Orchestrator) RequestAnalysis(ctx context.Context) error {
	if o.closed {
		return ErrClosed
	}
	if o.analysisCancel != nil {
		o.analysisCancel()
	}
	if o.marketCancel != nil {
		o.marketCancel()
		o.marketCancel = nil
	}
	o.analysisSeq++
	o.analyzing = true

	in := analysisInput{
		epoch:      o.epoch,
		seq:        o.analysisSeq,
		files:      make(map[string]photoCopy),
		attributes: o.attrs.Snapshot(),
		query:      o.marketQuery(),
	}
	for _, rec := range o.intake.Renderable() {
		in.order = append(in.order, rec.ID)
		in.files[rec.ID] = photoCopy{file: rec.File(), fingerprint: rec.Fingerprint, identifier: rec.IsIdentifierImage}
	}
	for _, rec := range o.selectionForAnalysis() {
		in.selected = append(in.selected, rec.ID)
	}

	taskCtx, cancel := context.WithTimeout(o.ctx, o.opts.AnalysisTimeout)
	o.analysisCancel = cancel

	log.Info().
		Int64("userId", o.opts.UserID).
		Int("seq", in.seq).
		Int("photos", len(in.order)).
		Int("selected", len(in.selected)).
		Msg("analysis requested")

	o.spawn(func(context.Context) Event {
		defer cancel()
		return o.analyze(taskCtx, in)
	})
	return nil
}

func (o *Orchestrator) marketQuery() market.Query {
	return market.Query{
		Make:     o.attrs.Text(vehicle.FieldMake),
		Model:    o.attrs.Text(vehicle.FieldModel),
		Year:     o.attrs.Int(vehicle.FieldYear),
		Mileage:  o.attrs.Int(vehicle.FieldMileage),
		Location: o.opts.Location,
	}
}

func (o *Orchestrator) selectionForAnalysis() []*photo.Record {
	if selected := o.intake.Selected(); len(selected) > 0 {
		return selected
	}
	renderable := o.intake.Renderable()
	if limit := o.intake.Limits().MaxSelected; len(renderable) > limit {
		renderable = renderable[:limit]
	}
	return renderable
}

// analyze runs on its own goroutine and only touches its input copy.
func (o *Orchestrator) analyze(ctx context.Context, in analysisInput) Event {
	start := time.Now()
	done := AnalysisDone{Epoch: in.epoch, Seq: in.seq, Compressed: o.compressAll(ctx, in)}

	req := llm.AnalysisRequest{Attributes: in.attributes}
	for _, id := range in.selected {
		p := in.files[id]
		f := p.file
		if c, ok := done.Compressed[id]; ok {
			f = c.File
		}
		req.Images = append(req.Images, llm.Image{Data: f.Data, MIMEType: f.MIMEType, Identifier: p.identifier})
	}

	var g errgroup.Group
	if o.deps.Analyzer != nil && len(req.Images) > 0 {
		g.Go(func() error {
			done.Analysis, done.AnalysisErr = o.deps.Analyzer.Analyze(ctx, req)
			return nil
		})
	}
	if o.deps.Market != nil {
		done.MarketQuery = in.query
		g.Go(func() error {
			stats, err := o.deps.Market.Lookup(ctx, in.query)
			if errors.Is(err, market.ErrInsufficientQuery) {
				done.MarketSkipped = true
				return nil
			}
			done.Market, done.MarketErr = stats, err
			return nil
		})
	}
	_ = g.Wait()

	done.Elapsed = time.Since(start)
	return done
}

// compressAll compresses every photo copy, keeping only the ones that got
// smaller.
func (o *Orchestrator) compressAll(ctx context.Context, in analysisInput) map[string]compressed {
	results := make([]*compressed, len(in.order))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelCompressions)
	for i, id := range in.order {
		p := in.files[id]
		g.Go(func() error {
			out := o.deps.Normalizer.Compress(gctx, p.file)
			if out.Changed {
				results[i] = &compressed{SourceFingerprint: p.fingerprint, File: out.File}
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]compressed)
	for i, c := range results {
		if c != nil {
			out[in.order[i]] = *c
		}
	}
	return out
}

func (o *Orchestrator) applyAnalysis(e AnalysisDone) Notice {
	if e.Seq != o.analysisSeq {
		log.Debug().Int("seq", e.Seq).Int("current", o.analysisSeq).Msg("dropping superseded analysis")
		return Notice{}
	}
	o.analyzing = false
	o.analysisCancel = nil
	o.deps.Metrics.ObserveAnalysis(e.Elapsed)

	o.swapCompressed(e.Compressed)

	var n Notice
	n.Kind = NoticeAnalysisReady

	if e.AnalysisErr != nil {
		o.deps.Metrics.CollaboratorFailed("analysis")
		log.Warn().Err(e.AnalysisErr).Int64("userId", o.opts.UserID).Msg("analysis failed, using local results")
		n.Warnings = append(n.Warnings, "Photo analysis is unavailable right now, the listing uses local pricing and description.")
	} else if e.Analysis != nil {
		o.analysis = e.Analysis
		n.Conflicts = o.mergeAnalysis(e.Analysis)
		if e.Analysis.VIN != nil && !e.Analysis.VIN.Valid {
			n.Warnings = append(n.Warnings, "The VIN read from the photos failed its check digit, please verify it.")
		}
	}

	if e.MarketErr != nil {
		o.deps.Metrics.CollaboratorFailed("market")
		log.Warn().Err(e.MarketErr).Int64("userId", o.opts.UserID).Msg("market lookup failed")
		n.Warnings = append(n.Warnings, "Market prices are unavailable right now.")
	} else if !e.Market.Empty() {
		o.market = e.Market
	}

	// The lookup ran on what was known before the analysis. Ask again
	// when the analysis completed or changed the vehicle.
	followUp := false
	if q := o.marketQuery(); o.deps.Market != nil && q.Complete() && (e.MarketSkipped || q != e.MarketQuery) {
		o.lookupMarket(e.Seq, q)
		followUp = true
	}

	o.reprice()
	if o.breakdown == nil && !followUp {
		n.Warnings = append(n.Warnings, "Set an asking price with /price to get price tiers.")
	}
	o.defaultTier()
	o.classify()
	o.compose()

	log.Info().
		Int64("userId", o.opts.UserID).
		Int("seq", e.Seq).
		Dur("elapsed", e.Elapsed).
		Int("compressed", len(e.Compressed)).
		Str("descriptionOrigin", string(o.description.Origin)).
		Msg("analysis applied")
	return n
}

// defaultTier marks the market tier when nothing was priced by hand.
func (o *Orchestrator) defaultTier() {
	if o.breakdown != nil && o.tier == "" && o.attrs.Int(vehicle.FieldPrice) == 0 {
		o.tier = pricing.TierMarket
	}
}

// lookupMarket fetches market statistics for q in the background. The
// result belongs to analysis seq and is dropped once that is superseded.
func (o *Orchestrator) lookupMarket(seq int, q market.Query) {
	ctx, cancel := context.WithTimeout(o.ctx, o.opts.AnalysisTimeout)
	o.marketCancel = cancel
	epoch := o.epoch

	log.Info().
		Int64("userId", o.opts.UserID).
		Int("seq", seq).
		Str("make", q.Make).
		Str("model", q.Model).
		Int("year", q.Year).
		Msg("market lookup with analyzed vehicle")

	o.spawn(func(context.Context) Event {
		defer cancel()
		stats, err := o.deps.Market.Lookup(ctx, q)
		return MarketDone{Epoch: epoch, Seq: seq, Query: q, Stats: stats, Err: err}
	})
}

func (o *Orchestrator) applyMarket(e MarketDone) Notice {
	if e.Seq != o.analysisSeq {
		log.Debug().Int("seq", e.Seq).Int("current", o.analysisSeq).Msg("dropping superseded market lookup")
		return Notice{}
	}
	o.marketCancel = nil

	n := Notice{Kind: NoticeMarketReady}
	switch {
	case e.Err != nil:
		o.deps.Metrics.CollaboratorFailed("market")
		log.Warn().Err(e.Err).Int64("userId", o.opts.UserID).Msg("market lookup failed")
		n.Warnings = append(n.Warnings, "Market prices are unavailable right now.")
	case e.Stats.Empty():
		log.Debug().Int64("userId", o.opts.UserID).Msg("no market data for vehicle")
	default:
		o.market = e.Stats
		o.reprice()
		o.defaultTier()
		o.classify()
		log.Info().
			Int64("userId", o.opts.UserID).
			Int("average", e.Stats.Average).
			Msg("market stats applied")
	}

	if o.breakdown == nil {
		n.Warnings = append(n.Warnings, "Set an asking price with /price to get price tiers.")
	} else if e.Err == nil && e.Stats.Empty() {
		return Notice{}
	}
	return n
}

// swapCompressed installs compressed payloads on records that still hold
// the payload the compression was made from.
func (o *Orchestrator) swapCompressed(results map[string]compressed) {
	updates := make(map[string]media.File, len(results))
	for id, c := range results {
		rec, ok := o.intake.Get(id)
		if !ok || rec.Fingerprint != c.SourceFingerprint {
			continue
		}
		updates[id] = c.File
	}
	if len(updates) == 0 {
		return
	}
	released := o.deps.Store.SwapPayloads(o.ctx, o.intake.Records(), updates)
	o.refreshGauge()
	log.Debug().Int("swapped", len(updates)).Int("released", released).Msg("swapped compressed photos")
}

// mergeAnalysis applies decoded VIN data over everything else and vision
// detections only where nothing is known yet.
func (o *Orchestrator) mergeAnalysis(res *llm.AnalysisResult) []reconcile.Conflict {
	var conflicts []reconcile.Conflict
	if res.VIN != nil && res.VIN.VIN != "" {
		decoded := reconcile.Candidates{vehicle.FieldVIN: res.VIN.VIN}
		for f, v := range res.VIN.Decoded {
			decoded[f] = v
		}
		conflicts = append(conflicts, o.reconciler.Merge(o.attrs, decoded, vehicle.SourceIdentifierDecode)...)
	}
	if len(res.Detected) > 0 {
		o.reconciler.Merge(o.attrs, res.Detected, vehicle.SourceDerived)
	}
	o.attrs.AddFeatures(res.Features...)
	return conflicts
}

// compose refreshes the generated description.
func (o *Orchestrator) compose() {
	var cands describe.Candidates
	if o.analysis != nil {
		cands = describe.Candidates{Narrative: o.analysis.Narrative, RawAnalysis: o.analysis.RawText}
	}
	desc, err := o.deps.Composer.Compose(cands, o.attrs)
	if err != nil {
		log.Error().Err(err).Msg("failed to compose description")
		return
	}
	if desc.Origin == describe.OriginTemplate {
		o.deps.Metrics.Fallback("template_description")
	}
	o.description = desc
}
