package pipeline

import (
	"time"

	"github.com/raine/vehicle-listing-bot/internal/dictation"
	"github.com/raine/vehicle-listing-bot/internal/llm"
	"github.com/raine/vehicle-listing-bot/internal/market"
	"github.com/raine/vehicle-listing-bot/internal/media"
	"github.com/raine/vehicle-listing-bot/internal/photo"
	"github.com/raine/vehicle-listing-bot/internal/reconcile"
	"github.com/raine/vehicle-listing-bot/internal/storage"
)

// Event is the result of a background task. Events are handed to the
// injected Dispatch function and must be passed back to Apply on the
// goroutine that owns the orchestrator.
type Event interface {
	epoch() int
}

// RefsBuilt carries the references built for one intake record.
type RefsBuilt struct {
	Epoch    int
	RecordID string
	Result   photo.BuildResult
}

// compressed is a smaller payload for a record, valid only while the
// record still holds the payload it was made from.
type compressed struct {
	SourceFingerprint string
	File              media.File
}

// AnalysisDone carries everything one analysis cycle fetched.
type AnalysisDone struct {
	Epoch       int
	Seq         int
	Compressed  map[string]compressed
	Analysis    *llm.AnalysisResult
	AnalysisErr error
	Market      *market.Stats
	MarketErr   error
	// MarketQuery is what the lookup was sent; MarketSkipped is set when
	// it lacked make, model or year.
	MarketQuery   market.Query
	MarketSkipped bool
	Elapsed       time.Duration
}

// MarketDone carries a market lookup made after an analysis filled in
// the vehicle details.
type MarketDone struct {
	Epoch int
	Seq   int
	Query market.Query
	Stats *market.Stats
	Err   error
}

// DictationDone carries a finished transcription.
type DictationDone struct {
	Epoch  int
	Result dictation.Result
}

// SubmitDone reports the persisted listing.
type SubmitDone struct {
	Epoch     int
	Listing   *storage.Listing
	Fallbacks int
	Err       error
}

func (e RefsBuilt) epoch() int     { return e.Epoch }
func (e AnalysisDone) epoch() int  { return e.Epoch }
func (e MarketDone) epoch() int    { return e.Epoch }
func (e DictationDone) epoch() int { return e.Epoch }
func (e SubmitDone) epoch() int    { return e.Epoch }

// NoticeKind tells the UI what changed.
type NoticeKind string

const (
	NoticeNone            NoticeKind = ""
	NoticePhotosReady     NoticeKind = "photos_ready"
	NoticeAnalysisReady   NoticeKind = "analysis_ready"
	NoticeMarketReady     NoticeKind = "market_ready"
	NoticeDictation       NoticeKind = "dictation"
	NoticeDictationFailed NoticeKind = "dictation_failed"
	NoticeSubmitted       NoticeKind = "submitted"
	NoticeSubmitFailed    NoticeKind = "submit_failed"
)

// Notice is what Apply reports back to the UI.
type Notice struct {
	Kind       NoticeKind
	Err        error
	Warnings   []string // degraded collaborators, shown but not fatal
	Conflicts  []reconcile.Conflict
	Transcript string
	Listing    *storage.Listing
	Fallbacks  int // images persisted inline instead of uploaded
	Corrupted  int
}
