package bot

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/raine/vehicle-listing-bot/internal/dictation"
	"github.com/raine/vehicle-listing-bot/internal/pipeline"
	"github.com/raine/vehicle-listing-bot/internal/pricing"
)

// handlePipelineEvent applies a background result to the listing and
// tells the user what changed.
// Called from session worker - no locking needed.
func (b *Bot) handlePipelineEvent(session *UserSession, ev pipeline.Event) {
	n := session.pipeline.Apply(ev)

	switch n.Kind {
	case pipeline.NoticeNone:
		return

	case pipeline.NoticePhotosReady:
		if n.Corrupted > 0 {
			session.reply(MsgPhotosCorrupted, pluralize("photo", "photos", n.Corrupted))
		}
		session.reply(MsgPhotosReady)

	case pipeline.NoticeAnalysisReady:
		session.stopTyping()
		for _, w := range n.Warnings {
			session.reply(MsgAnalysisWarnings, w)
		}
		view := session.pipeline.Snapshot()
		session.replyWithKeyboard(formatSummary(view), makeListingKeyboard(view))
		if len(n.Conflicts) > 0 {
			b.sendConflicts(session)
		}

	case pipeline.NoticeMarketReady:
		for _, w := range n.Warnings {
			session.reply(MsgAnalysisWarnings, w)
		}
		view := session.pipeline.Snapshot()
		if view.Breakdown != nil {
			session.replyWithKeyboard(formatSummary(view), makeListingKeyboard(view))
		}

	case pipeline.NoticeDictation:
		if n.Transcript != "" {
			session.reply(MsgDictationHeard, escapeMarkdown(n.Transcript))
		}
		view := session.pipeline.Snapshot()
		session.replyWithKeyboard(formatSummary(view), makeListingKeyboard(view))
		if len(n.Conflicts) > 0 {
			b.sendConflicts(session)
		}

	case pipeline.NoticeDictationFailed:
		var permErr *dictation.PermissionError
		if errors.As(n.Err, &permErr) {
			session.reply(permErr.Remediation())
			return
		}
		session.reply(MsgDictationFailed, escapeMarkdown(n.Err.Error()))

	case pipeline.NoticeSubmitted:
		session.stopTyping()
		session.reply(MsgSubmitted, escapeMarkdown(n.Listing.Title), pricing.FormatPrice(n.Listing.Price))
		if n.Fallbacks > 0 {
			session.reply(MsgSubmittedInline, pluralize("photo", "photos", n.Fallbacks))
		}
		log.Info().Int64("userId", session.userId).Str("listingID", n.Listing.ID).Msg("listing delivered, starting over")
		b.startOver(session)
		session.reply(MsgNewListing)

	case pipeline.NoticeSubmitFailed:
		session.stopTyping()
		session.reply(MsgSubmitFailed, escapeMarkdown(n.Err.Error()))
	}
}
