package bot

// =============================================================================
// General messages
// =============================================================================

const (
	MsgUnexpectedErr = `Unexpected error: %s`
	MsgStart         = `
		Send photos of the vehicle to start a listing. Albums and image files work too.

		/photos shows the photos and lets you pick the ones to analyze
		/analyze reads the photos and suggests prices
		/set <field> <value> edits a field, e.g. /set mileage 84000
		/price <amount> sets the asking price
		/submit publishes the listing
		/new starts over

		Send a voice note to dictate details about the vehicle.`
	MsgNewListing  = "Started a new listing. Send photos to begin."
	MsgCancelled   = "Listing discarded."
	MsgNotCommand  = "Unknown command. Send /start for help."
	MsgNotesAdded  = "Added to the notes."
	MsgNoPhotosYet = "No photos yet. Send photos first."
	MsgVersionInfo = "Version: %s\nBuilt: %s"
)

// =============================================================================
// Photo messages
// =============================================================================

const (
	MsgPhotosAdded       = "📷 %s. %d in the listing."
	MsgPhotoRejected     = "⚠️ %s"
	MsgPhotoDownloadFail = "⚠️ Could not download %s: %s"
	MsgPhotosReady       = "Photos are ready. Send /analyze when you have them all."
	MsgPhotosCorrupted   = "⚠️ %s could not be read and will be left out."
	MsgPreviewCaption    = "Photos %s. Tap a number to toggle it for analysis."
	MsgPreviewHealed     = "%s had to be repaired."
	MsgPreviewEmpty      = "None of the photos can be shown."
	MsgPhotoUsage        = "Usage: %s <photo number>"
	MsgMoveUsage         = "Usage: /move <from> <to>"
	MsgPhotoSelected     = "Photo %d selected for analysis."
	MsgPhotoDeselected   = "Photo %d no longer selected."
	MsgPhotoVIN          = "Photo %d marked as showing the VIN."
	MsgPhotoNotVIN       = "Photo %d no longer marked as showing the VIN."
	MsgPhotoMoved        = "Moved photo %d to position %d."
	MsgPhotoRemoved      = "Removed photo %d."
	MsgSelectionFull     = "At most %d photos can be selected."
	MsgPhotoNotFound     = "There is no photo %d."
	MsgPhotoGone         = "That photo is no longer in the listing."
)

// =============================================================================
// Analysis and pricing messages
// =============================================================================

const (
	MsgAnalyzing        = "🔎 Analyzing the photos..."
	MsgAnalysisWarnings = "⚠️ %s"
	MsgPriceUsage       = "Usage: /price <amount>, e.g. /price 18500"
	MsgPriceInvalid     = "Could not read a price from \"%s\"."
	MsgPriceSet         = "Asking price set to %s."
	MsgTierUsage        = "Usage: /tier quick|market|premium"
	MsgTierSet          = "Using the %s price of %s."
	MsgNoPricing        = "No price tiers yet. Run /analyze or set a price with /price."
)

// =============================================================================
// Form messages
// =============================================================================

const (
	MsgSetUsage      = "Usage: /set <field> <value>\nFields: %s, notes"
	MsgUnknownField  = "Unknown field \"%s\".\nFields: %s, notes"
	MsgFieldSet      = "%s set to %s."
	MsgNoConflicts   = "No conflicting values."
	MsgConflictsHead = "*Conflicting values*\nTap a field to keep its current value."
	MsgConflictKept  = "Keeping the current %s."
	MsgLocationShow  = "Your location is *%s*."
	MsgLocationNone  = "No location set. Use /location <zip code>."
	MsgLocationBad   = "A ZIP code is 5 digits, e.g. 98101."
	MsgLocationSet   = "✅ Location set to %s."
)

// =============================================================================
// Dictation messages
// =============================================================================

const (
	MsgTranscribing       = "🎙 Transcribing..."
	MsgDictationBusy      = "Still transcribing the previous voice note."
	MsgDictationFailed    = "Could not transcribe the voice note: %s"
	MsgDictationHeard     = "🎙 _%s_"
	MsgDictationCancelled = "Dictation cancelled."
)

// =============================================================================
// Submit messages
// =============================================================================

const (
	MsgSubmitting       = "📤 Submitting the listing..."
	MsgSubmitted        = "✅ Listing *%s* submitted for %s."
	MsgSubmittedInline  = "%s stored inline because the upload failed."
	MsgSubmitFailed     = "Submitting failed: %s"
	MsgSubmitNoPhotos   = "Add at least one usable photo before submitting."
	MsgSubmitNoPrice    = "Set a price with /price or pick a tier before submitting."
	MsgSubmitInProgress = "The listing is already being submitted."
)

// =============================================================================
// Buttons
// =============================================================================

const (
	BtnSubmit     = "📤 Submit"
	BtnAnalyze    = "🔎 Analyze"
	BtnKeepPrefix = "Keep "
)
