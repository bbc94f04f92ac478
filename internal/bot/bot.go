// Package bot is the Telegram surface of the listing pipeline. Every user
// gets a session with a single worker goroutine that owns the user's
// listing.
package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/raine/vehicle-listing-bot/internal/dictation"
	"github.com/raine/vehicle-listing-bot/internal/intake"
	"github.com/raine/vehicle-listing-bot/internal/pipeline"
	"github.com/raine/vehicle-listing-bot/internal/pricing"
	"github.com/raine/vehicle-listing-bot/internal/vehicle"
)

const DefaultAlbumTimeout = 1500 * time.Millisecond

// BotAPI defines the interface for Telegram bot API operations.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// SettingsStore keeps per-user settings.
type SettingsStore interface {
	GetLocation(telegramID int64) (string, error)
	SetLocation(telegramID int64, location string) error
}

// Config carries the pipeline collaborators shared by all sessions and
// the per-session options.
type Config struct {
	Deps             pipeline.Deps
	Limits           intake.Limits
	DefaultLocation  string
	AnalysisTimeout  time.Duration
	DictationTimeout time.Duration
	AlbumTimeout     time.Duration
}

// Bot is the main Telegram bot handler.
type Bot struct {
	tg         BotAPI
	state      BotState
	settings   SettingsStore
	cfg        Config
	downloader *Downloader
}

// NewBot creates a new Bot instance. settings may be nil.
func NewBot(tg BotAPI, settings SettingsStore, cfg Config) *Bot {
	if cfg.AlbumTimeout <= 0 {
		cfg.AlbumTimeout = DefaultAlbumTimeout
	}
	if cfg.Limits.MaxSelected <= 0 {
		cfg.Limits.MaxSelected = intake.DefaultMaxSelected
	}
	bot := &Bot{
		tg:         tg,
		settings:   settings,
		cfg:        cfg,
		downloader: NewDownloader(),
	}
	bot.state = bot.NewBotState()
	return bot
}

// Shutdown closes every session. Updates arriving afterwards are dropped.
func (b *Bot) Shutdown() {
	b.state.Shutdown()
}

// HandleUpdate is the main message router.
// It dispatches messages to the appropriate session worker for sequential processing.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	b.dispatchUpdate(ctx, update, false)
}

// handleUpdateSync is like HandleUpdate but waits for message processing to complete.
// Used in tests where we need synchronous behavior.
func (b *Bot) handleUpdateSync(ctx context.Context, update tgbotapi.Update) {
	b.dispatchUpdate(ctx, update, true)
}

// dispatchUpdate routes updates to the appropriate session worker.
// If sync is true, it waits for message processing to complete.
func (b *Bot) dispatchUpdate(ctx context.Context, update tgbotapi.Update, sync bool) {
	var userId int64

	switch {
	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		userId = update.CallbackQuery.From.ID
	case update.Message != nil && update.Message.From != nil:
		userId = update.Message.From.ID
	default:
		return
	}

	session, ok := b.state.getUserSession(userId)
	if !ok {
		return
	}

	send := func(msg SessionMessage) {
		if sync {
			session.SendSync(msg)
		} else {
			session.Send(msg)
		}
	}

	if update.CallbackQuery != nil {
		send(SessionMessage{Type: msgCallback, Ctx: ctx, CallbackQuery: update.CallbackQuery})
		return
	}

	message := update.Message
	log.Info().
		Int64("userId", userId).
		Str("text", message.Text).
		Int("photos", len(message.Photo)).
		Bool("document", message.Document != nil).
		Bool("voice", message.Voice != nil).
		Msg("got message")

	switch {
	case len(message.Photo) > 0 || message.Document != nil:
		send(SessionMessage{Type: msgPhoto, Ctx: ctx, Message: message})
	case message.Voice != nil:
		send(SessionMessage{Type: msgVoice, Ctx: ctx, Message: message})
	default:
		send(SessionMessage{Type: msgText, Ctx: ctx, Message: message})
	}
}

// HandleSessionMessage implements MessageHandler interface.
// This is called by the session worker goroutine for sequential processing.
func (b *Bot) HandleSessionMessage(ctx context.Context, session *UserSession, msg SessionMessage) {
	switch msg.Type {
	case msgCallback:
		b.handleCallbackQuery(ctx, session, msg.CallbackQuery)
	case msgPhoto:
		b.handlePhotoMessage(ctx, session, msg.Message)
	case msgVoice:
		b.handleVoiceMessage(ctx, session, msg.Message)
	case msgText:
		b.handleTextMessage(ctx, session, msg.Message)
	case msgAlbumTimeout:
		b.processAlbumTimeout(ctx, session, msg.AlbumBuffer)
	case msgPipeline:
		b.handlePipelineEvent(session, msg.Event)
	case msgClose:
		session.dropAlbum()
		session.stopTyping()
		session.pipeline.Close()
	case msgFlush:
	}
}

// handleTextMessage processes commands and free text.
// Called from session worker - no locking needed.
func (b *Bot) handleTextMessage(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	text := strings.TrimSpace(message.Text)
	if text == "" {
		return
	}
	if !strings.HasPrefix(text, "/") {
		// Free text goes to the notes that feed the description.
		if _, err := session.pipeline.SetField("notes", text); err != nil {
			session.replyWithError(err)
			return
		}
		session.reply(MsgNotesAdded)
		return
	}
	b.handleCommand(ctx, session, text)
}

// handleCommand processes bot commands.
// Called from session worker - no locking needed.
func (b *Bot) handleCommand(ctx context.Context, session *UserSession, text string) {
	command, args := parseCommand(text)
	switch command {
	case "/start", "/help":
		session.reply(MsgStart)
	case "/new":
		b.startOver(session)
		session.reply(MsgNewListing)
	case "/cancel":
		if session.pipeline.DictationState() != dictation.StateIdle {
			session.pipeline.CancelDictation()
			session.reply(MsgDictationCancelled)
			return
		}
		b.startOver(session)
		session._reply(MsgCancelled, true)
	case "/photos":
		b.sendPreview(ctx, session)
	case "/select":
		b.handlePhotoNumberCommand(session, command, args, b.toggleSelected)
	case "/vin":
		b.handlePhotoNumberCommand(session, command, args, b.toggleVIN)
	case "/remove":
		b.handlePhotoNumberCommand(session, command, args, b.removePhoto)
	case "/move":
		b.handleMoveCommand(session, args)
	case "/set":
		b.handleSetCommand(session, args)
	case "/analyze":
		b.handleAnalyzeCommand(ctx, session)
	case "/price":
		b.handlePriceCommand(session, strings.Join(args, " "))
	case "/tier":
		b.handleTierCommand(session, strings.Join(args, " "))
	case "/conflicts":
		b.sendConflicts(session)
	case "/submit":
		b.handleSubmitCommand(ctx, session)
	case "/location":
		b.handleLocationCommand(session, args)
	case "/version":
		session.reply(MsgVersionInfo, Version, BuildTime)
	default:
		session.reply(MsgNotCommand)
	}
}

func (b *Bot) startOver(session *UserSession) {
	session.dropAlbum()
	session.stopTyping()
	session.pipeline.StartOver()
}

// handleCallbackQuery handles inline keyboard button presses.
// Called from session worker - no locking needed.
func (b *Bot) handleCallbackQuery(ctx context.Context, session *UserSession, query *tgbotapi.CallbackQuery) {
	// Answer the callback to remove the loading state
	callback := tgbotapi.NewCallback(query.ID, "")
	if _, err := b.tg.Request(callback); err != nil {
		log.Debug().Err(err).Msg("failed to answer callback")
	}

	kind, arg, _ := strings.Cut(query.Data, ":")
	switch kind {
	case "photo":
		b.handlePhotoCallback(ctx, session, query, arg)
	case "tier":
		b.handleTierCommand(session, arg)
	case "conflict":
		b.handleConflictCallback(session, arg)
	case "analyze":
		b.handleAnalyzeCommand(ctx, session)
	case "submit":
		b.handleSubmitCommand(ctx, session)
	default:
		log.Warn().Str("data", query.Data).Msg("unknown callback")
	}
}

// --- Form commands ---

func fieldNames() string {
	names := make([]string, len(vehicle.Fields))
	for i, f := range vehicle.Fields {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

// handleSetCommand handles /set <field> <value>.
func (b *Bot) handleSetCommand(session *UserSession, args []string) {
	if len(args) < 2 {
		session.reply(MsgSetUsage, fieldNames())
		return
	}
	name, value := args[0], strings.Join(args[1:], " ")
	field, err := session.pipeline.SetField(name, value)
	switch {
	case errors.Is(err, pipeline.ErrUnknownField):
		session.reply(MsgUnknownField, escapeMarkdown(name), fieldNames())
		return
	case err != nil:
		session.replyWithError(err)
		return
	case field == "":
		session.reply(MsgNotesAdded)
		return
	}

	view := session.pipeline.Snapshot()
	session.reply(MsgFieldSet, field.Label(), escapeMarkdown(view.Attributes.Text(field)))
	if field == vehicle.FieldPrice && view.Warning.Message() != "" {
		session.reply(view.Warning.Message())
	}
}

// handlePriceCommand handles /price <amount>.
func (b *Bot) handlePriceCommand(session *UserSession, args string) {
	if strings.TrimSpace(args) == "" {
		session.reply(MsgPriceUsage)
		return
	}
	price, err := parsePriceMessage(args)
	if err != nil || price <= 0 {
		session.reply(MsgPriceInvalid, escapeMarkdown(args))
		return
	}
	if err := session.pipeline.SetPrice(price); err != nil {
		session.replyWithError(err)
		return
	}

	session.reply(MsgPriceSet, pricing.FormatPrice(price))
	view := session.pipeline.Snapshot()
	if view.Breakdown != nil {
		session.reply(formatBreakdown(view))
	} else if msg := view.Warning.Message(); msg != "" {
		session.reply(msg)
	}
}

// handleTierCommand handles /tier <name> and the tier buttons.
func (b *Bot) handleTierCommand(session *UserSession, name string) {
	if strings.TrimSpace(name) == "" {
		session.reply(MsgTierUsage)
		return
	}
	price, err := session.pipeline.SelectTier(name)
	switch {
	case errors.Is(err, pipeline.ErrUnknownTier):
		session.reply(MsgTierUsage)
		return
	case errors.Is(err, pipeline.ErrNoPricing):
		session.reply(MsgNoPricing)
		return
	case err != nil:
		session.replyWithError(err)
		return
	}
	tier, _ := pricing.ParseTier(name)
	session.reply(MsgTierSet, strings.ToLower(tier.Label()), pricing.FormatPrice(price))
	if msg := session.pipeline.Snapshot().Warning.Message(); msg != "" {
		session.reply(msg)
	}
}

// sendConflicts lists the open conflicts with a button per field.
func (b *Bot) sendConflicts(session *UserSession) {
	conflicts := session.pipeline.Snapshot().Conflicts
	if len(conflicts) == 0 {
		session.reply(MsgNoConflicts)
		return
	}
	session.replyWithKeyboard(MsgConflictsHead+"\n\n"+formatConflicts(conflicts), makeConflictKeyboard(conflicts))
}

func (b *Bot) handleConflictCallback(session *UserSession, name string) {
	field, ok := vehicle.ParseField(name)
	if !ok {
		return
	}
	session.pipeline.ResolveConflict(field)
	session.reply(MsgConflictKept, strings.ToLower(field.Label()))
}

// handleLocationCommand handles /location [zip].
func (b *Bot) handleLocationCommand(session *UserSession, args []string) {
	if len(args) == 0 {
		current := b.cfg.DefaultLocation
		if b.settings != nil {
			stored, err := b.settings.GetLocation(session.userId)
			if err != nil {
				session.replyWithError(err)
				return
			}
			if stored != "" {
				current = stored
			}
		}
		if current == "" {
			session.reply(MsgLocationNone)
			return
		}
		session.reply(MsgLocationShow, current)
		return
	}

	zip := strings.TrimSpace(args[0])
	if !isValidZIP(zip) {
		session.reply(MsgLocationBad)
		return
	}
	if b.settings != nil {
		if err := b.settings.SetLocation(session.userId, zip); err != nil {
			session.replyWithError(err)
			return
		}
	}
	session.pipeline.SetLocation(zip)
	session.reply(MsgLocationSet, zip)
}

// --- Analysis and submit ---

func (b *Bot) handleAnalyzeCommand(ctx context.Context, session *UserSession) {
	view := session.pipeline.Snapshot()
	if len(view.Records) == 0 {
		session.reply(MsgNoPhotosYet)
		return
	}
	if err := session.pipeline.RequestAnalysis(ctx); err != nil {
		session.replyWithError(err)
		return
	}
	session.startTyping()
	session.reply(MsgAnalyzing)
}

func (b *Bot) handleSubmitCommand(ctx context.Context, session *UserSession) {
	err := session.pipeline.Submit(ctx)
	switch {
	case errors.Is(err, pipeline.ErrNoPhotos):
		session.reply(MsgSubmitNoPhotos)
		return
	case errors.Is(err, pipeline.ErrNoPrice):
		session.reply(MsgSubmitNoPrice)
		return
	case errors.Is(err, pipeline.ErrSubmitPending):
		session.reply(MsgSubmitInProgress)
		return
	case err != nil:
		session.replyWithError(err)
		return
	}
	session.startTyping()
	session.reply(MsgSubmitting)
}
