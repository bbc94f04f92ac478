package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/raine/vehicle-listing-bot/internal/pipeline"
)

// Session message types.
const (
	msgCallback     = "callback"
	msgPhoto        = "photo"
	msgVoice        = "voice"
	msgText         = "text"
	msgAlbumTimeout = "album_timeout"
	msgPipeline     = "pipeline_event"
	msgClose        = "close"
	msgFlush        = "flush"
)

// SessionMessage represents a message to be processed by the session worker.
type SessionMessage struct {
	Type string
	Ctx  context.Context
	Done chan struct{} // Closed when processing is complete (for synchronous dispatch)

	// Message data (only one is set based on Type)
	Message       *tgbotapi.Message
	CallbackQuery *tgbotapi.CallbackQuery
	Text          string
	AlbumBuffer   *AlbumBuffer
	Event         pipeline.Event
}

// MessageSender abstracts the ability to send Telegram messages.
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// AlbumPhoto is one image from a Telegram album or a single upload.
type AlbumPhoto struct {
	FileID   string
	Name     string
	MIMEType string
}

// AlbumBuffer collects photos from a Telegram album (MediaGroup) before processing.
type AlbumBuffer struct {
	MediaGroupID  string
	Photos        []AlbumPhoto
	Timer         *time.Timer
	FirstReceived time.Time
}

// MessageHandler is the interface for processing session messages.
type MessageHandler interface {
	HandleSessionMessage(ctx context.Context, session *UserSession, msg SessionMessage)
}

// UserSession represents a user's session with the bot.
//
// Threading model:
//   - Each session has a dedicated worker goroutine that processes messages sequentially
//   - The pipeline orchestrator and every other field below the worker
//     section are only touched from the worker
//   - Background pipeline tasks reach the worker through Send
type UserSession struct {
	userId int64
	sender MessageSender

	// Worker channel for sequential message processing
	inbox   chan SessionMessage
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	handler MessageHandler // Set after construction to avoid circular deps

	pipeline     *pipeline.Orchestrator
	album        *AlbumBuffer
	typingCancel context.CancelFunc
	closeOnce    sync.Once
}

// dispatch hands a pipeline event to the worker. It is the orchestrator's
// dispatch function and runs on background goroutines.
func (s *UserSession) dispatch(ev pipeline.Event) {
	s.Send(SessionMessage{Type: msgPipeline, Ctx: s.ctx, Event: ev})
}

// bufferAlbumPhoto adds a photo to the album buffer and schedules
// processing. A photo from a different album flushes the previous one.
func (s *UserSession) bufferAlbumPhoto(photo AlbumPhoto, mediaGroupID string, timeout time.Duration, flush func([]AlbumPhoto)) {
	buffer := s.album
	if buffer == nil || buffer.MediaGroupID != mediaGroupID {
		if buffer != nil && len(buffer.Photos) > 0 {
			if buffer.Timer != nil {
				buffer.Timer.Stop()
			}
			flush(buffer.Photos)
		}
		buffer = &AlbumBuffer{
			MediaGroupID:  mediaGroupID,
			FirstReceived: time.Now(),
		}
		s.album = buffer
	}

	buffer.Photos = append(buffer.Photos, photo)

	if buffer.Timer != nil {
		buffer.Timer.Stop()
	}
	captured := buffer
	buffer.Timer = time.AfterFunc(timeout, func() {
		s.Send(SessionMessage{Type: msgAlbumTimeout, Ctx: s.ctx, AlbumBuffer: captured})
	})
}

// takeAlbum returns the photos of buffer if it is still the active album
// and clears it. Stale or empty buffers return nil.
func (s *UserSession) takeAlbum(buffer *AlbumBuffer) []AlbumPhoto {
	if s.album != buffer || buffer == nil {
		return nil
	}
	s.album = nil
	return buffer.Photos
}

func (s *UserSession) dropAlbum() {
	if s.album != nil && s.album.Timer != nil {
		s.album.Timer.Stop()
	}
	s.album = nil
}

// startTyping shows the typing indicator until stopTyping is called.
func (s *UserSession) startTyping() {
	s.stopTyping()
	ctx, cancel := context.WithCancel(s.ctx)
	s.typingCancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.startTypingLoop(ctx)
	}()
}

func (s *UserSession) stopTyping() {
	if s.typingCancel != nil {
		s.typingCancel()
		s.typingCancel = nil
	}
}

func (s *UserSession) replyWithError(err error) tgbotapi.Message {
	log.Error().Stack().Err(err).Int64("userId", s.userId).Send()
	return s._reply(formatReplyText(MsgUnexpectedErr, escapeMarkdown(err.Error())), false)
}

// sendTypingAction sends a "typing" chat action to show the user that the bot is processing.
// The typing indicator automatically expires after ~5 seconds in Telegram.
func (s *UserSession) sendTypingAction() {
	action := tgbotapi.NewChatAction(s.userId, tgbotapi.ChatTyping)
	// Use Request instead of Send because sendChatAction returns a boolean, not a Message
	_, err := s.sender.Request(action)
	if err != nil {
		log.Debug().Err(err).Int64("userId", s.userId).Msg("failed to send typing action")
	}
}

// startTypingLoop sends a typing action every 4 seconds until the context is cancelled.
func (s *UserSession) startTypingLoop(ctx context.Context) {
	s.sendTypingAction()

	ticker := time.NewTicker(4 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sendTypingAction()
		}
	}
}

func (s *UserSession) replyWithMessage(msg tgbotapi.Chattable) tgbotapi.Message {
	sent, err := s.sender.Send(msg)
	if err != nil {
		log.Error().Stack().
			Int64("userId", s.userId).
			Err(fmt.Errorf("failed to send reply message: %w", err)).Send()
	} else {
		log.Debug().Int64("userId", s.userId).Int("messageID", sent.MessageID).Msg("sent message")
	}
	return sent
}

func (s *UserSession) _reply(text string, removeReplyKeyboard bool) tgbotapi.Message {
	msg := tgbotapi.NewMessage(s.userId, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if removeReplyKeyboard {
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	}
	return s.replyWithMessage(msg)
}

func (s *UserSession) reply(text string, a ...any) tgbotapi.Message {
	return s._reply(formatReplyText(text, a...), false)
}

// replyWithKeyboard sends text with an inline keyboard below it.
func (s *UserSession) replyWithKeyboard(text string, keyboard tgbotapi.InlineKeyboardMarkup) tgbotapi.Message {
	msg := tgbotapi.NewMessage(s.userId, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if len(keyboard.InlineKeyboard) > 0 {
		msg.ReplyMarkup = keyboard
	}
	return s.replyWithMessage(msg)
}

// --- Worker methods ---

// StartWorker starts the session's message processing worker goroutine.
// Must be called after setting the handler.
func (s *UserSession) StartWorker() {
	s.wg.Add(1)
	go s.runWorker()
}

// SetHandler sets the message handler for this session.
func (s *UserSession) SetHandler(handler MessageHandler) {
	s.handler = handler
}

// runWorker is the main worker loop that processes messages sequentially.
func (s *UserSession) runWorker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			// Drain any remaining messages and signal completion
			for {
				select {
				case msg := <-s.inbox:
					if msg.Done != nil {
						close(msg.Done)
					}
				default:
					return
				}
			}
		case msg := <-s.inbox:
			s.processMessage(msg)
		}
	}
}

// processMessage handles a single message from the inbox.
func (s *UserSession) processMessage(msg SessionMessage) {
	defer func() {
		// Recover from any panics to keep the worker running
		if r := recover(); r != nil {
			log.Error().
				Int64("userId", s.userId).
				Str("type", msg.Type).
				Interface("panic", r).
				Msg("recovered from panic in session worker")
		}
		if msg.Done != nil {
			close(msg.Done)
		}
	}()

	if s.handler == nil {
		log.Error().Int64("userId", s.userId).Msg("session handler not set")
		return
	}

	ctx := msg.Ctx
	if ctx == nil {
		ctx = s.ctx
	}
	s.handler.HandleSessionMessage(ctx, s, msg)
}

// Send queues a message for processing by the worker.
// It blocks only while the inbox is full.
func (s *UserSession) Send(msg SessionMessage) {
	select {
	case s.inbox <- msg:
	case <-s.ctx.Done():
		if msg.Done != nil {
			close(msg.Done)
		}
	}
}

// SendSync queues a message and waits for it to be processed, or for the
// session to stop.
func (s *UserSession) SendSync(msg SessionMessage) {
	msg.Done = make(chan struct{})
	s.Send(msg)
	select {
	case <-msg.Done:
	case <-s.ctx.Done():
	}
}

// Close shuts the listing down on the worker, waits for its background
// tasks while the worker keeps applying their late events, then stops the
// worker.
func (s *UserSession) Close() {
	s.closeOnce.Do(func() {
		s.SendSync(SessionMessage{Type: msgClose})
		if s.pipeline != nil {
			s.pipeline.Wait()
		}
		// Everything the tasks dispatched is queued ahead of this one.
		s.SendSync(SessionMessage{Type: msgFlush})
		s.Stop()
	})
}

// Stop stops the worker and waits for it to finish.
func (s *UserSession) Stop() {
	s.cancel()
	s.wg.Wait()
}
