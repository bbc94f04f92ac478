package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/raine/vehicle-listing-bot/internal/dictation"
	"github.com/raine/vehicle-listing-bot/internal/intake"
	"github.com/raine/vehicle-listing-bot/internal/media"
	"github.com/raine/vehicle-listing-bot/internal/pipeline"
)

const maxParallelDownloads = 3

// albumPhotoFromMessage picks the largest photo size, or the attached
// document.
func albumPhotoFromMessage(message *tgbotapi.Message) (AlbumPhoto, bool) {
	if n := len(message.Photo); n > 0 {
		largest := message.Photo[n-1]
		return AlbumPhoto{
			FileID:   largest.FileID,
			Name:     fmt.Sprintf("photo_%d.jpg", message.MessageID),
			MIMEType: "image/jpeg",
		}, true
	}
	if doc := message.Document; doc != nil {
		name := doc.FileName
		if name == "" {
			name = fmt.Sprintf("file_%d", message.MessageID)
		}
		return AlbumPhoto{FileID: doc.FileID, Name: name, MIMEType: doc.MimeType}, true
	}
	return AlbumPhoto{}, false
}

// handlePhotoMessage processes photos and files. Album photos are
// buffered so the album is validated as one batch.
// Called from session worker - no locking needed.
func (b *Bot) handlePhotoMessage(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	photo, ok := albumPhotoFromMessage(message)
	if !ok {
		return
	}
	if message.MediaGroupID != "" {
		session.bufferAlbumPhoto(photo, message.MediaGroupID, b.cfg.AlbumTimeout, func(photos []AlbumPhoto) {
			b.addPhotos(ctx, session, photos)
		})
		return
	}
	b.addPhotos(ctx, session, []AlbumPhoto{photo})
}

// processAlbumTimeout handles the album timer firing.
// Called from session worker - no locking needed.
func (b *Bot) processAlbumTimeout(ctx context.Context, session *UserSession, buffer *AlbumBuffer) {
	photos := session.takeAlbum(buffer)
	if len(photos) == 0 {
		return
	}
	log.Info().
		Int64("userId", session.userId).
		Int("photos", len(photos)).
		Dur("collected", time.Since(buffer.FirstReceived)).
		Msg("processing album")
	b.addPhotos(ctx, session, photos)
}

// addPhotos downloads the photos and hands them to the pipeline as one
// batch. Download failures are reported per photo.
func (b *Bot) addPhotos(ctx context.Context, session *UserSession, photos []AlbumPhoto) {
	files := make([]media.File, len(photos))
	failures := make([]error, len(photos))

	var g errgroup.Group
	g.SetLimit(maxParallelDownloads)
	for i, p := range photos {
		g.Go(func() error {
			data, err := b.downloader.DownloadFileID(ctx, b.tg.GetFileDirectURL, p.FileID)
			if err != nil {
				failures[i] = err
				return nil
			}
			files[i] = media.File{Name: p.Name, MIMEType: p.MIMEType, Data: data}
			return nil
		})
	}
	_ = g.Wait()

	var downloaded []media.File
	for i, err := range failures {
		if err != nil {
			log.Warn().Err(err).Int64("userId", session.userId).Str("name", photos[i].Name).Msg("photo download failed")
			session.reply(MsgPhotoDownloadFail, escapeMarkdown(photos[i].Name), escapeMarkdown(err.Error()))
			continue
		}
		downloaded = append(downloaded, files[i])
	}
	if len(downloaded) == 0 {
		return
	}

	report := session.pipeline.AddFiles(ctx, downloaded)
	total := len(session.pipeline.Snapshot().Records)
	lines := []string{formatReplyText(MsgPhotosAdded, report.Summary(), total)}
	for _, msg := range report.Messages() {
		lines = append(lines, formatReplyText(MsgPhotoRejected, escapeMarkdown(msg)))
	}
	session.reply(strings.Join(lines, "\n"))
}

// handleVoiceMessage transcribes a voice note into the form.
func (b *Bot) handleVoiceMessage(ctx context.Context, session *UserSession, message *tgbotapi.Message) {
	voice := message.Voice
	data, err := b.downloader.DownloadFileID(ctx, b.tg.GetFileDirectURL, voice.FileID)
	if err != nil {
		session.replyWithError(err)
		return
	}
	mimeType := voice.MimeType
	if mimeType == "" {
		mimeType = "audio/ogg"
	}

	err = session.pipeline.DictateClip(ctx, dictation.Audio{
		Data:     data,
		MIMEType: mimeType,
		Duration: time.Duration(voice.Duration) * time.Second,
	})
	var permErr *dictation.PermissionError
	switch {
	case errors.Is(err, dictation.ErrBusy):
		session.reply(MsgDictationBusy)
		return
	case errors.As(err, &permErr):
		session.reply(permErr.Remediation())
		return
	case err != nil:
		session.replyWithError(err)
		return
	}
	session.reply(MsgTranscribing)
}

// sendPreview sends the contact sheet with the photo keyboard.
func (b *Bot) sendPreview(ctx context.Context, session *UserSession) {
	if len(session.pipeline.Snapshot().Records) == 0 {
		session.reply(MsgNoPhotosYet)
		return
	}
	preview, err := session.pipeline.Preview(ctx)
	if err != nil {
		session.replyWithError(err)
		return
	}
	if preview.Healed > 0 {
		session.reply(MsgPreviewHealed, pluralize("photo", "photos", preview.Healed))
	}
	if len(preview.Image) == 0 {
		session.reply(MsgPreviewEmpty)
		return
	}

	msg := tgbotapi.NewPhoto(session.userId, tgbotapi.FileBytes{Name: "photos.jpg", Bytes: preview.Image})
	msg.Caption = fmt.Sprintf(MsgPreviewCaption, photoList(preview.Indices))
	msg.ReplyMarkup = makePhotoKeyboard(session.pipeline.Snapshot())
	session.replyWithMessage(msg)
}

// handlePhotoNumberCommand resolves "/cmd n" to a photo and runs action.
func (b *Bot) handlePhotoNumberCommand(session *UserSession, command string, args []string, action func(*UserSession, string, int)) {
	if len(args) != 1 {
		session.reply(MsgPhotoUsage, command)
		return
	}
	index, ok := parsePhotoNumber(args[0])
	if !ok {
		session.reply(MsgPhotoUsage, command)
		return
	}
	id, err := session.pipeline.IDAt(index)
	if err != nil {
		session.reply(MsgPhotoNotFound, index+1)
		return
	}
	action(session, id, index+1)
}

func (b *Bot) toggleSelected(session *UserSession, id string, number int) {
	selected, err := session.pipeline.ToggleSelected(id)
	switch {
	case errors.Is(err, intake.ErrSelectionFull):
		session.reply(MsgSelectionFull, b.cfg.Limits.MaxSelected)
	case errors.Is(err, intake.ErrCorrupted):
		session.reply(MsgPhotosCorrupted, fmt.Sprintf("Photo %d", number))
	case err != nil:
		session.replyWithError(err)
	case selected:
		session.reply(MsgPhotoSelected, number)
	default:
		session.reply(MsgPhotoDeselected, number)
	}
}

func (b *Bot) toggleVIN(session *UserSession, id string, number int) {
	marked, err := session.pipeline.ToggleIdentifier(id)
	switch {
	case err != nil:
		session.replyWithError(err)
	case marked:
		session.reply(MsgPhotoVIN, number)
	default:
		session.reply(MsgPhotoNotVIN, number)
	}
}

func (b *Bot) removePhoto(session *UserSession, id string, number int) {
	if err := session.pipeline.Remove(id); err != nil {
		session.replyWithError(err)
		return
	}
	session.reply(MsgPhotoRemoved, number)
}

// handleMoveCommand handles /move <from> <to>.
func (b *Bot) handleMoveCommand(session *UserSession, args []string) {
	if len(args) != 2 {
		session.reply(MsgMoveUsage)
		return
	}
	from, okFrom := parsePhotoNumber(args[0])
	to, okTo := parsePhotoNumber(args[1])
	if !okFrom || !okTo {
		session.reply(MsgMoveUsage)
		return
	}
	err := session.pipeline.Move(from, to)
	switch {
	case errors.Is(err, intake.ErrOutOfRange):
		session.reply(MsgPhotoNotFound, max(from, to)+1)
	case err != nil:
		session.replyWithError(err)
	default:
		session.reply(MsgPhotoMoved, from+1, to+1)
	}
}

// handlePhotoCallback handles the photo keyboard: photo:<action>:<id>.
func (b *Bot) handlePhotoCallback(ctx context.Context, session *UserSession, query *tgbotapi.CallbackQuery, arg string) {
	action, id, ok := strings.Cut(arg, ":")
	if !ok {
		return
	}
	number := photoNumber(session.pipeline.Snapshot(), id)
	if number == 0 {
		session.reply(MsgPhotoGone)
		return
	}

	switch action {
	case "sel":
		b.toggleSelected(session, id, number)
	case "vin":
		b.toggleVIN(session, id, number)
	case "rm":
		b.removePhoto(session, id, number)
	default:
		return
	}

	// Keep the keyboard under the preview in sync
	if query.Message != nil {
		edit := tgbotapi.NewEditMessageReplyMarkup(
			query.Message.Chat.ID,
			query.Message.MessageID,
			makePhotoKeyboard(session.pipeline.Snapshot()),
		)
		if _, err := b.tg.Request(edit); err != nil {
			log.Debug().Err(err).Msg("failed to refresh photo keyboard")
		}
	}
}

// photoNumber returns the 1-based position of id, or 0.
func photoNumber(view pipeline.View, id string) int {
	for i, rec := range view.Records {
		if rec.ID == id {
			return i + 1
		}
	}
	return 0
}
