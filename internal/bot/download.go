package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultDownloadTimeout is the default timeout for file downloads
	DefaultDownloadTimeout = 30 * time.Second
	// DefaultMaxFileSize is above the intake ceiling so oversized photos are
	// rejected by intake with a proper reason instead of failing here.
	DefaultMaxFileSize = 32 * 1024 * 1024
)

// Downloader fetches Telegram files.
type Downloader struct {
	client  *resty.Client
	maxSize int64
}

func NewDownloader() *Downloader {
	return &Downloader{
		client:  resty.New().SetDebug(false).SetTimeout(DefaultDownloadTimeout),
		maxSize: DefaultMaxFileSize,
	}
}

// WithTimeout sets a custom timeout for downloads.
func (d *Downloader) WithTimeout(timeout time.Duration) *Downloader {
	d.client.SetTimeout(timeout)
	return d
}

// WithMaxSize sets a custom maximum file size.
func (d *Downloader) WithMaxSize(maxSize int64) *Downloader {
	d.maxSize = maxSize
	return d
}

// DownloadURL downloads a file, enforcing the size limit.
func (d *Downloader) DownloadURL(ctx context.Context, url string) ([]byte, error) {
	res, err := d.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("download failed: status %d", res.StatusCode())
	}
	if int64(len(res.Body())) > d.maxSize {
		return nil, fmt.Errorf("file too large: exceeds limit of %d bytes", d.maxSize)
	}
	return res.Body(), nil
}

// DownloadFileID resolves a Telegram file ID to a direct URL and downloads
// it.
func (d *Downloader) DownloadFileID(
	ctx context.Context,
	getFileDirectURL func(fileID string) (string, error),
	fileID string,
) ([]byte, error) {
	log.Info().Str("fileID", fileID).Msg("downloading telegram file")

	url, err := getFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get file URL: %w", err)
	}
	return d.DownloadURL(ctx, url)
}
