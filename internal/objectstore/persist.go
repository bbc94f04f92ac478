package objectstore

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/raine/vehicle-listing-bot/internal/media"
	"github.com/raine/vehicle-listing-bot/internal/photo"
)

const (
	DefaultUploadTimeout = 30 * time.Second
	maxParallelUploads   = 4
)

// Item is one file to persist. Inline, when set, is used as the fallback
// instead of encoding Data again.
type Item struct {
	Name     string
	Data     []byte
	MIMEType string
	Inline   string
}

// Persisted is where one item ended up.
type Persisted struct {
	URL      string
	Fallback bool  // URL is the inline data URL
	Err      error // upload failure that caused the fallback
}

// Persister uploads files, substituting the inline representation for any
// file whose upload fails so no photo is lost.
type Persister struct {
	uploader Uploader
	prefix   string
	timeout  time.Duration
}

// NewPersister creates a persister. A nil uploader makes every item fall
// back to its inline representation.
func NewPersister(uploader Uploader, prefix string, timeout time.Duration) *Persister {
	if timeout <= 0 {
		timeout = DefaultUploadTimeout
	}
	return &Persister{uploader: uploader, prefix: prefix, timeout: timeout}
}

// Persist returns one result per item, in item order.
func (p *Persister) Persist(ctx context.Context, items []Item) []Persisted {
	results := make([]Persisted, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelUploads)
	for i, item := range items {
		g.Go(func() error {
			results[i] = p.persistOne(gctx, item)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (p *Persister) persistOne(ctx context.Context, item Item) Persisted {
	var uploadErr error
	if p.uploader == nil {
		uploadErr = fmt.Errorf("no durable storage configured")
	} else {
		uctx, cancel := context.WithTimeout(ctx, p.timeout)
		url, err := p.uploader.Upload(uctx, p.objectKey(item), item.Data, item.MIMEType)
		cancel()
		if err == nil {
			return Persisted{URL: url}
		}
		uploadErr = err
		log.Warn().Err(err).Str("name", item.Name).Msg("upload failed, using inline fallback")
	}

	inline := item.Inline
	if inline == "" {
		var err error
		inline, err = photo.InlineRef(item.Data, item.MIMEType)
		if err != nil {
			return Persisted{Err: fmt.Errorf("%w; inline fallback failed: %v", uploadErr, err)}
		}
	}
	return Persisted{URL: inline, Fallback: true, Err: uploadErr}
}

func (p *Persister) objectKey(item Item) string {
	ext := media.Sniff(item.Data).Extension()
	return path.Join(p.prefix, uuid.New().String()+ext)
}
