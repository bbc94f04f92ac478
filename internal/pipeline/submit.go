package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/raine/vehicle-listing-bot/internal/describe"
	"github.com/raine/vehicle-listing-bot/internal/objectstore"
	"github.com/raine/vehicle-listing-bot/internal/storage"
	"github.com/raine/vehicle-listing-bot/internal/vehicle"
)

// Submit assembles the listing and persists it in the background. Photos
// that cannot be uploaded are stored inline. It works with every external
// service down: the description then comes from the local template and
// the price from the asking price.
func (o *Orchestrator) Submit(ctx context.Context) error {
	switch {
	case o.closed:
		return ErrClosed
	case o.submitting:
		return ErrSubmitPending
	}

	records := o.intake.Renderable()
	if len(records) == 0 {
		return ErrNoPhotos
	}
	price := o.Price()
	if price <= 0 {
		return ErrNoPrice
	}

	description := o.finalDescription()
	if description == "" {
		return fmt.Errorf("failed to build a description")
	}

	title := describe.Title(o.attrs)
	if title == "" {
		title = "Vehicle for sale"
	}

	listing := &storage.Listing{
		UserID:      o.opts.UserID,
		Title:       title,
		Description: description,
		Price:       price,
		LowestPrice: o.attrs.Int(vehicle.FieldLowestPrice),
		Tier:        string(o.tier),
		Attributes:  make(map[string]string),
		Features:    append([]string(nil), o.attrs.Features...),
	}
	for f, v := range o.attrs.Snapshot() {
		if f == vehicle.FieldDescription {
			continue
		}
		listing.Attributes[string(f)] = v
	}
	if notes := o.attrs.Notes(); notes != "" {
		listing.Attributes["notes"] = notes
	}

	items := make([]objectstore.Item, len(records))
	for i, rec := range records {
		items[i] = objectstore.Item{Name: rec.Name, Data: rec.Data, MIMEType: rec.MIMEType, Inline: rec.Ref.Inline}
	}

	o.submitting = true
	epoch := o.epoch
	o.spawn(func(ctx context.Context) Event {
		return o.persist(ctx, epoch, listing, items)
	})

	log.Info().
		Int64("userId", o.opts.UserID).
		Str("title", title).
		Int("price", price).
		Int("photos", len(items)).
		Msg("submitting listing")
	return nil
}

func (o *Orchestrator) persist(ctx context.Context, epoch int, listing *storage.Listing, items []objectstore.Item) Event {
	persister := o.deps.Persister
	if persister == nil {
		persister = objectstore.NewPersister(nil, "", 0)
	}

	done := SubmitDone{Epoch: epoch}
	for _, p := range persister.Persist(ctx, items) {
		if p.URL == "" {
			continue
		}
		if p.Fallback {
			done.Fallbacks++
		}
		listing.ImageURLs = append(listing.ImageURLs, p.URL)
	}
	if len(listing.ImageURLs) == 0 {
		done.Err = fmt.Errorf("no photo could be persisted")
		return done
	}

	if err := o.deps.Listings.SaveListing(listing); err != nil {
		done.Err = fmt.Errorf("failed to save listing: %w", err)
		return done
	}
	done.Listing = listing
	return done
}

func (o *Orchestrator) applySubmit(e SubmitDone) Notice {
	o.submitting = false
	if e.Err != nil {
		o.deps.Metrics.CollaboratorFailed("listing_store")
		log.Error().Err(e.Err).Int64("userId", o.opts.UserID).Msg("listing submit failed")
		return Notice{Kind: NoticeSubmitFailed, Err: e.Err}
	}

	o.deps.Metrics.ListingSubmitted()
	for range e.Fallbacks {
		o.deps.Metrics.Fallback("inline_image")
	}
	log.Info().
		Int64("userId", o.opts.UserID).
		Str("listingID", e.Listing.ID).
		Int("inlineImages", e.Fallbacks).
		Msg("listing submitted")
	return Notice{Kind: NoticeSubmitted, Listing: e.Listing, Fallbacks: e.Fallbacks}
}

// Price is the price the listing would be submitted with: the asking
// price, or the selected tier when no price was entered.
func (o *Orchestrator) Price() int {
	if p := o.attrs.Int(vehicle.FieldPrice); p > 0 {
		return p
	}
	if o.breakdown != nil && o.tier != "" {
		return o.breakdown.Tiers().Price(o.tier)
	}
	return 0
}

// finalDescription prefers a manually written description, then the
// composed one, composing locally if nothing was generated yet.
func (o *Orchestrator) finalDescription() string {
	if v, ok := o.attrs.Get(vehicle.FieldDescription); ok && v.Source == vehicle.SourceManual {
		return describe.Normalize(v.Text)
	}
	if o.description.Text == "" {
		o.compose()
	}
	return o.description.Text
}
