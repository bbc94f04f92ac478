package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Listing is a fully assembled listing handed off for publishing.
type Listing struct {
	ID          string
	UserID      int64
	Title       string
	Description string
	Price       int
	LowestPrice int
	Tier        string
	ImageURLs   []string
	Attributes  map[string]string
	Features    []string
	CreatedAt   time.Time
}

// SaveListing stores a new listing, assigning its ID and creation time.
func (s *SQLiteStore) SaveListing(l *Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	l.CreatedAt = time.Now()

	imageURLs, err := json.Marshal(nonNil(l.ImageURLs))
	if err != nil {
		return fmt.Errorf("failed to marshal image urls: %w", err)
	}
	attributes, err := json.Marshal(l.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}
	features, err := json.Marshal(nonNil(l.Features))
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO listings (id, user_id, title, description, price, lowest_price, tier, image_urls, attributes, features, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.UserID, l.Title, l.Description, l.Price, l.LowestPrice, l.Tier,
		string(imageURLs), string(attributes), string(features), l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save listing: %w", err)
	}
	return nil
}

const listingColumns = "id, user_id, title, description, price, lowest_price, tier, image_urls, attributes, features, created_at"

// GetListing retrieves a listing by ID.
// Returns nil, nil if it doesn't exist.
func (s *SQLiteStore) GetListing(id string) (*Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow("SELECT "+listingColumns+" FROM listings WHERE id = ?", id)
	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query listing: %w", err)
	}
	return l, nil
}

// GetListingsByUser returns a user's listings, newest first.
func (s *SQLiteStore) GetListingsByUser(userID int64, limit int) ([]Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT "+listingColumns+" FROM listings WHERE user_id = ? ORDER BY created_at DESC LIMIT ?",
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings: %w", err)
	}
	defer rows.Close()

	var listings []Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*Listing, error) {
	var l Listing
	var tier sql.NullString
	var imageURLs, attributes, features string
	if err := row.Scan(&l.ID, &l.UserID, &l.Title, &l.Description, &l.Price, &l.LowestPrice,
		&tier, &imageURLs, &attributes, &features, &l.CreatedAt); err != nil {
		return nil, err
	}
	l.Tier = tier.String

	if err := json.Unmarshal([]byte(imageURLs), &l.ImageURLs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal image urls: %w", err)
	}
	if err := json.Unmarshal([]byte(attributes), &l.Attributes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
	}
	if err := json.Unmarshal([]byte(features), &l.Features); err != nil {
		return nil, fmt.Errorf("failed to unmarshal features: %w", err)
	}
	return &l, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
