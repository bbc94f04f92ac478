package storage

import (
	"database/sql"
	"fmt"
	"os"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists submitted listings, cached analysis results and
// per-user settings.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Configure SQLite with WAL mode and busy timeout for better concurrency
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	// Listings carry seller data; keep the file private.
	if err := os.Chmod(dbPath, 0600); err != nil && !os.IsNotExist(err) {
		db.Close()
		return nil, fmt.Errorf("failed to set database permissions: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	listingsQuery := `
	CREATE TABLE IF NOT EXISTS listings (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		price INTEGER NOT NULL,
		lowest_price INTEGER NOT NULL DEFAULT 0,
		tier TEXT,
		image_urls TEXT NOT NULL,
		attributes TEXT NOT NULL,
		features TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(listingsQuery); err != nil {
		return fmt.Errorf("failed to create listings table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS listings_user_id ON listings (user_id, created_at)"); err != nil {
		return fmt.Errorf("failed to create listings index: %w", err)
	}

	analysisCacheQuery := `
	CREATE TABLE IF NOT EXISTS analysis_cache (
		cache_key TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(analysisCacheQuery); err != nil {
		return fmt.Errorf("failed to create analysis_cache table: %w", err)
	}

	userSettingsQuery := `
	CREATE TABLE IF NOT EXISTS user_settings (
		telegram_id INTEGER PRIMARY KEY,
		location TEXT
	);
	`
	if _, err := s.db.Exec(userSettingsQuery); err != nil {
		return fmt.Errorf("failed to create user_settings table: %w", err)
	}

	return nil
}

// Ping checks the database is reachable. Used by the health endpoint.
func (s *SQLiteStore) Ping() error {
	return s.db.Ping()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SetLocation sets the location (postal code) used for market lookups.
func (s *SQLiteStore) SetLocation(telegramID int64, location string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
	INSERT INTO user_settings (telegram_id, location)
	VALUES (?, ?)
	ON CONFLICT(telegram_id) DO UPDATE SET
		location = excluded.location;
	`
	_, err := s.db.Exec(query, telegramID, location)
	if err != nil {
		return fmt.Errorf("failed to set location: %w", err)
	}
	return nil
}

// GetLocation retrieves the location for a user.
// Returns empty string if not set.
func (s *SQLiteStore) GetLocation(telegramID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var location sql.NullString
	err := s.db.QueryRow(
		"SELECT location FROM user_settings WHERE telegram_id = ?",
		telegramID,
	).Scan(&location)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query location: %w", err)
	}

	return location.String, nil
}

// GetAnalysis retrieves a cached analysis payload.
// Returns nil, nil if no cache entry exists.
func (s *SQLiteStore) GetAnalysis(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload []byte
	err := s.db.QueryRow(
		"SELECT payload FROM analysis_cache WHERE cache_key = ?",
		key,
	).Scan(&payload)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query analysis cache: %w", err)
	}
	return payload, nil
}

// SetAnalysis stores an analysis payload in the cache.
func (s *SQLiteStore) SetAnalysis(key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO analysis_cache (cache_key, payload)
		VALUES (?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			payload = excluded.payload,
			created_at = CURRENT_TIMESTAMP
	`, key, payload)

	if err != nil {
		return fmt.Errorf("failed to cache analysis result: %w", err)
	}
	return nil
}
