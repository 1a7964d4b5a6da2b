package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Station is one cached favorite radio station.
type Station struct {
	StationID   string `json:"stationId"`
	StationName string `json:"stationName"`
	URI         string `json:"uri,omitempty"`
	Metadata    string `json:"metadata,omitempty"`
}

type stationFile struct {
	Stations  []Station `json:"stations"`
	Timestamp int64     `json:"timestamp"` // unix millis of last refresh
}

// StationCache persists browsed stations to a human-readable JSON file with
// a 24h TTL.
type StationCache struct {
	path string
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

func NewStationCache(path string) *StationCache {
	return &StationCache{path: path, ttl: 24 * time.Hour, now: time.Now}
}

// Load returns the cached stations. ok is false when the file is missing,
// unreadable, or past its TTL.
func (c *StationCache) Load() (stations []Station, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, false
	}
	var file stationFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, false
	}
	age := c.now().Sub(time.UnixMilli(file.Timestamp))
	if age < 0 || age > c.ttl {
		return nil, false
	}
	return file.Stations, true
}

// Save replaces the cached stations, stamping the current time.
func (c *StationCache) Save(stations []Station) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeJSONFile(c.path, stationFile{
		Stations:  stations,
		Timestamp: c.now().UnixMilli(),
	})
}

// Prune deletes the file when it is past its TTL. Returns true when the
// file was removed.
func (c *StationCache) Prune() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	var file stationFile
	if err := json.Unmarshal(data, &file); err == nil {
		age := c.now().Sub(time.UnixMilli(file.Timestamp))
		if age >= 0 && age <= c.ttl {
			return false, nil
		}
	}
	if err := os.Remove(c.path); err != nil {
		return false, err
	}
	return true, nil
}

const (
	initialBackoffHours = 24
	maxBackoffHours     = 48
	backoffFactor       = 1.5
)

type backoffFile struct {
	LastLoginFailure int64   `json:"lastLoginFailure"` // unix millis
	BackoffHours     float64 `json:"backoffHours"`
	LastUpdate       string  `json:"lastUpdate"` // ISO 8601
}

// Backoff tracks login failures against bot-detecting external services.
// Each failure extends the hold; a success clears it.
type Backoff struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

func NewBackoff(path string) *Backoff {
	return &Backoff{path: path, now: time.Now}
}

func (b *Backoff) read() (backoffFile, bool) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		return backoffFile{}, false
	}
	var file backoffFile
	if err := json.Unmarshal(data, &file); err != nil {
		return backoffFile{}, false
	}
	return file, true
}

// RecordFailure notes a login failure. The first failure starts a 24h hold;
// each further failure multiplies it by 1.5, capped at 48h.
func (b *Backoff) RecordFailure() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	hours := float64(initialBackoffHours)
	if file, ok := b.read(); ok && file.BackoffHours > 0 {
		hours = file.BackoffHours * backoffFactor
		if hours > maxBackoffHours {
			hours = maxBackoffHours
		}
	}

	now := b.now()
	return writeJSONFile(b.path, backoffFile{
		LastLoginFailure: now.UnixMilli(),
		BackoffHours:     hours,
		LastUpdate:       now.UTC().Format(time.RFC3339),
	})
}

// Clear removes the hold after a successful login.
func (b *Backoff) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := os.Remove(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Blocked reports whether logins are currently held, and for how much
// longer.
func (b *Backoff) Blocked() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	file, ok := b.read()
	if !ok || file.LastLoginFailure == 0 {
		return false, 0
	}
	until := time.UnixMilli(file.LastLoginFailure).
		Add(time.Duration(file.BackoffHours * float64(time.Hour)))
	remaining := until.Sub(b.now())
	if remaining <= 0 {
		return false, 0
	}
	return true, remaining
}

func writeJSONFile(path string, value any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
