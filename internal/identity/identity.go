// Package identity provides anonymous per-tab session identity.
package identity

import (
	"context"
	"crypto/rand"
	"log/slog"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// StorageKey is the tab-scoped storage key holding the session id.
	StorageKey = "intent_chatbot_session"

	sessionIDPrefix = "session_"
	randomSuffixLen = 9
	base36Alphabet  = "0123456789abcdefghijklmnopqrstuvwxyz"
)

var (
	generatedIDPattern = regexp.MustCompile(`^session_[0-9]+_[a-z0-9]{9}$`)
	sessionIDPattern   = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// Storage is a tab-scoped key-value store. Values live as long as the tab.
type Storage interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// GetOrCreateSessionID returns the session id persisted in storage, creating
// and persisting a new one when absent. It never fails: when storage is
// unavailable a fresh, unpersisted id is returned.
func GetOrCreateSessionID(ctx context.Context, storage Storage, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}
	if storage == nil {
		return GenerateSessionID()
	}

	id, ok, err := storage.Get(ctx, StorageKey)
	if err != nil {
		logger.Warn("session storage unavailable, using ephemeral session id", "error", err)
		return GenerateSessionID()
	}
	if ok && strings.TrimSpace(id) != "" {
		return id
	}

	id = GenerateSessionID()
	if err := storage.Set(ctx, StorageKey, id); err != nil {
		logger.Warn("failed to persist session id", "error", err)
	}
	return id
}

// GenerateSessionID returns a time-seeded random id of the form
// session_<unix millis>_<9 base36 chars>.
func GenerateSessionID() string {
	var b strings.Builder
	b.WriteString(sessionIDPrefix)
	b.WriteString(strconv.FormatInt(time.Now().UnixMilli(), 10))
	b.WriteByte('_')

	limit := big.NewInt(int64(len(base36Alphabet)))
	for i := 0; i < randomSuffixLen; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			// crypto/rand does not fail on supported platforms; fall back to the clock.
			n = big.NewInt(time.Now().UnixNano() % int64(len(base36Alphabet)))
		}
		b.WriteByte(base36Alphabet[n.Int64()])
	}
	return b.String()
}

// IsGeneratedSessionID reports whether id has the shape produced by GenerateSessionID.
func IsGeneratedSessionID(id string) bool {
	return generatedIDPattern.MatchString(id)
}

// IsValidSessionID reports whether id is acceptable as a session or
// conversation id on the wire.
func IsValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// MemoryStorage is an in-process Storage. It lives as long as the process,
// which is the tab lifetime for an embedded sensor.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

// Get returns the value stored under key.
func (m *MemoryStorage) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Set stores value under key.
func (m *MemoryStorage) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Clear drops every value, as when the tab ends.
func (m *MemoryStorage) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[string]string)
}
