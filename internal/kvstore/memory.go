package kvstore

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// Memory is an in-process Store with lazy expiry plus a janitor sweep
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	stop    chan struct{}
	once    sync.Once
}

// NewMemory creates a memory store and starts its janitor
func NewMemory() *Memory {
	m := &Memory{
		entries: make(map[string]memoryEntry),
		stop:    make(chan struct{}),
	}
	go m.janitor()
	return m
}

// Put stores a value with a TTL. A TTL of zero or less means no expiry.
func (m *Memory) Put(_ context.Context, key, value string, ttl time.Duration) error {
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = memoryEntry{value: value, expiresAt: expires}
	m.mu.Unlock()
	return nil
}

// Get returns the value for key, or ErrNotFound if absent or expired
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return "", ErrNotFound
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return "", ErrNotFound
	}
	return entry.value, nil
}

// Incr adds one to a counter, creating it with the window TTL
func (m *Memory) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	entry, ok := m.entries[key]
	if ok && !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
		ok = false
	}

	count := int64(1)
	var expires time.Time
	if ok {
		prev, err := strconv.ParseInt(entry.value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("kvstore: %q is not a counter", key)
		}
		count = prev + 1
		expires = entry.expiresAt
	} else if ttl > 0 {
		expires = now.Add(ttl)
	}

	m.entries[key] = memoryEntry{value: strconv.FormatInt(count, 10), expiresAt: expires}
	return count, nil
}

// Delete removes a key
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Close stops the janitor
func (m *Memory) Close() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Memory) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for key, entry := range m.entries {
				if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
					delete(m.entries, key)
				}
			}
			m.mu.Unlock()
		}
	}
}
