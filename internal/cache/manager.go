package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Manager reads through memory then disk, promoting disk hits into memory,
// and writes to both. A background routine drops expired entries.
type Manager struct {
	memory *MemoryCache
	disk   *DiskCache // nil when the disk tier is disabled
	config Config
	logger *log.Logger

	mu     sync.Mutex
	closed bool
	stats  ManagerStats

	stop chan struct{}
	wg   sync.WaitGroup
}

// ManagerStats aggregates both tiers.
type ManagerStats struct {
	Hits        int64
	Misses      int64
	Promotions  int64
	CleanupRuns int64
	LastCleanup time.Time
	Memory      Stats
	Disk        Stats
}

// NewManager builds the tiers described by cfg. Zero capacities fall back to
// DefaultConfig.
func NewManager(cfg Config, logger *log.Logger) (*Manager, error) {
	def := DefaultConfig()
	if cfg.MemoryCapacity <= 0 {
		cfg.MemoryCapacity = def.MemoryCapacity
	}
	if cfg.DiskCapacity <= 0 {
		cfg.DiskCapacity = def.DiskCapacity
	}
	if logger == nil {
		logger = log.Default().WithPrefix("cache")
	}

	m := &Manager{
		memory: NewMemoryCache(cfg.MemoryCapacity),
		config: cfg,
		logger: logger,
		stop:   make(chan struct{}),
	}
	if cfg.DiskPath != "" {
		disk, err := NewDiskCache(cfg.DiskPath, cfg.DiskCapacity, cfg.CompressionLevel)
		if err != nil {
			return nil, fmt.Errorf("failed to create disk cache: %w", err)
		}
		m.disk = disk
		logger.Debug("Disk cache opened", "path", cfg.DiskPath, "entries", disk.Len())
	}

	if cfg.TTL > 0 && cfg.CleanupInterval > 0 {
		m.wg.Add(1)
		go m.cleanupLoop()
	}
	return m, nil
}

// Get looks key up in memory, then on disk.
func (m *Manager) Get(key string) ([]byte, bool) {
	if data, ok := m.memory.Get(key); ok {
		m.count(func(s *ManagerStats) { s.Hits++ })
		return data, true
	}
	if m.disk != nil {
		if data, ok := m.disk.Get(key); ok {
			_ = m.memory.Put(key, data)
			m.count(func(s *ManagerStats) { s.Hits++; s.Promotions++ })
			return data, true
		}
	}
	m.count(func(s *ManagerStats) { s.Misses++ })
	return nil, false
}

// Put stores value in both tiers. A value too large for memory still goes to
// disk.
func (m *Manager) Put(key string, value []byte) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}

	memErr := m.memory.Put(key, value)
	if m.disk == nil {
		return memErr
	}
	if err := m.disk.Put(key, value); err != nil {
		return fmt.Errorf("disk cache: %w", err)
	}
	return nil
}

// Delete removes key from both tiers.
func (m *Manager) Delete(key string) error {
	m.memory.Delete(key)
	if m.disk != nil {
		return m.disk.Delete(key)
	}
	return nil
}

// Clear empties both tiers.
func (m *Manager) Clear() error {
	m.memory.Clear()
	if m.disk != nil {
		return m.disk.Clear()
	}
	return nil
}

// Cleanup drops entries older than the configured TTL and returns how many
// were removed across tiers.
func (m *Manager) Cleanup() int {
	if m.config.TTL <= 0 {
		return 0
	}
	removed := m.memory.Prune(m.config.TTL)
	if m.disk != nil {
		n, err := m.disk.RemoveOlderThan(time.Now().Add(-m.config.TTL))
		if err != nil {
			m.logger.Warn("Could not save cache index", "err", err)
		}
		removed += n
	}
	m.count(func(s *ManagerStats) {
		s.CleanupRuns++
		s.LastCleanup = time.Now()
	})
	if removed > 0 {
		m.logger.Debug("Expired cache entries", "removed", removed)
	}
	return removed
}

// Stats returns counters for the manager and both tiers.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	s := m.stats
	m.mu.Unlock()
	s.Memory = m.memory.Stats()
	if m.disk != nil {
		s.Disk = m.disk.Stats()
	}
	return s
}

// Close stops the cleanup routine and saves the disk index.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stop)
	m.wg.Wait()
	if m.disk != nil {
		if err := m.disk.Close(); err != nil {
			return fmt.Errorf("failed to close disk cache: %w", err)
		}
	}
	return nil
}

func (m *Manager) cleanupLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Cleanup()
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) count(fn func(*ManagerStats)) {
	m.mu.Lock()
	fn(&m.stats)
	m.mu.Unlock()
}
