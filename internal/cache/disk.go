package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"
)

const (
	indexFile = "index.json"
	// Entries smaller than this are stored as is.
	compressThreshold = 256
)

// DiskCache is the L2 tier. Values are zstd-compressed files named by a hash
// of their key, tracked by a JSON index written after every change.
type DiskCache struct {
	mu       sync.Mutex
	dir      string
	capacity int64
	size     int64
	index    map[string]*diskEntry
	stats    Stats

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

type diskEntry struct {
	File       string    `json:"file"`
	Size       int64     `json:"size"`
	Stored     time.Time `json:"stored"`
	LastAccess time.Time `json:"last_access"`
	Hits       int64     `json:"hits"`
	Compressed bool      `json:"compressed"`
}

// NewDiskCache opens or creates a disk cache in dir. A compression level of
// zero or less stores values uncompressed.
func NewDiskCache(dir string, capacity int64, level int) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	dc := &DiskCache{
		dir:      dir,
		capacity: capacity,
		index:    make(map[string]*diskEntry),
		stats:    Stats{Capacity: capacity},
	}

	var err error
	if level > 0 {
		dc.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}
	// Entries written with compression must stay readable if it is turned off.
	dc.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	if err := dc.loadIndex(); err != nil {
		// A broken index only costs us the cached entries.
		dc.index = make(map[string]*diskEntry)
	}
	for _, e := range dc.index {
		dc.size += e.Size
	}
	return dc, nil
}

// Get returns the value for key. Unreadable entries are dropped.
func (dc *DiskCache) Get(key string) ([]byte, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	e, ok := dc.index[key]
	if !ok {
		dc.stats.Misses++
		return nil, false
	}

	data, err := dc.read(e)
	if err != nil {
		dc.drop(key)
		_ = dc.saveIndex()
		dc.stats.Misses++
		return nil, false
	}
	e.LastAccess = time.Now()
	e.Hits++
	dc.stats.Hits++
	return data, true
}

// Put writes value for key, evicting least recently used entries to stay
// within capacity.
func (dc *DiskCache) Put(key string, value []byte) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	data, compressed := value, false
	if dc.encoder != nil && len(value) >= compressThreshold {
		if z := dc.encoder.EncodeAll(value, nil); len(z) < len(value) {
			data, compressed = z, true
		}
	}
	n := int64(len(data))
	if n > dc.capacity {
		return ErrItemTooLarge
	}

	if _, ok := dc.index[key]; ok {
		dc.drop(key)
	}
	for dc.size+n > dc.capacity && len(dc.index) > 0 {
		dc.evictOldest()
	}

	name := Digest([]byte(key))[:32] + ".bin"
	if compressed {
		name = Digest([]byte(key))[:32] + ".zst"
	}
	if err := writeFileAtomic(filepath.Join(dc.dir, name), data); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	now := time.Now()
	dc.index[key] = &diskEntry{File: name, Size: n, Stored: now, LastAccess: now, Compressed: compressed}
	dc.size += n
	return dc.saveIndex()
}

// Delete removes key if present.
func (dc *DiskCache) Delete(key string) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if _, ok := dc.index[key]; !ok {
		return nil
	}
	dc.drop(key)
	return dc.saveIndex()
}

// RemoveOlderThan removes entries stored before cutoff.
func (dc *DiskCache) RemoveOlderThan(cutoff time.Time) (int, error) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	removed := 0
	for key, e := range dc.index {
		if e.Stored.Before(cutoff) {
			dc.drop(key)
			removed++
		}
	}
	dc.stats.Expired += int64(removed)
	if removed == 0 {
		return 0, nil
	}
	return removed, dc.saveIndex()
}

// Clear deletes every entry.
func (dc *DiskCache) Clear() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	for key := range dc.index {
		dc.drop(key)
	}
	return dc.saveIndex()
}

// Len returns the number of entries.
func (dc *DiskCache) Len() int {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return len(dc.index)
}

// Stats returns a copy of the counters.
func (dc *DiskCache) Stats() Stats {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	s := dc.stats
	s.Size = dc.size
	s.Items = int64(len(dc.index))
	return s
}

// Close writes the index, including access times, and releases the codecs.
func (dc *DiskCache) Close() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	err := dc.saveIndex()
	if dc.encoder != nil {
		_ = dc.encoder.Close()
	}
	dc.decoder.Close()
	return err
}

func (dc *DiskCache) read(e *diskEntry) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dc.dir, e.File))
	if err != nil {
		return nil, err
	}
	if !e.Compressed {
		return data, nil
	}
	out, err := dc.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheCorrupted, err)
	}
	return out, nil
}

// drop must be called with mu held.
func (dc *DiskCache) drop(key string) {
	e := dc.index[key]
	_ = os.Remove(filepath.Join(dc.dir, e.File))
	dc.size -= e.Size
	delete(dc.index, key)
}

func (dc *DiskCache) evictOldest() {
	keys := make([]string, 0, len(dc.index))
	for k := range dc.index {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return dc.index[keys[i]].LastAccess.Before(dc.index[keys[j]].LastAccess)
	})
	dc.drop(keys[0])
	dc.stats.Evictions++
}

func (dc *DiskCache) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(dc.dir, indexFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	index := make(map[string]*diskEntry)
	if err := sonic.Unmarshal(data, &index); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheCorrupted, err)
	}
	// Forget entries whose files went missing.
	for key, e := range index {
		if _, err := os.Stat(filepath.Join(dc.dir, e.File)); err != nil {
			delete(index, key)
		}
	}
	dc.index = index
	return nil
}

func (dc *DiskCache) saveIndex() error {
	data, err := sonic.Marshal(dc.index)
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dc.dir, indexFile), data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
