package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"bundle-cache-go/logcolors"
	"bundle-cache-go/utils"

	"github.com/cespare/xxhash/v2"
	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

// lockStripes is the number of mutexes guarding per-key operations.
const lockStripes = 64

var (
	// ErrUnknownBucket is returned for a bucket that was not declared at open time.
	ErrUnknownBucket = errors.New("unknown bucket")
	errKeyNotFound   = errors.New("key not found")
)

// Error reports a storage read or write failure.
type Error struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("cache %s %s: %v", e.Op, e.Bucket, e.Err)
	}
	return fmt.Sprintf("cache %s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Bucket declares a record family stored in its own BoltDB bucket.
// Memory buckets are mirrored in RAM; large payloads should stay disk-only.
type Bucket struct {
	Name   string
	Memory bool
}

// PersistentCache wraps BoltDB with an in-memory cache for fast access
type PersistentCache struct {
	db                 *bolt.DB
	memCache           sync.Map
	locks              [lockStripes]sync.Mutex
	buckets            map[string]Bucket
	dbPath             string
	backupPath         string
	compressionEnabled bool
}

// CacheEntry represents a cached value (can be compressed)
type CacheEntry struct {
	Value string `json:"value"`
}

// NewPersistentCache opens (or creates) the cache database and declares its buckets.
func NewPersistentCache(dbPath string, backupPath string, compressionEnabled bool, buckets ...Bucket) (*PersistentCache, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := os.MkdirAll(backupPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	if info, err := os.Stat(dbPath); err == nil {
		log.Infof("%s Found existing database file at: %s (size: %d bytes)", logcolors.LogCacheInit, dbPath, info.Size())
	} else {
		log.Infof("%s Creating new database file at: %s", logcolors.LogCacheInit, dbPath)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	pc := &PersistentCache{
		db:                 db,
		buckets:            make(map[string]Bucket, len(buckets)),
		dbPath:             dbPath,
		backupPath:         backupPath,
		compressionEnabled: compressionEnabled,
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(b.Name)); err != nil {
				return err
			}
			pc.buckets[b.Name] = b
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache buckets: %w", err)
	}

	if err := pc.loadToMemory(); err != nil {
		log.Warnf("%s Failed to preload cache to memory: %v", logcolors.LogCache, err)
	}

	log.Infof("%s Persistent cache initialized at %s (buckets: %d, compression: %v)", logcolors.LogCache, dbPath, len(pc.buckets), compressionEnabled)
	return pc, nil
}

func memKey(bucket, key string) string {
	return bucket + "\x00" + key
}

func (pc *PersistentCache) lockFor(bucket, key string) *sync.Mutex {
	return &pc.locks[xxhash.Sum64String(memKey(bucket, key))%lockStripes]
}

// loadToMemory loads entries of memory buckets from disk
func (pc *PersistentCache) loadToMemory() error {
	count := 0
	err := pc.db.View(func(tx *bolt.Tx) error {
		for name, def := range pc.buckets {
			if !def.Memory {
				continue
			}
			b := tx.Bucket([]byte(name))
			if b == nil {
				continue
			}
			err := b.ForEach(func(k, v []byte) error {
				var entry CacheEntry
				if err := json.Unmarshal(v, &entry); err != nil {
					log.Warnf("%s Failed to unmarshal cache entry for key %s/%s: %v", logcolors.LogCache, name, string(k), err)
					return nil
				}
				pc.memCache.Store(memKey(name, string(k)), entry)
				count++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Infof("%s Loaded %d entries from disk to memory", logcolors.LogCache, count)
	return nil
}

func (pc *PersistentCache) bucket(name string) (Bucket, error) {
	def, ok := pc.buckets[name]
	if !ok {
		return Bucket{}, ErrUnknownBucket
	}
	return def, nil
}

// readEntry loads the stored entry for a key, memory first. Caller holds the key lock.
func (pc *PersistentCache) readEntry(def Bucket, key string) (CacheEntry, bool, error) {
	if def.Memory {
		if entry, ok := pc.memCache.Load(memKey(def.Name, key)); ok {
			return entry.(CacheEntry), true, nil
		}
	}

	var entry CacheEntry
	err := pc.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(def.Name))
		if b == nil {
			return ErrUnknownBucket
		}
		data := b.Get([]byte(key))
		if data == nil {
			return errKeyNotFound
		}
		return json.Unmarshal(data, &entry)
	})
	if errors.Is(err, errKeyNotFound) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, err
	}

	if def.Memory {
		pc.memCache.Store(memKey(def.Name, key), entry)
	}
	return entry, true, nil
}

// Get retrieves a value from cache (checks memory first, then disk).
// Returns the decompressed value if compression is enabled.
func (pc *PersistentCache) Get(bucket, key string) (string, bool, error) {
	def, err := pc.bucket(bucket)
	if err != nil {
		return "", false, &Error{Op: "get", Bucket: bucket, Key: key, Err: err}
	}

	mu := pc.lockFor(bucket, key)
	mu.Lock()
	entry, found, err := pc.readEntry(def, key)
	mu.Unlock()

	if err != nil {
		return "", false, &Error{Op: "get", Bucket: bucket, Key: key, Err: err}
	}
	if !found {
		return "", false, nil
	}

	if pc.compressionEnabled {
		decompressed, err := utils.UnpackValue(entry.Value)
		if err != nil {
			return "", false, &Error{Op: "decompress", Bucket: bucket, Key: key, Err: err}
		}
		return decompressed, true, nil
	}
	return entry.Value, true, nil
}

// Has reports whether a key is present. Read errors are logged and reported as absent.
func (pc *PersistentCache) Has(bucket, key string) bool {
	def, err := pc.bucket(bucket)
	if err != nil {
		log.Errorf("%s Has %s/%s: %v", logcolors.LogCache, bucket, key, err)
		return false
	}

	mu := pc.lockFor(bucket, key)
	mu.Lock()
	defer mu.Unlock()

	if def.Memory {
		if _, ok := pc.memCache.Load(memKey(bucket, key)); ok {
			return true
		}
	}

	found := false
	err = pc.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return ErrUnknownBucket
		}
		found = b.Get([]byte(key)) != nil
		return nil
	})
	if err != nil {
		log.Errorf("%s Has %s/%s: %v", logcolors.LogCache, bucket, key, err)
		return false
	}
	return found
}

// Set stores a value in cache (disk first, then memory).
// Compresses value if compression is enabled.
func (pc *PersistentCache) Set(bucket, key, value string) error {
	def, err := pc.bucket(bucket)
	if err != nil {
		return &Error{Op: "set", Bucket: bucket, Key: key, Err: err}
	}

	finalValue := value
	if pc.compressionEnabled {
		finalValue, err = utils.PackValue(value)
		if err != nil {
			return &Error{Op: "compress", Bucket: bucket, Key: key, Err: err}
		}
	}

	entry := CacheEntry{Value: finalValue}
	data, err := json.Marshal(entry)
	if err != nil {
		return &Error{Op: "set", Bucket: bucket, Key: key, Err: err}
	}

	mu := pc.lockFor(bucket, key)
	mu.Lock()
	defer mu.Unlock()

	err = pc.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return ErrUnknownBucket
		}
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return &Error{Op: "set", Bucket: bucket, Key: key, Err: err}
	}

	if def.Memory {
		pc.memCache.Store(memKey(bucket, key), entry)
	}
	return nil
}

// Delete removes a key from cache
func (pc *PersistentCache) Delete(bucket, key string) error {
	if _, err := pc.bucket(bucket); err != nil {
		return &Error{Op: "delete", Bucket: bucket, Key: key, Err: err}
	}

	mu := pc.lockFor(bucket, key)
	mu.Lock()
	defer mu.Unlock()

	pc.memCache.Delete(memKey(bucket, key))
	err := pc.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return ErrUnknownBucket
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return &Error{Op: "delete", Bucket: bucket, Key: key, Err: err}
	}
	return nil
}

// Clear removes all entries of one bucket
func (pc *PersistentCache) Clear(bucket string) error {
	if _, err := pc.bucket(bucket); err != nil {
		return &Error{Op: "clear", Bucket: bucket, Err: err}
	}

	for i := range pc.locks {
		pc.locks[i].Lock()
	}
	defer func() {
		for i := range pc.locks {
			pc.locks[i].Unlock()
		}
	}()

	err := pc.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucket)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket([]byte(bucket))
		return err
	})
	if err != nil {
		return &Error{Op: "clear", Bucket: bucket, Err: err}
	}

	prefix := bucket + "\x00"
	pc.memCache.Range(func(k, _ interface{}) bool {
		if s := k.(string); len(s) >= len(prefix) && s[:len(prefix)] == prefix {
			pc.memCache.Delete(k)
		}
		return true
	})

	log.Infof("%s Cleared bucket %s", logcolors.LogCacheClear, bucket)
	return nil
}

// Range iterates over the raw (possibly compressed) entries of a bucket
func (pc *PersistentCache) Range(bucket string, fn func(key string, entry CacheEntry) bool) error {
	if _, err := pc.bucket(bucket); err != nil {
		return &Error{Op: "range", Bucket: bucket, Err: err}
	}

	return pc.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return ErrUnknownBucket
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var entry CacheEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				continue
			}
			if !fn(string(k), entry) {
				return nil
			}
		}
		return nil
	})
}

// BucketStats holds per-bucket sizes
type BucketStats struct {
	Keys   int  `json:"keys"`
	SizeKB int  `json:"size_kb"`
	InMem  bool `json:"in_memory"`
}

// Stats returns per-bucket key counts and stored sizes
func (pc *PersistentCache) Stats() map[string]BucketStats {
	out := make(map[string]BucketStats, len(pc.buckets))
	err := pc.db.View(func(tx *bolt.Tx) error {
		for name, def := range pc.buckets {
			b := tx.Bucket([]byte(name))
			if b == nil {
				continue
			}
			s := BucketStats{InMem: def.Memory}
			size := 0
			b.ForEach(func(k, v []byte) error {
				s.Keys++
				size += len(k) + len(v)
				return nil
			})
			s.SizeKB = size / 1024
			out[name] = s
		}
		return nil
	})
	if err != nil {
		log.Warnf("%s Failed to compute stats: %v", logcolors.LogCache, err)
	}
	return out
}

// Backup writes a consistent snapshot of the database to the backup directory.
// Returns the backup file path
func (pc *PersistentCache) Backup() (string, error) {
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	backupFilePath := filepath.Join(pc.backupPath, fmt.Sprintf("cache_backup_%s.db", timestamp))

	log.Infof("%s Creating backup at: %s", logcolors.LogCacheBackup, backupFilePath)

	err := pc.db.View(func(tx *bolt.Tx) error {
		return tx.CopyFile(backupFilePath, 0600)
	})
	if err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	log.Infof("%s Backup created successfully: %s", logcolors.LogCacheBackup, backupFilePath)
	return backupFilePath, nil
}

// BackupInfo contains metadata about a backup file
type BackupInfo struct {
	FileName  string    `json:"fileName"`
	Size      int64     `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListBackups returns a list of all available backup files
func (pc *PersistentCache) ListBackups() ([]BackupInfo, error) {
	var backups []BackupInfo

	entries, err := os.ReadDir(pc.backupPath)
	if err != nil {
		if os.IsNotExist(err) {
			return backups, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".db" {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			log.Warnf("%s Failed to get info for %s: %v", logcolors.LogCacheBackup, entry.Name(), err)
			continue
		}

		backups = append(backups, BackupInfo{
			FileName:  entry.Name(),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
	}

	return backups, nil
}

// Close closes the database connection
func (pc *PersistentCache) Close() error {
	if pc.db != nil {
		return pc.db.Close()
	}
	return nil
}
