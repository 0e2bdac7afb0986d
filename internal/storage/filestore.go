package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ernie/whitelister/internal/domain"
	"github.com/google/uuid"
)

// FileStore keeps the whole membership list in memory and rewrites the JSON
// file on every mutation (write to temp, fsync, rename). A mutation whose
// write fails is rolled back in memory, so memory and disk never diverge.
type FileStore struct {
	path string

	mu          sync.RWMutex
	records     []domain.MemberRecord
	index       map[domain.Key]int
	initialized bool
}

// persistedMember is the on-disk layout of one record
type persistedMember struct {
	Username      string    `json:"username"`
	UUID          string    `json:"uuid,omitempty"`
	XUID          string    `json:"xuid,omitempty"`
	DiscordID     string    `json:"discordId"`
	WhitelistedAt time.Time `json:"whitelistedAt"`
	IsBedrock     bool      `json:"isBedrock"`
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a store backed by the JSON file at path
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = "whitelist.json"
	}
	return &FileStore{path: path}
}

// Path returns the backing file location
func (s *FileStore) Path() string {
	return s.path
}

// Initialize loads the file, or creates it empty when missing
func (s *FileStore) Initialize(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return ErrAlreadyInitialized
	}

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.setRecords(nil)
		if err := s.writeLocked(); err != nil {
			return fmt.Errorf("creating whitelist file: %w", err)
		}
	case err != nil:
		return fmt.Errorf("reading whitelist file: %w", err)
	default:
		records, err := decodeMembers(data)
		if err != nil {
			return fmt.Errorf("loading whitelist from %s: %w", s.path, err)
		}
		s.setRecords(records)
	}

	s.initialized = true
	return nil
}

// setRecords installs a loaded list, keeping the first record of any
// duplicated key
func (s *FileStore) setRecords(records []domain.MemberRecord) {
	s.records = make([]domain.MemberRecord, 0, len(records))
	s.index = make(map[domain.Key]int, len(records))
	for _, rec := range records {
		key := rec.Key()
		if _, dup := s.index[key]; dup {
			log.Printf("Warning: duplicate whitelist entry %s in %s, keeping the first", key, s.path)
			continue
		}
		s.index[key] = len(s.records)
		s.records = append(s.records, rec)
	}
}

// Add appends rec and rewrites the file
func (s *FileStore) Add(_ context.Context, rec domain.MemberRecord) (bool, error) {
	if err := validateRecord(rec); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return false, ErrNotInitialized
	}

	key := rec.Key()
	if _, exists := s.index[key]; exists {
		return false, nil
	}

	s.records = append(s.records, rec)
	s.index[key] = len(s.records) - 1

	if err := s.writeLocked(); err != nil {
		s.records = s.records[:len(s.records)-1]
		delete(s.index, key)
		return false, fmt.Errorf("saving whitelist: %w", err)
	}
	return true, nil
}

// Remove drops the member with key and rewrites the file
func (s *FileStore) Remove(_ context.Context, key domain.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return false, ErrNotInitialized
	}

	pos, ok := s.index[key]
	if !ok {
		return false, nil
	}

	previous := s.records
	next := make([]domain.MemberRecord, 0, len(previous)-1)
	next = append(next, previous[:pos]...)
	next = append(next, previous[pos+1:]...)

	s.records = next
	if err := s.writeLocked(); err != nil {
		s.records = previous
		return false, fmt.Errorf("saving whitelist: %w", err)
	}
	s.reindexLocked()
	return true, nil
}

// Contains reports whether key is present
func (s *FileStore) Contains(_ context.Context, key domain.Key) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return false, ErrNotInitialized
	}
	_, ok := s.index[key]
	return ok, nil
}

// List returns a copy of the current records
func (s *FileStore) List(_ context.Context) ([]domain.MemberRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}
	out := make([]domain.MemberRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}

// Persist rewrites the file from memory
func (s *FileStore) Persist(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	return s.writeLocked()
}

// Close is a no-op; every mutation is already on disk
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) reindexLocked() {
	s.index = make(map[domain.Key]int, len(s.records))
	for i, rec := range s.records {
		s.index[rec.Key()] = i
	}
}

func (s *FileStore) writeLocked() error {
	out := make([]persistedMember, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, encodeMember(rec))
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding whitelist: %w", err)
	}
	return writeFileAtomic(s.path, data)
}

func encodeMember(rec domain.MemberRecord) persistedMember {
	p := persistedMember{
		Username:      rec.Username(),
		DiscordID:     rec.RequestedBy,
		WhitelistedAt: rec.ApprovedAt.UTC(),
	}
	switch id := rec.Identity.(type) {
	case domain.JavaIdentity:
		if id.Resolved() {
			p.UUID = id.UUID.String()
		}
	case domain.BedrockIdentity:
		p.XUID = id.XUID
		p.IsBedrock = true
	}
	return p
}

func decodeMembers(data []byte) ([]domain.MemberRecord, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var raw []persistedMember
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing whitelist file: %w", err)
	}

	records := make([]domain.MemberRecord, 0, len(raw))
	for i, p := range raw {
		if p.IsBedrock {
			if p.XUID == "" {
				return nil, fmt.Errorf("entry %d (%s): bedrock entry without xuid", i, p.Username)
			}
			records = append(records, domain.NewBedrockRecord(p.Username, p.XUID, p.DiscordID, p.WhitelistedAt))
			continue
		}
		if p.Username == "" {
			return nil, fmt.Errorf("entry %d: missing username", i)
		}
		id := uuid.Nil
		if p.UUID != "" {
			parsed, err := uuid.Parse(p.UUID)
			if err != nil {
				return nil, fmt.Errorf("entry %d (%s): %w", i, p.Username, err)
			}
			id = parsed
		}
		records = append(records, domain.NewJavaRecord(p.Username, id, p.DiscordID, p.WhitelistedAt))
	}
	return records, nil
}

// writeFileAtomic replaces path with data so readers see either the old or
// the new content, never a partial file
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
