// Package store implements the append-only, content-addressed event log
// (spec.md §4.2): durable WAL-backed storage plus the per-issuer and
// per-resource indexes the validation pipeline and sync engine depend on.
package store

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
)

// record is the on-disk WAL line shape: one JSON object per accepted event,
// newline-delimited, mirroring the teacher's WAL-replay pattern in
// core/ledger.go (NewLedger's bufio.Scanner loop).
type record struct {
	Hash     string `json:"hash"`
	Issuer   string `json:"issuer"`
	Resource string `json:"resource,omitempty"`
	Data     string `json:"data"` // base64 of the canonical envelope bytes
}

// AppendMeta carries the index fields the store needs alongside an event's
// raw bytes; the validation pipeline (the single writer) derives Issuer and
// Resource from the decoded envelope/payload before calling Append.
type AppendMeta struct {
	Hash     string
	Issuer   string
	Resource string // empty when the event does not touch a stable resource
}

// Store is the append-only event log plus its indexes. A single goroutine
// (the validation pipeline's writer loop) calls Append; all other methods
// are safe to call concurrently with it and with each other.
type Store struct {
	mu   sync.RWMutex
	wal  *os.File
	log  *log.Logger
	path string

	order  []string          // hashes in append order
	byHash map[string][]byte // hash -> canonical envelope bytes

	lastByIssuer   map[string]string
	lastByResource map[string]string
}

// Open creates or recovers a Store backed by a WAL file at path. Any
// previously durable records are replayed in order before Open returns, so
// recovery from a crash at any point leaves the store consistent.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("store: open wal: %w", err)
	}
	s := &Store{
		wal:            f,
		log:            logger,
		path:           path,
		byHash:         make(map[string][]byte),
		lastByIssuer:   make(map[string]string),
		lastByResource: make(map[string]string),
	}
	if err := s.replay(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) replay() error {
	if _, err := s.wal.Seek(0, 0); err != nil {
		return fmt.Errorf("store: seek wal: %w", err)
	}
	scanner := bufio.NewScanner(s.wal)
	scanner.Buffer(make([]byte, 64*1024), 2*1024*1024)
	n := 0
	for scanner.Scan() {
		var r record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			return fmt.Errorf("store: corrupt wal record %d: %w", n, err)
		}
		data, err := base64.StdEncoding.DecodeString(r.Data)
		if err != nil {
			return fmt.Errorf("store: corrupt wal record %d data: %w", n, err)
		}
		s.applyInMemory(AppendMeta{Hash: r.Hash, Issuer: r.Issuer, Resource: r.Resource}, data)
		n++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("store: scan wal: %w", err)
	}
	if _, err := s.wal.Seek(0, 2); err != nil {
		return fmt.Errorf("store: seek wal end: %w", err)
	}
	s.log.WithField("events", n).Info("store: recovered from wal")
	return nil
}

func (s *Store) applyInMemory(meta AppendMeta, data []byte) {
	s.order = append(s.order, meta.Hash)
	s.byHash[meta.Hash] = data
	if meta.Issuer != "" {
		s.lastByIssuer[meta.Issuer] = meta.Hash
	}
	if meta.Resource != "" {
		s.lastByResource[meta.Resource] = meta.Hash
	}
}

// Append durably persists an event under its content hash. It is idempotent:
// if the hash already exists, ErrAlreadyExists is returned and nothing is
// written (this is a normal outcome during gossip re-delivery, not a
// caller error). The write is fsync'd before Append returns.
func (s *Store) Append(meta AppendMeta, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byHash[meta.Hash]; exists {
		return ErrAlreadyExists
	}

	rec := record{
		Hash:     meta.Hash,
		Issuer:   meta.Issuer,
		Resource: meta.Resource,
		Data:     base64.StdEncoding.EncodeToString(data),
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encode record: %w", err)
	}
	line = append(line, '\n')
	if _, err := s.wal.Write(line); err != nil {
		return fmt.Errorf("store: write wal: %w", err)
	}
	if err := s.wal.Sync(); err != nil {
		return fmt.Errorf("store: fsync wal: %w", err)
	}

	s.applyInMemory(meta, data)
	return nil
}

// GetByHash returns the canonical bytes stored for hash, if present.
func (s *Store) GetByHash(hash string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.byHash[hash]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// LatestHash returns the hash of the most recently appended event, or ""
// if the log is empty.
func (s *Store) LatestHash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return ""
	}
	return s.order[len(s.order)-1]
}

// LastByIssuer returns the hash of the issuer's most recently accepted
// event, or "" if none has been seen.
func (s *Store) LastByIssuer(did string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastByIssuer[did]
}

// LastByResource returns the hash of the most recently accepted event that
// mutated resourceID, or "" if the resource has never been touched.
func (s *Store) LastByResource(resourceID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastByResource[resourceID]
}

// Len reports the number of events currently in the log.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// LogRange returns up to limit events in log order, starting strictly after
// afterHash (or from the origin if afterHash is ""). The returned cursor is
// the hash of the last event returned, or "" at end-of-log.
func (s *Store) LogRange(afterHash string, limit int) (events [][]byte, cursor string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if afterHash != "" {
		idx := -1
		for i, h := range s.order {
			if h == afterHash {
				idx = i
				break
			}
		}
		if idx == -1 {
			return nil, "", fmt.Errorf("store: %w: cursor hash %s", ErrNotFound, afterHash)
		}
		start = idx + 1
	}
	end := start + limit
	if end > len(s.order) {
		end = len(s.order)
	}
	for i := start; i < end; i++ {
		h := s.order[i]
		data := s.byHash[h]
		out := make([]byte, len(data))
		copy(out, data)
		events = append(events, out)
		cursor = h
	}
	if end >= len(s.order) {
		cursor = ""
	}
	return events, cursor, nil
}

// Close flushes and closes the underlying WAL file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.wal.Sync(); err != nil {
		return err
	}
	return s.wal.Close()
}

// Compact discards log entries up to and including the one whose hash is
// keepAfterHash (ErrNotFound if no entry has it) and rewrites the WAL
// starting from the snapshot as the new origin. The snapshot itself must already be durable
// elsewhere: Compact only touches the log, never the snapshot store
// (spec.md §3.6 "pruning ... is a separate compaction operation").
func (s *Store) Compact(keepAfterHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, h := range s.order {
		if h == keepAfterHash {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("store: %w: compaction boundary %s", ErrNotFound, keepAfterHash)
	}

	tmpPath := s.path + ".compact"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("store: open compact tmp: %w", err)
	}
	for i := idx + 1; i < len(s.order); i++ {
		h := s.order[i]
		rec := record{Hash: h, Data: base64.StdEncoding.EncodeToString(s.byHash[h])}
		for issuer, last := range s.lastByIssuer {
			if last == h {
				rec.Issuer = issuer
			}
		}
		for res, last := range s.lastByResource {
			if last == h {
				rec.Resource = res
			}
		}
		line, err := json.Marshal(rec)
		if err != nil {
			tmp.Close()
			return err
		}
		line = append(line, '\n')
		if _, err := tmp.Write(line); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := s.wal.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("store: rename compacted wal: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	s.wal = f
	kept := s.order[idx+1:]
	s.order = append([]string(nil), kept...)
	for h := range s.byHash {
		found := false
		for _, k := range s.order {
			if k == h {
				found = true
				break
			}
		}
		if !found {
			delete(s.byHash, h)
		}
	}
	s.log.WithField("boundary", keepAfterHash).Info("store: compacted log")
	return nil
}
