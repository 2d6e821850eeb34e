// Package fingerprint computes content-derived summaries of directory trees.
//
// Every regular file under a root is read and hashed with CRC-32
// (Castagnoli). Each file contributes its slash-separated path relative to
// the root, its size and its checksum; the entries are sorted by path and
// folded into a 64-bit FNV-1a Sum. Sorting makes the result independent of
// directory enumeration order, and hashing the path makes adds, removes and
// renames visible even when file contents are identical.
package fingerprint

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	siteerrors "github.com/conneroisu/sitesmith/internal/errors"
	"github.com/conneroisu/sitesmith/internal/logging"
)

// Sum is the fingerprint of a file or directory tree.
type Sum uint64

// String renders the sum as fixed-width hex.
func (s Sum) String() string {
	return fmt.Sprintf("%016x", uint64(s))
}

// Entry is the contribution of one file to a tree Sum.
type Entry struct {
	Path string // relative to the root, slash separated
	Size int64
	CRC  uint32
}

// Scanner fingerprints directory trees. A Scanner is safe for concurrent use
// when its cache is nil or shared across scanners of disjoint roots.
type Scanner struct {
	filters  []Filter
	cache    *MetadataCache
	logger   logging.Logger
	crcTable *crc32.Table
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithFilter adds a filter; entries for which any filter returns false are
// skipped. Directories that are filtered out are not descended into.
func WithFilter(f Filter) Option {
	return func(s *Scanner) {
		s.filters = append(s.filters, f)
	}
}

// WithMetadataCache enables reuse of checksums for files whose size and
// modification time have not changed since the previous pass.
func WithMetadataCache(c *MetadataCache) Option {
	return func(s *Scanner) {
		s.cache = c
	}
}

// WithLogger sets the logger used to report skipped files.
func WithLogger(l logging.Logger) Option {
	return func(s *Scanner) {
		s.logger = l
	}
}

// NewScanner creates a scanner with the default filters applied.
func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{
		filters:  []Filter{NoHiddenFilter, NoEditorTempFilter},
		crcTable: crc32.MakeTable(crc32.Castagnoli),
		logger:   logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// CacheStats reports the metadata cache counters, or false when the scanner
// has no cache.
func (s *Scanner) CacheStats() (CacheStats, bool) {
	if s.cache == nil {
		return CacheStats{}, false
	}
	return s.cache.Stats(), true
}

// Fingerprint returns the Sum of every file under root.
//
// A missing root, or a root that is not a directory, is a configuration
// error. Files that cannot be read are logged and left out of this pass.
func (s *Scanner) Fingerprint(ctx context.Context, root string) (Sum, error) {
	entries, err := s.Scan(ctx, root)
	if err != nil {
		return 0, err
	}

	return Combine(entries), nil
}

// Scan walks root and returns one Entry per readable file, sorted by path.
func (s *Scanner) Scan(ctx context.Context, root string) ([]Entry, error) {
	if err := CheckRoot(root); err != nil {
		return nil, err
	}

	var entries []Entry
	seen := make(map[string]struct{})

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if walkErr != nil {
			if path == root {
				return siteerrors.NewConfigurationError(siteerrors.ErrCodeRootMissing,
					"watched root unreadable", walkErr).WithPath(root)
			}
			s.skip(ctx, path, walkErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if !s.accept(rel, d) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		entry, err := s.hashFile(path, rel)
		if err != nil {
			s.skip(ctx, path, err)
			return nil
		}

		seen[path] = struct{}{}
		entries = append(entries, entry)

		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Prune(root, seen)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})

	return entries, nil
}

// CheckRoot verifies that root exists and is a directory.
func CheckRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return siteerrors.NewConfigurationError(siteerrors.ErrCodeRootMissing,
			"watched root does not exist", err).WithPath(root)
	}
	if !info.IsDir() {
		return siteerrors.NewConfigurationError(siteerrors.ErrCodeRootNotDir,
			"watched root is not a directory", nil).WithPath(root)
	}

	return nil
}

// Combine folds entries into a Sum. The input order does not matter.
func Combine(entries []Entry) Sum {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Path < sorted[j].Path
	})

	h := fnv.New64a()
	var buf [12]byte
	for _, e := range sorted {
		_, _ = h.Write([]byte(e.Path))
		// NUL keeps "ab"+"c" distinct from "a"+"bc".
		_, _ = h.Write([]byte{0})
		binary.LittleEndian.PutUint64(buf[:8], uint64(e.Size))
		binary.LittleEndian.PutUint32(buf[8:], e.CRC)
		_, _ = h.Write(buf[:])
	}

	return Sum(h.Sum64())
}

func (s *Scanner) accept(rel string, d fs.DirEntry) bool {
	for _, f := range s.filters {
		if !f(rel, d) {
			return false
		}
	}

	return true
}

func (s *Scanner) hashFile(path, rel string) (Entry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Entry{}, err
	}

	if s.cache != nil {
		if crc, ok := s.cache.Lookup(path, info); ok {
			return Entry{Path: rel, Size: info.Size(), CRC: crc}, nil
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, err
	}

	crc := crc32.Checksum(content, s.crcTable)
	if s.cache != nil {
		s.cache.Store(path, info, crc)
	}

	return Entry{Path: rel, Size: int64(len(content)), CRC: crc}, nil
}

func (s *Scanner) skip(ctx context.Context, path string, cause error) {
	err := siteerrors.NewScanIOError(path, cause)
	s.logger.Warn(ctx, err, "Skipping file in fingerprint pass", "path", path)
}
