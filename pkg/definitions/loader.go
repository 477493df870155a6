// Package definitions loads query definition files from a directory and
// serves lookups by ID and by trigger phrase.
package definitions

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/models"
	sqlutil "github.com/ekaya-inc/ekaya-sqlbot/pkg/sql"
)

// Extensions recognized as definition files.
var definitionExtensions = []string{".yaml", ".yml"}

// Entry pairs a definition with its stable ID (the file's base name).
type Entry struct {
	ID         string
	Definition *models.QueryDefinition
	// Args is the caller text after the matched trigger, trimmed.
	// Only GetByTrigger sets it.
	Args       string
}

// index is an immutable snapshot published by the loader.
type index struct {
	byID     map[string]*models.QueryDefinition
	ids      []string // sorted
	triggers []triggerEntry
}

type triggerEntry struct {
	id      string
	trigger string // lower-cased, trimmed
}

// ReloadStats summarizes the effect of a reload.
type ReloadStats struct {
	Before int `json:"before"`
	After  int `json:"after"`
}

// Loader owns the active definition index. Lookups are lock-free and always
// observe a complete index; reloads build a new index and swap it in.
type Loader struct {
	dir      string
	logger   *zap.Logger
	current  atomic.Pointer[index]
	reloadMu sync.Mutex
}

// NewLoader creates a loader for dir. Call Load before serving lookups.
func NewLoader(dir string, logger *zap.Logger) *Loader {
	l := &Loader{
		dir:    dir,
		logger: logger.Named("loader"),
	}
	l.current.Store(&index{byID: map[string]*models.QueryDefinition{}})
	return l
}

// Dir returns the definitions directory.
func (l *Loader) Dir() string {
	return l.dir
}

// Load discovers and validates every definition file. A single invalid file
// fails the whole load and leaves the active index unchanged.
func (l *Loader) Load() error {
	_, err := l.Reload()
	return err
}

// Reload rebuilds the index from disk and swaps it in atomically.
func (l *Loader) Reload() (ReloadStats, error) {
	l.reloadMu.Lock()
	defer l.reloadMu.Unlock()

	stats := ReloadStats{Before: l.Count()}

	idx, err := l.buildIndex()
	if err != nil {
		l.logger.Error("Failed to load query definitions",
			zap.String("dir", l.dir),
			zap.Error(err))
		return stats, err
	}

	l.current.Store(idx)
	stats.After = len(idx.ids)

	l.logger.Info("Loaded query definitions",
		zap.String("dir", l.dir),
		zap.Int("count", stats.After),
		zap.Int("previous", stats.Before))
	return stats, nil
}

func (l *Loader) buildIndex() (*index, error) {
	idx := &index{byID: map[string]*models.QueryDefinition{}}

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("Query definitions directory not found", zap.String("dir", l.dir))
			return idx, nil
		}
		return nil, fmt.Errorf("failed to read definitions directory %s: %w", l.dir, err)
	}

	sources := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !isDefinitionFile(entry.Name()) {
			continue
		}

		path := filepath.Join(l.dir, entry.Name())
		id := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))

		def, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if def == nil {
			l.logger.Warn("Skipping empty query definition file", zap.String("file", path))
			continue
		}
		if !def.Enabled {
			l.logger.Info("Skipping disabled query", zap.String("id", id), zap.String("name", def.Name))
			continue
		}

		if prev, dup := sources[id]; dup {
			return nil, fmt.Errorf("duplicate query id %q defined by %s and %s", id, prev, path)
		}
		sources[id] = path

		def.ID = id
		idx.byID[id] = def
		idx.ids = append(idx.ids, id)
		idx.triggers = append(idx.triggers, triggerEntry{
			id:      id,
			trigger: normalize(def.Trigger),
		})

		l.logger.Debug("Loaded query definition",
			zap.String("id", id),
			zap.String("name", def.Name),
			zap.String("trigger", def.Trigger))
	}

	sort.Strings(idx.ids)
	return idx, nil
}

// LoadFile parses and validates one definition file. It returns a nil
// definition and no error when the file holds no document.
func LoadFile(path string) (*models.QueryDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read query file %s: %w", path, err)
	}
	return Parse(path, data)
}

// Parse decodes a definition document, rejecting unknown fields, and
// validates it. source names the document in error messages.
func Parse(source string, data []byte) (*models.QueryDefinition, error) {
	def := models.NewQueryDefinition()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse query file %s: %w", source, err)
	}

	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid query file %s: %w", source, err)
	}
	normalized, err := sqlutil.NormalizeStatement(def.SQL)
	if err != nil {
		return nil, fmt.Errorf("invalid query file %s: %w", source, err)
	}
	def.SQL = normalized
	if err := sqlutil.CheckPlaceholderCount(def.Name, def.SQL, len(def.Parameters)); err != nil {
		return nil, fmt.Errorf("invalid query file %s: %w", source, err)
	}

	return def, nil
}

func isDefinitionFile(name string) bool {
	ext := filepath.Ext(name)
	for _, e := range definitionExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// GetByID returns the definition with the exact ID.
func (l *Loader) GetByID(id string) (*models.QueryDefinition, bool) {
	def, ok := l.current.Load().byID[id]
	return def, ok
}

// GetByTrigger matches free text against trigger phrases, case-insensitively.
// The longest trigger that prefixes the text wins; equal lengths resolve by ID.
func (l *Loader) GetByTrigger(text string) (Entry, bool) {
	idx := l.current.Load()
	input := normalize(text)

	var best *triggerEntry
	for i := range idx.triggers {
		t := &idx.triggers[i]
		if t.trigger == "" || !strings.HasPrefix(input, t.trigger) {
			continue
		}
		if best == nil ||
			len(t.trigger) > len(best.trigger) ||
			(len(t.trigger) == len(best.trigger) && t.id < best.id) {
			best = t
		}
	}

	if best == nil {
		return Entry{}, false
	}
	return Entry{
		ID:         best.id,
		Definition: idx.byID[best.id],
		Args:       strings.TrimSpace(afterNormalizedPrefix(text, len(best.trigger))),
	}, true
}

// afterNormalizedPrefix returns the part of text following the runes whose
// normalized form spans the first n bytes of normalize(text). Case mapping
// can change a rune's encoded length, so byte offsets are not shared.
func afterNormalizedPrefix(text string, n int) string {
	text = strings.TrimSpace(text)
	consumed := 0
	for i, r := range text {
		if consumed >= n {
			return text[i:]
		}
		consumed += utf8.RuneLen(unicode.ToLower(r))
	}
	return ""
}

// GetAll returns all active definitions ordered by ID.
func (l *Loader) GetAll() []Entry {
	idx := l.current.Load()
	entries := make([]Entry, 0, len(idx.ids))
	for _, id := range idx.ids {
		entries = append(entries, Entry{ID: id, Definition: idx.byID[id]})
	}
	return entries
}

// SortByTrigger orders entries by trigger phrase for display.
func SortByTrigger(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Definition.Trigger < entries[j].Definition.Trigger
	})
}

// Count returns the number of active definitions.
func (l *Loader) Count() int {
	return len(l.current.Load().ids)
}
