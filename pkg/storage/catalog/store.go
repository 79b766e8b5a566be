package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	lakeerrors "github.com/logflow/datalake/pkg/errors"
	"github.com/logflow/datalake/pkg/storage/layout"
)

const stagedSuffix = ".tmp"

// commitPoint names the places in Commit where a fault can be injected.
type commitPoint int

const (
	pointStaged         commitPoint = iota // both temp files written, nothing renamed
	pointCatalogSwapped                    // catalog.json renamed, table_names.json not yet
	pointSwapped                           // both renamed
)

// errCrash makes Commit stop where it is without any cleanup, as a killed
// process would.
var errCrash = errors.New("simulated crash")

// Store reads and atomically replaces the catalog files of one lake root.
// Store does not lock; callers serialize Commit.
type Store struct {
	root string
	log  zerolog.Logger

	// interrupt is consulted at each commit point when set.
	interrupt func(commitPoint) error
}

// NewStore creates a store for the lake at root.
func NewStore(root string, log zerolog.Logger) *Store {
	return &Store{
		root: root,
		log:  log.With().Str("store", "catalog").Logger(),
	}
}

// Root returns the lake root.
func (s *Store) Root() string {
	return s.root
}

// Load reads both catalog files. Missing files count as empty. Unparsable or
// mutually inconsistent files are CatalogCorrupt and are never repaired.
func (s *Store) Load() (*Catalog, error) {
	catalogPath := layout.CatalogPath(s.root)
	namesPath := layout.NameIndexPath(s.root)

	var doc document
	catalogFound, err := readJSON(catalogPath, &doc)
	if err != nil {
		return nil, err
	}
	if catalogFound && doc.Version != documentVersion {
		return nil, lakeerrors.CatalogCorrupt(
			fmt.Sprintf("unsupported catalog version %d", doc.Version), nil).
			WithContext("path", catalogPath)
	}

	names := make(map[string]int64)
	if _, err := readJSON(namesPath, &names); err != nil {
		return nil, err
	}

	cat, err := build(doc.Tables)
	if err != nil {
		return nil, lakeerrors.CatalogCorrupt("invalid catalog entries", err).
			WithContext("path", catalogPath)
	}

	if err := crossCheck(cat, names); err != nil {
		return nil, lakeerrors.CatalogCorrupt("catalog and name index disagree", err).
			WithContext("catalog", catalogPath).
			WithContext("names", namesPath)
	}

	return cat, nil
}

// readJSON decodes path into v. found is false when the file does not exist.
func readJSON(path string, v interface{}) (found bool, err error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, lakeerrors.CatalogCorrupt("catalog file unreadable", err).WithContext("path", path)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return true, lakeerrors.CatalogCorrupt("catalog file is empty", nil).WithContext("path", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, lakeerrors.CatalogCorrupt("catalog file is not valid JSON", err).WithContext("path", path)
	}
	return true, nil
}

// Commit persists cat plus entry and returns the new catalog.
//
// Both files are staged as temp files in metadata/ and fsynced; then
// catalog.json and table_names.json are renamed into place, in that order.
// A failure before the first rename removes the staged files. A failure
// between the renames restores the previous catalog.json. Load detects the
// one case that cannot be undone: a crash between the two renames.
func (s *Store) Commit(cat *Catalog, entry Entry) (*Catalog, error) {
	next, err := cat.With(entry)
	if err != nil {
		return nil, err
	}

	metaDir := filepath.Join(s.root, layout.MetadataDir)
	catalogPath := layout.CatalogPath(s.root)
	namesPath := layout.NameIndexPath(s.root)

	catalogData, err := encodeCatalog(next)
	if err != nil {
		return nil, lakeerrors.WriteFailed(catalogPath, err)
	}
	namesData, err := encodeNames(next)
	if err != nil {
		return nil, lakeerrors.WriteFailed(namesPath, err)
	}

	var staged []string
	discard := func() {
		for _, p := range staged {
			if rmErr := os.Remove(p); rmErr != nil && !os.IsNotExist(rmErr) {
				s.log.Warn().Err(rmErr).Str("path", p).Msg("failed to remove staged catalog file")
			}
		}
	}

	catalogTmp, err := stage(metaDir, layout.CatalogFile, catalogData)
	if err != nil {
		return nil, lakeerrors.WriteFailed(catalogPath, err)
	}
	staged = append(staged, catalogTmp)

	namesTmp, err := stage(metaDir, layout.NameIndexFile, namesData)
	if err != nil {
		discard()
		return nil, lakeerrors.WriteFailed(namesPath, err)
	}
	staged = append(staged, namesTmp)

	if err := s.fault(pointStaged); err != nil {
		if errors.Is(err, errCrash) {
			return nil, err
		}
		discard()
		return nil, lakeerrors.WriteFailed(catalogPath, err)
	}

	if err := os.Rename(catalogTmp, catalogPath); err != nil {
		discard()
		return nil, lakeerrors.WriteFailed(catalogPath, err)
	}

	swapErr := s.fault(pointCatalogSwapped)
	if errors.Is(swapErr, errCrash) {
		return nil, swapErr
	}
	if swapErr == nil {
		swapErr = os.Rename(namesTmp, namesPath)
	}
	if swapErr != nil {
		discard()
		if rbErr := s.restore(metaDir, catalogPath, cat); rbErr != nil {
			s.log.Error().Err(rbErr).Msg("failed to restore previous catalog; catalog and name index now disagree")
			return nil, lakeerrors.WriteFailed(namesPath, &lakeerrors.MultiError{Errors: []error{swapErr, rbErr}})
		}
		return nil, lakeerrors.WriteFailed(namesPath, swapErr)
	}

	if err := syncDir(metaDir); err != nil {
		s.log.Warn().Err(err).Str("dir", metaDir).Msg("metadata directory sync failed")
	}

	// Both files are in place; only a simulated crash hides the result.
	if err := s.fault(pointSwapped); errors.Is(err, errCrash) {
		return nil, err
	}

	s.log.Debug().
		Int64("id", entry.ID).
		Str("table", entry.LogicalName).
		Int("tables", next.Len()).
		Msg("catalog committed")

	return next, nil
}

// restore puts the previous catalog.json back after a failed second rename.
func (s *Store) restore(metaDir, catalogPath string, prev *Catalog) error {
	data, err := encodeCatalog(prev)
	if err != nil {
		return err
	}
	tmp, err := stage(metaDir, layout.CatalogFile, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, catalogPath); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// SweepStaged removes temp files left behind by a commit that never finished.
func (s *Store) SweepStaged() (int, error) {
	metaDir := filepath.Join(s.root, layout.MetadataDir)
	entries, err := os.ReadDir(metaDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !isStaged(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(metaDir, e.Name())); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		s.log.Info().Int("files", removed).Msg("removed staged files from an interrupted commit")
	}
	return removed, nil
}

func (s *Store) fault(p commitPoint) error {
	if s.interrupt == nil {
		return nil
	}
	return s.interrupt(p)
}

func isStaged(name string) bool {
	if !strings.HasSuffix(name, stagedSuffix) {
		return false
	}
	return strings.HasPrefix(name, layout.CatalogFile+".") || strings.HasPrefix(name, layout.NameIndexFile+".")
}

// stage writes data to a fresh temp file in dir and fsyncs it.
func stage(dir, base string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, base+".*"+stagedSuffix)
	if err != nil {
		return "", err
	}
	name := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	if err := os.Chmod(name, 0644); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

// syncDir flushes directory entries so completed renames survive power loss.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func encodeCatalog(c *Catalog) ([]byte, error) {
	doc := document{Version: documentVersion, Tables: c.Entries()}
	if doc.Tables == nil {
		doc.Tables = []Entry{}
	}
	return marshal(doc)
}

func encodeNames(c *Catalog) ([]byte, error) {
	return marshal(c.NameIndex())
}

func marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
