package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lakeerrors "github.com/logflow/datalake/pkg/errors"
	"github.com/logflow/datalake/pkg/ingest/schema"
	"github.com/logflow/datalake/pkg/storage/layout"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, layout.EnsureStructure(root))
	return NewStore(root, zerolog.Nop())
}

func entry(id int64, name string, format schema.Format) Entry {
	p := layout.DestinationPaths(id, format)
	return Entry{
		ID:              id,
		LogicalName:     name,
		DataPath:        p.Data,
		DescriptionPath: p.Description,
		Format:          format,
		Schema: []schema.Column{
			{Name: "a", Type: schema.TypeInteger},
		},
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func readNames(t *testing.T, root string) map[string]int64 {
	t.Helper()
	data, err := os.ReadFile(layout.NameIndexPath(root))
	require.NoError(t, err)
	names := map[string]int64{}
	require.NoError(t, json.Unmarshal(data, &names))
	return names
}

func stagedFiles(t *testing.T, root string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(root, layout.MetadataDir, "*"+stagedSuffix))
	require.NoError(t, err)
	return matches
}

// crashAt simulates a killed process at p.
func crashAt(p commitPoint) func(commitPoint) error {
	return func(at commitPoint) error {
		if at == p {
			return errCrash
		}
		return nil
	}
}

func TestLoad_EmptyLake(t *testing.T) {
	s := newTestStore(t)

	cat, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, cat.Len())

	_, ok := cat.MaxID()
	assert.False(t, ok)
}

func TestCommitThenLoad(t *testing.T) {
	s := newTestStore(t)

	cat, err := s.Load()
	require.NoError(t, err)

	cat, err = s.Commit(cat, entry(0, "sales", schema.FormatCSV))
	require.NoError(t, err)
	cat, err = s.Commit(cat, entry(1, "returns", schema.FormatParquet))
	require.NoError(t, err)
	assert.Equal(t, 2, cat.Len())

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, cat.Entries(), loaded.Entries())
	assert.Equal(t, map[string]int64{"sales": 0, "returns": 1}, readNames(t, s.Root()))

	got, ok := loaded.Lookup("returns")
	require.True(t, ok)
	assert.Equal(t, "tables/1.parquet", got.DataPath)
	assert.Equal(t, "tables/1.description.md", got.DescriptionPath)
	assert.Empty(t, stagedFiles(t, s.Root()))
}

func TestCommit_EmptyCatalogWritesArray(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Commit(Empty(), entry(0, "sales", schema.FormatCSV))
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	data, err := os.ReadFile(layout.CatalogPath(s.Root()))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.JSONEq(t, "1", string(doc["version"]))
	assert.Contains(t, string(doc["tables"]), `"logical_name": "sales"`)
}

func TestCommit_DuplicateNameLeavesCatalogUnchanged(t *testing.T) {
	s := newTestStore(t)

	cat, err := s.Commit(Empty(), entry(0, "sales", schema.FormatCSV))
	require.NoError(t, err)

	before, err := os.ReadFile(layout.CatalogPath(s.Root()))
	require.NoError(t, err)

	_, err = s.Commit(cat, entry(1, "sales", schema.FormatParquet))
	require.Error(t, err)
	assert.True(t, lakeerrors.IsCode(err, lakeerrors.CodeDuplicateLogicalName))

	after, err := os.ReadFile(layout.CatalogPath(s.Root()))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCommit_CrashBeforeSwapKeepsOldCatalog(t *testing.T) {
	s := newTestStore(t)
	cat, err := s.Commit(Empty(), entry(0, "sales", schema.FormatCSV))
	require.NoError(t, err)

	s.interrupt = crashAt(pointStaged)
	_, err = s.Commit(cat, entry(1, "returns", schema.FormatParquet))
	require.ErrorIs(t, err, errCrash)
	assert.Len(t, stagedFiles(t, s.Root()), 2)

	s.interrupt = nil
	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Len())
	_, ok := loaded.Lookup("returns")
	assert.False(t, ok)

	n, err := s.SweepStaged()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, stagedFiles(t, s.Root()))
}

func TestCommit_CrashBetweenRenamesIsDetected(t *testing.T) {
	s := newTestStore(t)
	cat, err := s.Commit(Empty(), entry(0, "sales", schema.FormatCSV))
	require.NoError(t, err)

	s.interrupt = crashAt(pointCatalogSwapped)
	_, err = s.Commit(cat, entry(1, "returns", schema.FormatParquet))
	require.ErrorIs(t, err, errCrash)

	s.interrupt = nil
	_, err = s.Load()
	require.Error(t, err)
	assert.True(t, lakeerrors.IsCode(err, lakeerrors.CodeCatalogCorrupt), "got %v", err)
}

func TestCommit_CrashAfterSwapIsDurable(t *testing.T) {
	s := newTestStore(t)

	s.interrupt = crashAt(pointSwapped)
	_, err := s.Commit(Empty(), entry(0, "sales", schema.FormatCSV))
	require.ErrorIs(t, err, errCrash)

	s.interrupt = nil
	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"sales": 0}, loaded.NameIndex())
}

func TestCommit_SecondRenameFailureRestoresCatalog(t *testing.T) {
	s := newTestStore(t)
	cat, err := s.Commit(Empty(), entry(0, "sales", schema.FormatCSV))
	require.NoError(t, err)

	before, err := os.ReadFile(layout.CatalogPath(s.Root()))
	require.NoError(t, err)

	s.interrupt = func(p commitPoint) error {
		if p == pointCatalogSwapped {
			return os.ErrPermission
		}
		return nil
	}
	_, err = s.Commit(cat, entry(1, "returns", schema.FormatParquet))
	require.Error(t, err)
	assert.True(t, lakeerrors.IsCode(err, lakeerrors.CodeWriteFailed))
	assert.ErrorIs(t, err, os.ErrPermission)

	after, err := os.ReadFile(layout.CatalogPath(s.Root()))
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, stagedFiles(t, s.Root()))

	s.interrupt = nil
	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Len())
}

func TestCommit_StagedFailureDiscardsTempFiles(t *testing.T) {
	s := newTestStore(t)
	s.interrupt = func(p commitPoint) error {
		if p == pointStaged {
			return errors.New("disk full")
		}
		return nil
	}

	_, err := s.Commit(Empty(), entry(0, "sales", schema.FormatCSV))
	require.Error(t, err)
	assert.True(t, lakeerrors.IsCode(err, lakeerrors.CodeWriteFailed))
	assert.Empty(t, stagedFiles(t, s.Root()))

	_, statErr := os.Stat(layout.CatalogPath(s.Root()))
	assert.True(t, os.IsNotExist(statErr))
}

func TestLoad_Corrupt(t *testing.T) {
	tests := []struct {
		name    string
		catalog string
		names   string
	}{
		{"invalid json", `{"version":1,"tables":[`, `{}`},
		{"empty file", ``, `{}`},
		{"unknown version", `{"version":7,"tables":[]}`, `{}`},
		{
			"name index points at missing id",
			`{"version":1,"tables":[]}`,
			`{"sales":0}`,
		},
		{
			"entry missing from name index",
			`{"version":1,"tables":[{"id":0,"logical_name":"sales","data_path":"tables/0.csv","description_path":"tables/0.description.md","format":"csv","schema":[]}]}`,
			`{}`,
		},
		{
			"name index disagrees on name",
			`{"version":1,"tables":[{"id":0,"logical_name":"sales","data_path":"tables/0.csv","description_path":"tables/0.description.md","format":"csv","schema":[]}]}`,
			`{"returns":0}`,
		},
		{
			"duplicate ids",
			`{"version":1,"tables":[` +
				`{"id":0,"logical_name":"a","data_path":"tables/0.csv","description_path":"tables/0.description.md","format":"csv","schema":[]},` +
				`{"id":0,"logical_name":"b","data_path":"tables/0.csv","description_path":"tables/0.description.md","format":"csv","schema":[]}]}`,
			`{"a":0,"b":0}`,
		},
		{
			"unknown column type",
			`{"version":1,"tables":[{"id":0,"logical_name":"a","data_path":"tables/0.csv","description_path":"tables/0.description.md","format":"csv","schema":[{"name":"x","type":"decimal"}]}]}`,
			`{"a":0}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			require.NoError(t, os.WriteFile(layout.CatalogPath(s.Root()), []byte(tt.catalog), 0644))
			require.NoError(t, os.WriteFile(layout.NameIndexPath(s.Root()), []byte(tt.names), 0644))

			_, err := s.Load()
			require.Error(t, err)
			assert.True(t, lakeerrors.IsCode(err, lakeerrors.CodeCatalogCorrupt), "got %v", err)
		})
	}
}

func TestAssignID(t *testing.T) {
	cat := Empty()

	id, err := AssignID(cat, "sales")
	require.NoError(t, err)
	assert.Equal(t, int64(0), id)

	cat, err = cat.With(entry(0, "sales", schema.FormatCSV))
	require.NoError(t, err)
	cat, err = cat.With(entry(4, "returns", schema.FormatCSV))
	require.NoError(t, err)

	id, err = AssignID(cat, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)

	_, err = AssignID(cat, "sales")
	assert.True(t, lakeerrors.IsCode(err, lakeerrors.CodeDuplicateLogicalName))

	_, err = AssignID(cat, "  ")
	assert.True(t, lakeerrors.IsCode(err, lakeerrors.CodeInvalidArgument))
}

func TestAssignID_StrictlyIncreasingAcrossAbortedCommit(t *testing.T) {
	s := newTestStore(t)

	cat, err := s.Load()
	require.NoError(t, err)
	id, err := AssignID(cat, "sales")
	require.NoError(t, err)
	cat, err = s.Commit(cat, entry(id, "sales", schema.FormatCSV))
	require.NoError(t, err)

	// An aborted commit leaves the id unused.
	aborted, err := AssignID(cat, "returns")
	require.NoError(t, err)
	s.interrupt = func(p commitPoint) error {
		if p == pointStaged {
			return errors.New("abort")
		}
		return nil
	}
	_, err = s.Commit(cat, entry(aborted, "returns", schema.FormatCSV))
	require.Error(t, err)
	s.interrupt = nil

	cat, err = s.Load()
	require.NoError(t, err)
	next, err := AssignID(cat, "returns")
	require.NoError(t, err)
	assert.Equal(t, aborted, next)
	assert.Greater(t, next, id)

	cat, err = s.Commit(cat, entry(next, "returns", schema.FormatCSV))
	require.NoError(t, err)

	last, err := AssignID(cat, "orders")
	require.NoError(t, err)
	assert.Greater(t, last, next)
}

func TestCatalog_GetAndWithAreCopyOnWrite(t *testing.T) {
	base, err := Empty().With(entry(0, "sales", schema.FormatCSV))
	require.NoError(t, err)

	next, err := base.With(entry(1, "returns", schema.FormatCSV))
	require.NoError(t, err)

	assert.Equal(t, 1, base.Len())
	assert.Equal(t, 2, next.Len())

	_, err = base.Get(1)
	assert.True(t, lakeerrors.IsCode(err, lakeerrors.CodeTableNotFound))

	got, err := next.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "returns", got.LogicalName)

	idx := next.NameIndex()
	idx["sales"] = 99
	again, _ := next.Lookup("sales")
	assert.Equal(t, int64(0), again.ID)
}

func TestVerify(t *testing.T) {
	s := newTestStore(t)
	cat, err := s.Commit(Empty(), entry(0, "sales", schema.FormatCSV))
	require.NoError(t, err)
	cat, err = s.Commit(cat, entry(1, "returns", schema.FormatParquet))
	require.NoError(t, err)

	for _, rel := range []string{"tables/0.csv", "tables/0.description.md", "tables/1.description.md"} {
		require.NoError(t, os.WriteFile(layout.Abs(s.Root(), rel), []byte("x"), 0644))
	}
	require.NoError(t, os.Mkdir(layout.Abs(s.Root(), "tables/1.parquet"), 0755))

	problems, err := Verify(context.Background(), s.Root(), cat)
	require.NoError(t, err)
	require.Len(t, problems, 1)
	assert.Equal(t, Problem{Table: "returns", Path: "tables/1.parquet", Reason: "not a regular file"}, problems[0])

	require.NoError(t, os.Remove(layout.Abs(s.Root(), "tables/0.csv")))
	problems, err = Verify(context.Background(), s.Root(), cat)
	require.NoError(t, err)
	require.Len(t, problems, 2)
	assert.Equal(t, "missing", problems[0].Reason)
	assert.Equal(t, "sales", problems[0].Table)
}
