// Package layout owns the lake directory structure and the canonical
// locations of table files inside it.
package layout

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	lakeerrors "github.com/logflow/datalake/pkg/errors"
	"github.com/logflow/datalake/pkg/ingest/schema"
)

const (
	TablesDir   = "tables"
	MetadataDir = "metadata"

	CatalogFile   = "catalog.json"
	NameIndexFile = "table_names.json"

	descriptionSuffix = ".description.md"
)

// Paths are the lake-relative destinations of one table.
// They always use forward slashes so catalog.json is portable.
type Paths struct {
	Data        string
	Description string
}

// EnsureStructure creates tables/ and metadata/ under root if absent.
func EnsureStructure(root string) error {
	for _, dir := range []string{TablesDir, MetadataDir} {
		full := filepath.Join(root, dir)

		info, err := os.Stat(full)
		if err == nil {
			if !info.IsDir() {
				return lakeerrors.LayoutUnwritable(full, fmt.Errorf("%s exists and is not a directory", dir))
			}
			continue
		}
		if !os.IsNotExist(err) {
			return lakeerrors.LayoutUnwritable(full, err)
		}

		if err := os.MkdirAll(full, 0755); err != nil {
			return lakeerrors.LayoutUnwritable(full, err)
		}
	}
	return nil
}

// DestinationPaths returns tables/<id>.<ext> and tables/<id>.description.md.
func DestinationPaths(id int64, format schema.Format) Paths {
	base := fmt.Sprintf("%d", id)
	return Paths{
		Data:        path.Join(TablesDir, base+format.Ext()),
		Description: path.Join(TablesDir, base+descriptionSuffix),
	}
}

// Abs resolves a lake-relative path against root.
func Abs(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(rel))
}

// CatalogPath returns the absolute path of metadata/catalog.json.
func CatalogPath(root string) string {
	return filepath.Join(root, MetadataDir, CatalogFile)
}

// NameIndexPath returns the absolute path of metadata/table_names.json.
func NameIndexPath(root string) string {
	return filepath.Join(root, MetadataDir, NameIndexFile)
}
