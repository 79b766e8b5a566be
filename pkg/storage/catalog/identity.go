package catalog

import (
	lakeerrors "github.com/logflow/datalake/pkg/errors"
	"github.com/logflow/datalake/pkg/validation"
)

// AssignID returns the id a new table called name would receive: one more
// than the highest id in the name index, or 0 for an empty lake.
//
// Nothing is persisted. The id only becomes real when Commit succeeds, so an
// abandoned assignment leaves no trace and the next call returns the same id.
// Callers must hold the ingestion lock from AssignID through Commit.
func AssignID(cat *Catalog, name string) (int64, error) {
	if err := validation.LogicalName(name); err != nil {
		return 0, err
	}
	if id, exists := cat.byName[name]; exists {
		return 0, lakeerrors.DuplicateLogicalName(name, id)
	}

	maxID, ok := cat.MaxID()
	if !ok {
		return 0, nil
	}
	return maxID + 1, nil
}
