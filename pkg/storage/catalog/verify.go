package catalog

import (
	"context"
	"os"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/logflow/datalake/pkg/storage/layout"
)

// Problem is a catalog entry whose file is missing or unusable.
type Problem struct {
	Table  string
	Path   string
	Reason string
}

// Verify checks that every path referenced by cat exists under root as a
// regular file. Problems are returned ordered by table id and path; the error
// is only set when ctx ends first.
func Verify(ctx context.Context, root string, cat *Catalog) ([]Problem, error) {
	type result struct {
		id int64
		Problem
	}

	var (
		mu      sync.Mutex
		results []result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for _, e := range cat.Entries() {
		for _, rel := range []string{e.DataPath, e.DescriptionPath} {
			e, rel := e, rel
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				reason := checkFile(layout.Abs(root, rel))
				if reason == "" {
					return nil
				}
				mu.Lock()
				results = append(results, result{e.ID, Problem{Table: e.LogicalName, Path: rel, Reason: reason}})
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].id != results[j].id {
			return results[i].id < results[j].id
		}
		return results[i].Path < results[j].Path
	})
	problems := make([]Problem, len(results))
	for i, r := range results {
		problems[i] = r.Problem
	}
	return problems, nil
}

func checkFile(path string) string {
	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		return "missing"
	case err != nil:
		return err.Error()
	case !info.Mode().IsRegular():
		return "not a regular file"
	}
	return ""
}
