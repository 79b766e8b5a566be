package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/logflow/datalake/pkg/config"
	lakeerrors "github.com/logflow/datalake/pkg/errors"
	"github.com/logflow/datalake/pkg/ingest"
	"github.com/logflow/datalake/pkg/ingest/schema"
	"github.com/logflow/datalake/pkg/storage/catalog"
	"github.com/logflow/datalake/pkg/storage/layout"
	"github.com/logflow/datalake/pkg/tui"
	"github.com/logflow/datalake/pkg/vcs"
	"github.com/logflow/datalake/pkg/watch"
)

var (
	jsonOutput  bool
	writeConfig bool
	sweepStaged bool
	showByID    bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the lake directory layout",
	Long: `Create tables/ and metadata/ under the lake root and, unless --no-vcs is
set, initialize a git repository there. Running init twice is harmless.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var addCmd = &cobra.Command{
	Use:   "add <name> <source> [description.md]",
	Short: "Ingest a CSV or Parquet file as a new table",
	Long: `Copy a source table into the lake, infer its schema and register it in the
catalog under a logical name. Without a description file a stub is written.

Examples:
  datalake add sales data/sales.csv docs/sales.md
  datalake add returns data/returns.parquet`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runAdd,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show the schema a file would be registered with",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered tables",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var showCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show the catalog entry of one table",
	Long: `Print the location, format and schema registered for a logical name.
With --id the argument is a table id instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the catalog and every file it references",
	Long: `Load both catalog files, cross-checking them, and confirm that every data
and description path exists. A corrupt catalog is reported, never repaired.`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

var watchCmd = &cobra.Command{
	Use:   "watch <inbox>",
	Short: "Ingest table files as they appear in a directory",
	Long: `Watch a directory and ingest every .csv or .parquet file dropped into it.
The file stem is the logical name; a sibling <stem>.md is used as the description.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	initCmd.Flags().BoolVar(&writeConfig, "write-config", false, "Write the effective config to ./.datalake.yaml")
	inspectCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the schema as JSON")
	listCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the catalog entries as JSON")
	showCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the entry as JSON")
	showCmd.Flags().BoolVar(&showByID, "id", false, "Look the table up by id")
	verifyCmd.Flags().BoolVar(&sweepStaged, "sweep", false, "Remove temp files left by an interrupted commit")
}

func runInit(cmd *cobra.Command, args []string) error {
	root := app.cfg.Lake.Root
	if err := layout.EnsureStructure(root); err != nil {
		return err
	}
	app.out.Info("lake ready at %s", root)

	if app.cfg.VCS.Enabled {
		if err := vcs.NewGit(root, app.log).Init(cmd.Context()); err != nil {
			app.out.Warning(err)
		}
	}

	if writeConfig {
		cfg := *app.cfg
		if abs, err := filepath.Abs(root); err == nil {
			cfg.Lake.Root = abs
		}
		if err := config.Write(&cfg, ".datalake.yaml"); err != nil {
			return err
		}
		app.out.Info("wrote .datalake.yaml")
	}
	return nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	name, source := args[0], args[1]
	var description string
	if len(args) == 3 {
		description = args[2]
	}

	inspector, err := openInspector()
	if err != nil {
		return err
	}
	defer inspector.Close()

	p := newPipeline(inspector)
	res, err := p.AddTable(cmd.Context(), name, source, description)
	if err != nil {
		return err
	}
	app.out.Added(res)
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	inspector, err := openInspector()
	if err != nil {
		return err
	}
	defer inspector.Close()

	s, err := inspector.Inspect(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(os.Stdout, s)
	}
	app.out.Info("%s (%s, %d columns)", args[0], s.Format, len(s.Columns))
	app.out.Schema(s)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	cat, err := catalog.NewStore(app.cfg.Lake.Root, app.log).Load()
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(os.Stdout, cat.Entries())
	}
	app.out.Tables(cat.Entries())
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	cat, err := catalog.NewStore(app.cfg.Lake.Root, app.log).Load()
	if err != nil {
		return err
	}
	entry, err := findEntry(cat, args[0], showByID)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(os.Stdout, entry)
	}
	app.out.Entry(entry)
	return nil
}

func findEntry(cat *catalog.Catalog, arg string, byID bool) (catalog.Entry, error) {
	if byID {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return catalog.Entry{}, lakeerrors.Newf(lakeerrors.CodeInvalidArgument, "invalid table id %q", arg)
		}
		return cat.Get(id)
	}
	entry, ok := cat.Lookup(arg)
	if !ok {
		return catalog.Entry{}, lakeerrors.Newf(lakeerrors.CodeTableNotFound, "no table named %q", arg).
			WithContext("name", arg)
	}
	return entry, nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	store := catalog.NewStore(app.cfg.Lake.Root, app.log)
	if sweepStaged {
		n, err := store.SweepStaged()
		if err != nil {
			return err
		}
		app.out.Info("removed %d staged files", n)
	}

	cat, err := store.Load()
	if err != nil {
		return err
	}
	problems, err := catalog.Verify(cmd.Context(), app.cfg.Lake.Root, cat)
	if err != nil {
		return err
	}
	app.out.Verified(cat.Len(), problems)
	if len(problems) > 0 {
		return lakeerrors.Newf(lakeerrors.CodeCatalogCorrupt, "%d referenced files missing or unusable", len(problems))
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	inspector, err := openInspector()
	if err != nil {
		return err
	}
	defer inspector.Close()

	w, err := watch.NewWatcher(args[0], app.cfg.Watch.Debounce, app.log)
	if err != nil {
		return err
	}
	defer w.Close()

	p := newPipeline(inspector)
	w.OnFile = func(ctx context.Context, c watch.Candidate) error {
		res, err := p.AddTable(ctx, c.Name, c.Path, c.Description)
		if err != nil {
			return err
		}
		app.out.Added(res)
		return nil
	}
	w.OnError = func(path string, err error) {
		app.log.Error().Err(err).Str("file", path).Msg("ingestion failed")
		app.out.Error(err)
	}

	app.out.Header(version)
	app.out.Info("watching %s (Ctrl-C to stop)", w.Dir())
	if err := w.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openInspector() (schema.Inspector, error) {
	return schema.Open(app.cfg.Inspect.Engine, app.cfg.Inspect.SampleRows)
}

func newPipeline(inspector schema.Inspector) *ingest.Pipeline {
	root := app.cfg.Lake.Root
	opts := []ingest.Option{
		ingest.WithLogger(app.log),
		ingest.WithMessageTemplate(app.cfg.VCS.MessageTemplate),
	}
	if app.cfg.VCS.Enabled {
		opts = append(opts, ingest.WithRecorder(vcs.NewGit(root, app.log)))
	}
	if !quiet {
		opts = append(opts, ingest.WithCopyProgress(func(label string, size int64) io.Writer {
			return tui.CopyProgress(os.Stderr, label, size)
		}))
	}
	return ingest.NewPipeline(root, inspector, opts...)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
