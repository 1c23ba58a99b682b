package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"glmprep/internal/logging"
	"glmprep/internal/params"
	"glmprep/internal/storage"
	"glmprep/pkg/glmprep"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "run":
		return runRun(ctx, args[1:])
	case "sessions":
		return runSessions(ctx, args[1:])
	case "import":
		return runImport(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "params":
		return runParams(args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s (commands: run|sessions|import|runs|params)", msg)
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	sessionID := fs.String("session-id", "", "process only this session id (must be in the filtered table)")
	testMode := fs.Bool("test", false, "test mode: reduced params, at most one session")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	configPath := fs.String("config", "", "parameter file, JSON or YAML (lowest precedence)")
	overrideJSON := fs.String("override-params", "", "JSON override map (highest precedence)")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "session table backend: memory|sqlite")
	dbPath := fs.String("db-path", "glmprep.db", "sqlite session table path")
	dataDir := fs.String("data-dir", "data", "directory holding per-session data files")
	outDir := fs.String("out", "results", "output root for model-input artifacts")
	logLevel := fs.String("log-level", "INFO", "log level: DEBUG|INFO|WARN|ERROR")
	logFormat := fs.String("log-format", "text", "log format: text|json")
	registerParamFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := logging.New(os.Stderr, *logLevel, *logFormat)

	overrides, err := collectOverrides(fs, *configPath, *overrideJSON, log)
	if err != nil {
		return err
	}

	client, err := glmprep.Open(ctx, glmprep.Options{
		StoreKind: *storeKind,
		DBPath:    *dbPath,
		DataDir:   *dataDir,
		OutDir:    *outDir,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Run(ctx, glmprep.RunRequest{
		SessionID: *sessionID,
		Overrides: overrides,
		TestMode:  *testMode,
		RunID:     *runID,
	})
	if err != nil {
		return err
	}

	fmt.Printf("run_id=%s sessions=%d completed=%d skipped=%d failed=%d elapsed_ms=%d\n",
		summary.RunID, len(summary.Results), summary.Completed, summary.Skipped, summary.Failed, summary.ElapsedMS)
	return nil
}

func runSessions(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "session table backend: memory|sqlite")
	dbPath := fs.String("db-path", "glmprep.db", "sqlite session table path")
	project := fs.String("project", storage.DefaultFilter().Project, "project filter (empty matches all)")
	all := fs.Bool("all", false, "list every session, ignoring the production filter")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := glmprep.Open(ctx, glmprep.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	filter := storage.DefaultFilter()
	filter.Project = *project
	if *all {
		filter = storage.Filter{}
	}
	records, err := client.Sessions(ctx, filter)
	if err != nil {
		return err
	}
	for _, record := range records {
		fmt.Printf("%s project=%s ephys=%t task=%t annotated=%t production=%t issues=%d\n",
			record.SessionID, record.Project, record.IsEphys, record.IsTask,
			record.IsAnnotated, record.IsProduction, len(record.Issues))
	}
	fmt.Printf("%d sessions\n", len(records))
	return nil
}

func runImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "session table backend: memory|sqlite")
	dbPath := fs.String("db-path", "glmprep.db", "sqlite session table path")
	file := fs.String("file", "", "session table JSON file to import")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("import requires --file")
	}

	client, err := glmprep.Open(ctx, glmprep.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	n, err := client.ImportSessions(ctx, *file)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d sessions into %s store\n", n, *storeKind)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "session table backend: memory|sqlite")
	dbPath := fs.String("db-path", "glmprep.db", "sqlite session table path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := glmprep.Open(ctx, glmprep.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	records, err := client.Runs(ctx)
	if err != nil {
		return err
	}
	for _, record := range records {
		fmt.Printf("%s created=%s sessions=%d completed=%d skipped=%d failed=%d test=%t\n",
			record.RunID, record.CreatedAtUTC, record.Sessions,
			record.Completed, record.Skipped, record.Failed, record.TestMode)
	}
	fmt.Printf("%d runs\n", len(records))
	return nil
}

func runParams(args []string) error {
	fs := flag.NewFlagSet("params", flag.ContinueOnError)
	configPath := fs.String("config", "", "parameter file, JSON or YAML")
	overrideJSON := fs.String("override-params", "", "JSON override map")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := logging.New(os.Stderr, "WARN", "text")
	overrides, err := collectOverrides(fs, *configPath, *overrideJSON, log)
	if err != nil {
		return err
	}
	app, err := params.ApplyOverrides(params.Defaults(""), overrides)
	if err != nil {
		return err
	}
	return printJSON(app)
}
