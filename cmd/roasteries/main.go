package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/maloquacious/roasteries/internal/catalog"
	"github.com/maloquacious/roasteries/internal/config"
	"github.com/maloquacious/roasteries/internal/durable"
	"github.com/maloquacious/roasteries/internal/legacy"
	"github.com/maloquacious/roasteries/internal/logger"
	"github.com/maloquacious/roasteries/internal/session"
	"github.com/maloquacious/roasteries/internal/store"
	"github.com/maloquacious/roasteries/internal/store/sqlite"
	"github.com/maloquacious/semver"
	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	version   = semver.Version{Minor: 1, PreRelease: "alpha", Build: semver.Commit()}
	buildDate = ""
)

var (
	configPath string
	dataDir    string
	legacyFile string
	logLevel   string
	logFormat  string
	asJSON     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "roasteries",
		Short:         "Danish coffee roastery tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addGlobalFlags(rootCmd.PersistentFlags())

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List roasteries",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	listCmd.Flags().Bool("visited", false, "only roasteries you have bought from")
	listCmd.Flags().Bool("starred", false, "only starred roasteries")
	listCmd.Flags().String("search", "", "case-insensitive name filter")
	listCmd.Flags().String("region", "", "only roasteries in this region")
	listCmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	getCmd := &cobra.Command{
		Use:   "get NAME",
		Short: "Show one roastery",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	}
	getCmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	setCmd := &cobra.Command{
		Use:   "set NAME FIELD VALUE",
		Short: "Update one field (" + fieldList() + ")",
		Args:  cobra.ExactArgs(3),
		RunE:  runSet,
	}

	regionsCmd := &cobra.Command{
		Use:   "regions",
		Short: "List regions and how many roasteries each has",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printRegions(cmd.OutOrStdout(), catalog.Default())
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show visited and starred counts",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the database to a .sqlite file",
		Args:  cobra.NoArgs,
		RunE:  runExport,
	}
	exportCmd.Flags().StringP("out", "o", "", "output file (default coffee-tracker-YYYY-MM-DD.sqlite)")

	importCmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Replace the database with an exported .sqlite file",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}

	shellCmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive session",
		Args:  cobra.NoArgs,
		RunE:  runShell,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the site and the roastery API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	addServeFlags(serveCmd.Flags())

	// db command group
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}
	dbCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and seed the database",
		Args:  cobra.NoArgs,
		RunE:  runDBCreate,
	}
	dbUpgradeCmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Apply schema migrations to the saved database and report them",
		Args:  cobra.NoArgs,
		RunE:  runDBUpgrade,
	}
	dbVerifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Report the schema state of the saved database without changing it",
		Args:  cobra.NoArgs,
		RunE:  runDBVerify,
	}
	dbCmd.AddCommand(dbCreateCmd, dbUpgradeCmd, dbVerifyCmd)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfig,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}

	rootCmd.AddCommand(listCmd, getCmd, setCmd, regionsCmd, statsCmd, exportCmd, importCmd,
		shellCmd, serveCmd, dbCmd, configCmd, versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Default.Error("%v", err)
		os.Exit(1)
	}
}

func addGlobalFlags(fs *pflag.FlagSet) {
	fs.StringVar(&configPath, "config", config.FileName, "config file (JSONC)")
	fs.StringVar(&dataDir, "data-dir", "", "directory holding the saved database")
	fs.StringVar(&legacyFile, "legacy-file", "", "local storage dump with legacy notes")
	fs.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&logFormat, "log-format", "", "log format (console, json)")
}

func fieldList() string {
	var names []string
	for _, f := range store.Fields() {
		names = append(names, f.String())
	}
	return strings.Join(names, ", ")
}

// loadConfig merges the config file with the flags the user set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	explicit := cmd.Flags().Changed("config")
	cfg, err := config.Load(configPath, explicit)
	if err != nil {
		return config.Config{}, err
	}

	cfg = config.Merge(cfg, config.Config{
		DataDir:    dataDir,
		LegacyFile: legacyFile,
		LogLevel:   logLevel,
		LogFormat:  logFormat,
	})
	if cmd.Flags().Lookup("port") != nil && cmd.Flags().Changed("port") {
		cfg.Port = port
	}
	if cmd.Flags().Lookup("public") != nil && cmd.Flags().Changed("public") {
		cfg.PublicDir = publicDir
	}
	return cfg, config.Validate(cfg)
}

func newLogger(cfg config.Config) (logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if cfg.LogFormat == "json" {
		return logger.New(os.Stderr, level), nil
	}
	return logger.NewConsole(os.Stderr, level), nil
}

// openSession runs the startup sequence. Failing here halts the command.
func openSession(cmd *cobra.Command) (*session.Session, config.Config, logger.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, config.Config{}, nil, err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, config.Config{}, nil, err
	}

	s, err := session.Start(cmd.Context(), session.Options{
		Durable: durable.NewFileStore(cfg.DataDir),
		Catalog: catalog.Default(),
		Legacy:  legacy.KVFile{Path: cfg.LegacyFile},
		Logger:  log,
	})
	if err != nil {
		if errors.Is(err, durable.ErrUnavailable) {
			log.Error("cannot open the saved database in %s", cfg.DataDir)
		}
		return nil, config.Config{}, nil, fmt.Errorf("initialization failed: %w", err)
	}
	return s, cfg, log, nil
}

func runList(cmd *cobra.Command, args []string) error {
	s, _, _, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	var f session.Filter
	f.Visited, _ = cmd.Flags().GetBool("visited")
	f.Starred, _ = cmd.Flags().GetBool("starred")
	f.Search, _ = cmd.Flags().GetString("search")
	f.Region, _ = cmd.Flags().GetString("region")

	entries, err := s.List(cmd.Context(), f)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(cmd.OutOrStdout(), entries)
	}
	return printEntries(cmd.OutOrStdout(), entries)
}

func printEntries(w io.Writer, entries []session.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tREGION\tVISITED\tESPRESSO\tSTARRED\tCOMMENT")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Name, e.Region, mark(e.Purchased), mark(e.HasEspresso), mark(e.Starred), e.Comment)
	}
	return tw.Flush()
}

// RegionCount is the number of catalog roasteries in a region.
type RegionCount struct {
	Region     string `json:"region"`
	Roasteries int    `json:"roasteries"`
}

func regionCounts(c *catalog.Catalog) []RegionCount {
	counts := make(map[string]int)
	for _, e := range c.Entries() {
		counts[e.Region]++
	}
	out := make([]RegionCount, 0, len(counts))
	for _, region := range c.Regions() {
		out = append(out, RegionCount{Region: region, Roasteries: counts[region]})
	}
	return out
}

func printRegions(w io.Writer, c *catalog.Catalog) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REGION\tROASTERIES")
	for _, rc := range regionCounts(c) {
		fmt.Fprintf(tw, "%s\t%d\n", rc.Region, rc.Roasteries)
	}
	return tw.Flush()
}

func mark(b bool) string {
	if b {
		return "x"
	}
	return ""
}

func runGet(cmd *cobra.Command, args []string) error {
	s, _, _, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	r, err := s.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(cmd.OutOrStdout(), r)
	}
	return printRecord(cmd.OutOrStdout(), r)
}

func printRecord(w io.Writer, r store.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "name\t%s\n", r.Name)
	fmt.Fprintf(tw, "purchased\t%t\n", r.Purchased)
	fmt.Fprintf(tw, "hasEspresso\t%t\n", r.HasEspresso)
	fmt.Fprintf(tw, "starred\t%t\n", r.Starred)
	fmt.Fprintf(tw, "comment\t%s\n", r.Comment)
	fmt.Fprintf(tw, "website\t%s\n", r.Website)
	fmt.Fprintf(tw, "region\t%s\n", r.Region)
	fmt.Fprintf(tw, "ratings\tquality=%d price=%d service=%d\n", r.QualityRating, r.PriceRating, r.ServiceRating)
	return tw.Flush()
}

func runSet(cmd *cobra.Command, args []string) error {
	u, err := store.ParseUpdate(args[1], args[2])
	if err != nil {
		return err
	}

	s, _, _, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	return s.Set(cmd.Context(), args[0], u)
}

func runStats(cmd *cobra.Command, args []string) error {
	s, _, _, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.Stats(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Visited: %d/%d\nStarred: %d\n", st.Visited, st.Total, st.Starred)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	s, _, log, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		out = session.ExportFileName(time.Now())
	}

	image, err := s.Export(cmd.Context())
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(out, bytes.NewReader(image)); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	log.Info("exported %d bytes to %s", len(image), out)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	s, _, log, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	report, err := s.Import(cmd.Context(), data)
	if errors.Is(err, store.ErrCorruptSnapshot) {
		return fmt.Errorf("%s is not a roastery database; nothing was changed: %w", args[0], err)
	}
	if err != nil {
		return err
	}
	logReport(log, report)
	fmt.Fprintf(cmd.OutOrStdout(), "imported %s\n", args[0])
	return nil
}

func logReport(log logger.Logger, r *sqlite.SchemaReport) {
	if len(r.AddedColumns) > 0 {
		log.Info("added columns: %s", strings.Join(r.AddedColumns, ", "))
	}
	if len(r.Renamed) > 0 {
		log.Info("renamed: %s", strings.Join(r.Renamed, ", "))
	}
	if r.Seeded > 0 {
		log.Info("added %d roasteries", r.Seeded)
	}
	for _, err := range r.Failures {
		log.Warn("%v", err)
	}
}

func runDBCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	_, found, err := durable.NewFileStore(cfg.DataDir).Load(cmd.Context())
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("database already exists in %s", cfg.DataDir)
	}

	s, _, _, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "created database in %s\n", cfg.DataDir)
	return nil
}

// runDBUpgrade opens the saved database, which migrates and saves it, and
// reports what the migration changed.
func runDBUpgrade(cmd *cobra.Command, args []string) error {
	s, cfg, log, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	report := s.StartupReport()
	logReport(log, &report)

	failures := make([]string, 0, len(report.Failures))
	for _, f := range report.Failures {
		failures = append(failures, f.Error())
	}
	summary := map[string]any{
		"dataDir":      cfg.DataDir,
		"changed":      report.Changed(),
		"created":      report.Created,
		"renamed":      nonNil(report.Renamed),
		"addedColumns": nonNil(report.AddedColumns),
		"seeded":       report.Seeded,
		"failures":     failures,
	}
	if err := writeJSON(cmd.OutOrStdout(), summary); err != nil {
		return err
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d migration steps failed", len(failures))
	}
	return nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// runDBVerify reports the schema state of the saved database. It does not
// migrate or save anything.
func runDBVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	in, err := session.Inspect(cmd.Context(), durable.NewFileStore(cfg.DataDir), log)
	if err != nil {
		return fmt.Errorf("verify %s: %w", cfg.DataDir, err)
	}

	summary := map[string]any{
		"dataDir":    cfg.DataDir,
		"found":      in.Found,
		"schema":     in.State.String(),
		"roasteries": in.Roasteries,
		"version":    version.String(),
	}
	if err := writeJSON(cmd.OutOrStdout(), summary); err != nil {
		return err
	}
	if in.State != store.StateReady {
		return fmt.Errorf("schema is %s", in.State)
	}
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out, err := config.Format(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
