// Package cmd provides the command-line interface for ShelfScan.
// It handles command parsing, configuration loading, and harvest execution.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/masahif/shelfscan/internal/config"
	"github.com/masahif/shelfscan/internal/crawler"
	"github.com/masahif/shelfscan/internal/fetcher"
	"github.com/masahif/shelfscan/internal/logging"
	"github.com/masahif/shelfscan/internal/report"
	"github.com/masahif/shelfscan/internal/storage"
)

var (
	cfgFile   string
	version   string
	buildTime string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "shelfscan",
	Short: "Crawl product listings and report recurring title phrases",
	Long: `ShelfScan crawls paginated product listings for a set of categories or
search keywords, rotating through a pool of sessions and backing off when
the site pushes back.

Product titles are tokenized into words and two- and three-word phrases,
and the most frequent phrases per category are written as a JSON, YAML or
Markdown report.`,
	Args:          cobra.NoArgs,
	RunE:          runHarvest,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets version information for the CLI
func SetVersionInfo(v, bt string) {
	version = v
	buildTime = bt
	rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./shelfscan.yml)")

	rootCmd.Flags().Bool("show-config", false, "Display current configuration in YAML format and exit")

	// Targets
	rootCmd.Flags().StringArray("category", []string{}, "Category seed in 'name=url' format (repeatable)")
	rootCmd.Flags().StringSliceP("keyword", "k", []string{}, "Search keyword, one category each")
	rootCmd.Flags().String("search-url", "", "Search URL template containing {keyword}")

	// Crawl bounds and politeness
	rootCmd.Flags().IntP("pages", "p", 5, "Listing pages to crawl per category")
	rootCmd.Flags().IntP("concurrency", "c", 2, "Number of concurrent workers")
	rootCmd.Flags().Int("max-requests", 0, "Stop after N fetch attempts (0=unlimited)")
	rootCmd.Flags().DurationP("delay", "r", 1*time.Second, "Minimum delay between requests to a host")
	rootCmd.Flags().DurationP("timeout", "t", 30*time.Second, "HTTP request timeout")
	rootCmd.Flags().Bool("ignore-robots", false, "Ignore robots.txt rules")
	rootCmd.Flags().Int64("seed", 0, "Random seed for jitter and session choice (0=time based)")

	// Retry and sessions
	rootCmd.Flags().Int("max-retries", 6, "Retries before a request is abandoned")
	rootCmd.Flags().Int("pool-size", 2, "Number of sessions in the identity pool")
	rootCmd.Flags().Int("retire-after", 3, "Consecutive failures before a session identity is rotated")
	rootCmd.Flags().StringSlice("proxy", []string{}, "Proxy URL (http, https, socks5); repeat to rotate")
	rootCmd.Flags().StringSliceP("user-agent", "u", []string{"ShelfScan/1.0"}, "User-Agent to rotate through; repeat for several")

	// Analysis
	rootCmd.Flags().Int("ngram-max", 3, "Largest phrase length to count (1-3)")
	rootCmd.Flags().Bool("dedupe", false, "Count each phrase once per title")
	rootCmd.Flags().Int("top", 0, "Limit each phrase ranking to N entries (0=all)")

	// Output
	rootCmd.Flags().StringP("format", "f", "json", "Report format: json, yaml or markdown")
	rootCmd.Flags().StringP("output", "o", "", "Report file (default stdout)")
	rootCmd.Flags().StringP("database", "d", "", "Also store the report in this SQLite database")

	// Logging
	rootCmd.Flags().String("log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.Flags().String("log-format", "json", "Log format: json or text")
	rootCmd.Flags().String("log-file", "", "Also write logs to this file, rotated by size")

	bindFlags := []struct {
		viperKey string
		flagName string
	}{
		{"keywords", "keyword"},
		{"search_url_template", "search-url"},
		{"page_budget", "pages"},
		{"concurrency", "concurrency"},
		{"max_requests", "max-requests"},
		{"request_delay", "delay"},
		{"request_timeout", "timeout"},
		{"random_seed", "seed"},
		{"backoff.max_retries", "max-retries"},
		{"sessions.pool_size", "pool-size"},
		{"sessions.retire_after", "retire-after"},
		{"sessions.proxies", "proxy"},
		{"sessions.user_agents", "user-agent"},
		{"ngram_max", "ngram-max"},
		{"dedupe_per_title", "dedupe"},
		{"top_phrases", "top"},
		{"format", "format"},
		{"output", "output"},
		{"database_path", "database"},
		{"log_level", "log-level"},
		{"log_format", "log-format"},
		{"log_file", "log-file"},
	}

	for _, bind := range bindFlags {
		if err := viper.BindPFlag(bind.viperKey, rootCmd.Flags().Lookup(bind.flagName)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind flag %s: %v\n", bind.flagName, err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("shelfscan")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func generateUserAgent() string {
	if version != "" && version != "dev" {
		return fmt.Sprintf("ShelfScan/%s", version)
	}
	return "ShelfScan/dev"
}

// loadConfig layers viper values over the defaults and applies the flags
// that have no one-to-one config key.
func loadConfig(cmd *cobra.Command) (*config.HarvestConfig, error) {
	cfg := config.DefaultConfig()

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if values, err := cmd.Flags().GetStringArray("category"); err == nil {
		for _, value := range values {
			seed, err := config.ParseCategoryFlag(value)
			if err != nil {
				return nil, err
			}
			cfg.Categories = append(cfg.Categories, seed)
		}
	}

	if cmd.Flags().Changed("ignore-robots") {
		ignore, _ := cmd.Flags().GetBool("ignore-robots")
		cfg.RespectRobots = !ignore
	}

	if !cmd.Flags().Changed("user-agent") && len(cfg.Sessions.UserAgents) == 1 && cfg.Sessions.UserAgents[0] == "ShelfScan/1.0" {
		cfg.Sessions.UserAgents = []string{generateUserAgent()}
	}

	return cfg, nil
}

func showCurrentConfig(cfg *config.HarvestConfig, out io.Writer) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Configuration validation failed: %v\n", err)
		fmt.Fprintf(os.Stderr, "Displaying configuration anyway...\n\n")
	}

	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}

	fmt.Fprintf(out, "# Current ShelfScan Configuration\n")
	fmt.Fprintf(out, "# Generated at: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(out, "# Configuration file search paths: ./shelfscan.yml\n")
	fmt.Fprintf(out, "# Environment variables prefix: SS_\n\n")

	fmt.Fprint(out, string(yamlData))

	fmt.Fprintf(out, "\n# Configuration source priority:\n")
	fmt.Fprintf(out, "# 1. Command-line arguments (highest priority)\n")
	fmt.Fprintf(out, "# 2. Environment variables (SS_ prefix)\n")
	fmt.Fprintf(out, "# 3. Configuration file (shelfscan.yml)\n")
	fmt.Fprintf(out, "# 4. Default values (lowest priority)\n")

	return nil
}

func runHarvest(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if showConfig, _ := cmd.Flags().GetBool("show-config"); showConfig {
		return showCurrentConfig(cfg, cmd.OutOrStdout())
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(cfg.LogLevel)
	logCfg.Format = cfg.LogFormat
	logCfg.FilePath = cfg.LogFile
	if err := logging.SetDefault(*logCfg); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return harvest(ctx, cfg, cmd.OutOrStdout())
}

// harvest runs one crawl and writes its report. A run in which every seed
// failed still writes the report before returning the error.
func harvest(ctx context.Context, cfg *config.HarvestConfig, stdout io.Writer) error {
	seeds, err := cfg.Seeds()
	if err != nil {
		return err
	}

	limiter := crawler.NewRateLimiter(cfg.RequestDelay)

	f, err := fetcher.New(cfg, fetcher.WithCrawlDelayHook(limiter.SetDomainDelay))
	if err != nil {
		return fmt.Errorf("failed to initialize fetcher: %w", err)
	}
	defer f.Close()

	var finished atomic.Int32
	sched, err := crawler.NewScheduler(cfg, f,
		crawler.WithRateLimiter(limiter),
		crawler.WithFinalizeHook(func(cat *crawler.Category) {
			slog.Info("Progress",
				"finished", finished.Add(1),
				"total", len(seeds),
				"last", cat.Name)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}
	if err := sched.Seed(seeds...); err != nil {
		return err
	}

	runID := uuid.NewString()
	slog.Info("Harvest configured",
		"run_id", runID,
		"categories", len(seeds),
		"page_budget", cfg.PageBudget,
		"concurrency", cfg.Concurrency,
		"pool_size", cfg.Sessions.PoolSize)

	runErr := sched.Run(ctx)
	if runErr != nil && !errors.Is(runErr, crawler.ErrAllSeedsFailed) {
		return runErr
	}

	rep := report.Build(runID, sched.Categories(), sched.Stats(), cfg.TopPhrases)

	if err := writeReport(rep, cfg, stdout); err != nil {
		return err
	}

	if cfg.DatabasePath != "" {
		if err := saveReport(rep, cfg.DatabasePath); err != nil {
			return err
		}
	}

	return runErr
}

func writeReport(rep *report.Report, cfg *config.HarvestConfig, stdout io.Writer) error {
	out := stdout
	if cfg.OutputPath != "" && cfg.OutputPath != "-" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0750); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		file, err := os.Create(cfg.OutputPath)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer file.Close()
		out = file
	}

	w, err := report.NewWriter(cfg.Format, out)
	if err != nil {
		return err
	}
	if err := w.Write(rep); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func saveReport(rep *report.Report, dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.SaveReport(rep); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	slog.Info("Report stored", "database", dbPath, "run_id", rep.RunID)
	return nil
}
