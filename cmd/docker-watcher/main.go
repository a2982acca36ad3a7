package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/GiovanniCrudo00/Docker-Watcher/internal/alerts"
	"github.com/GiovanniCrudo00/Docker-Watcher/internal/api"
	"github.com/GiovanniCrudo00/Docker-Watcher/internal/config"
	"github.com/GiovanniCrudo00/Docker-Watcher/internal/docker"
	"github.com/GiovanniCrudo00/Docker-Watcher/internal/history"
	"github.com/GiovanniCrudo00/Docker-Watcher/internal/logging"
	"github.com/GiovanniCrudo00/Docker-Watcher/internal/monitor"
	"github.com/GiovanniCrudo00/Docker-Watcher/internal/notifications"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "docker-watcher",
	Short:   "Docker Watcher - container monitoring with email alerts",
	Long:    `Docker Watcher polls the local Docker daemon, tracks per-container CPU, memory and health, and sends aggregated email alerts with a JSON dashboard API.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Docker Watcher %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "alerts.yml", "path to the configuration file")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(dbCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	// Baseline logger for early startup; re-initialized once config is loaded.
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "docker-watcher",
	})

	// Optional .env next to the binary; secrets referenced as ${VAR} in the
	// config file come from here or the real environment.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	store, err := config.NewStore(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("Failed to load configuration")
	}
	cfg := store.Current()

	logging.Init(logging.Config{
		Format:    cfg.Log.Format,
		Level:     cfg.Log.Level,
		Component: "docker-watcher",
	})

	log.Info().Str("version", Version).Msg("Starting Docker Watcher")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector, err := docker.NewCollector(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Docker daemon")
	}
	defer collector.Close()

	var historyStore *history.Store
	var historySink monitor.HistorySink
	if cfg.History.DBPath != "" {
		storeCfg := history.DefaultConfig(cfg.History.DBPath)
		storeCfg.RetentionDays = cfg.History.RetentionDays
		historyStore, err = history.NewStore(storeCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open history database")
		}
		historySink = historyStore
	} else {
		log.Info().Msg("History persistence disabled, no db_path configured")
	}

	tracker := alerts.NewStateTracker(cfg.Monitor.HistoryBuffer)
	detector := alerts.NewDetector(tracker)
	sender := notifications.NewEmailSender()

	mon := monitor.New(store, collector, detector, historySink, sender)
	go mon.Run(ctx)

	router := api.NewRouter(store, collector, detector, Version)
	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Str("listen", cfg.Server.Listen).Msg("Dashboard API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	// Hot reload of alerts.yml; a SIGHUP forces the same reload path.
	watcher, err := config.NewWatcher(store)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create config watcher, config changes will require restart")
	} else {
		watcher.OnReload(func(next *config.Config) {
			logging.Init(logging.Config{
				Format:    next.Log.Format,
				Level:     next.Log.Level,
				Component: "docker-watcher",
			})
			log.Info().Msg("Configuration reloaded")
		})
		watcher.Start()
	}

	sigChan := make(chan os.Signal, 1)
	reloadChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	signal.Notify(reloadChan, syscall.SIGHUP)

	for {
		select {
		case <-reloadChan:
			log.Info().Msg("Received SIGHUP, reloading configuration")
			if err := store.Reload(); err != nil {
				log.Error().Err(err).Msg("Failed to reload configuration, keeping previous")
			}
		case <-sigChan:
			log.Info().Msg("Shutting down")
			goto shutdown
		}
	}

shutdown:
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	if watcher != nil {
		watcher.Stop()
	}
	if historyStore != nil {
		if err := historyStore.Close(); err != nil {
			log.Error().Err(err).Msg("History store close error")
		}
	}

	log.Info().Msg("Stopped")
}

var dbPath string

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect and maintain the history database",
}

func init() {
	dbCmd.PersistentFlags().StringVar(&dbPath, "db", "./data/docker_stats.db", "path to the history database")
	dbCmd.AddCommand(dbStatsCmd, dbListCmd, dbCleanupCmd, dbExportCmd, dbVacuumCmd)
}

func openHistory() *history.Store {
	hs, err := history.OpenForMaintenance(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return hs
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Run: func(cmd *cobra.Command, args []string) {
		hs := openHistory()
		defer hs.Close()

		stats, err := hs.GetStats()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Path:       %s\n", stats.DBPath)
		fmt.Printf("Size:       %.2f MB\n", float64(stats.DBSize)/(1024*1024))
		fmt.Printf("Records:    %d\n", stats.Records)
		fmt.Printf("Containers: %d\n", stats.Containers)
		if !stats.Oldest.IsZero() {
			fmt.Printf("Oldest:     %s\n", stats.Oldest.Format(time.RFC3339))
			fmt.Printf("Newest:     %s\n", stats.Newest.Format(time.RFC3339))
		}
	},
}

var dbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked containers",
	Run: func(cmd *cobra.Command, args []string) {
		hs := openHistory()
		defer hs.Close()

		summaries, err := hs.Containers()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%-25s %-10s %-20s %-20s\n", "NAME", "SAMPLES", "FIRST SEEN", "LAST SEEN")
		for _, cs := range summaries {
			fmt.Printf("%-25s %-10d %-20s %-20s\n",
				cs.Name, cs.Samples,
				cs.FirstSeen.Format("2006-01-02 15:04:05"),
				cs.LastSeen.Format("2006-01-02 15:04:05"))
		}
	},
}

var dbCleanupCmd = &cobra.Command{
	Use:   "cleanup [days]",
	Short: "Remove records older than N days (default 7) and vacuum",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		days := 7
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				fmt.Fprintf(os.Stderr, "Error: invalid days value %q\n", args[0])
				os.Exit(1)
			}
			days = n
		}

		hs := openHistory()
		defer hs.Close()

		removed, err := hs.Cleanup(time.Duration(days) * 24 * time.Hour)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if removed == 0 {
			fmt.Printf("No records older than %d days\n", days)
			return
		}
		fmt.Printf("Removed %d records older than %d days\n", removed, days)
		if err := hs.Vacuum(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Database optimized")
	},
}

var dbExportCmd = &cobra.Command{
	Use:   "export <container-name> [output.csv]",
	Short: "Export a container's samples as CSV",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		output := fmt.Sprintf("export_%s.csv", name)
		if len(args) == 2 {
			output = args[1]
		}

		hs := openHistory()
		defer hs.Close()

		f, err := os.Create(output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()

		count, err := hs.ExportCSV(f, name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if count == 0 {
			fmt.Printf("No records found for container %s\n", name)
			return
		}
		fmt.Printf("Exported %d records to %s\n", count, output)
	},
}

var dbVacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "Optimize the database file",
	Run: func(cmd *cobra.Command, args []string) {
		before := fileSizeMB(dbPath)

		hs := openHistory()
		defer hs.Close()

		if err := hs.Vacuum(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		after := fileSizeMB(dbPath)
		fmt.Printf("Before: %.2f MB\n", before)
		fmt.Printf("After:  %.2f MB\n", after)
		fmt.Printf("Saved:  %.2f MB\n", before-after)
	},
}

func fileSizeMB(path string) float64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return float64(fi.Size()) / (1024 * 1024)
}
