package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/perps12oss/cerebro/internal/config"
	"github.com/perps12oss/cerebro/internal/hashcache"
	"github.com/perps12oss/cerebro/internal/model"
	"github.com/perps12oss/cerebro/internal/orchestrator"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan a directory tree for duplicate files",
	Long:  `Scan a directory tree, quick-hash candidates, and report duplicate groups.`,
	RunE:  runScan,
}

var (
	scanRoot           string
	scanMinSize        int64
	scanMaxSize        int64
	scanHidden         bool
	scanSymlinks       bool
	scanExtensions     []string
	scanExcludeDirs    []string
	scanWorkers        int
	scanCachePath      string
	scanMediaType      string
	scanEngine         string
	scanFullHash       bool
	scanNoCache        bool
	scanInventoryDB    string
	scanCacheMode      string
	scanMtimeTolerance int64
	scanResume         bool
)

func init() {
	scanCmd.Flags().StringVarP(&scanRoot, "root", "r", ".", "Root directory to scan")
	scanCmd.Flags().Int64Var(&scanMinSize, "min-size", 1024, "Minimum file size in bytes to consider")
	scanCmd.Flags().Int64Var(&scanMaxSize, "max-size", 0, "Maximum file size in bytes to consider (0 = unlimited)")
	scanCmd.Flags().BoolVar(&scanHidden, "hidden", false, "Include hidden files and directories")
	scanCmd.Flags().BoolVar(&scanSymlinks, "follow-symlinks", false, "Follow symbolic links")
	scanCmd.Flags().StringSliceVar(&scanExtensions, "ext", nil, "Restrict to these extensions (e.g. .jpg,.png)")
	scanCmd.Flags().StringSliceVar(&scanExcludeDirs, "exclude-dir", nil, "Additional directory names to exclude")
	scanCmd.Flags().IntVarP(&scanWorkers, "workers", "w", 0, "Worker count (0 = auto)")
	scanCmd.Flags().StringVar(&scanCachePath, "cache", "", "Hash cache path (default: cache_path from config, else ~/.cerebro_cache/hash_cache.sqlite)")
	scanCmd.Flags().StringVar(&scanMediaType, "media-type", "all", "Restrict to a media type: all|photos|videos|audio")
	scanCmd.Flags().StringVar(&scanEngine, "engine", "simple", "Hashing engine: simple|advanced")
	scanCmd.Flags().BoolVar(&scanFullHash, "full-hash", false, "Confirm quick-hash matches with a full SHA-256 pass")
	scanCmd.Flags().BoolVar(&scanNoCache, "no-cache", false, "Disable the hash cache entirely")
	scanCmd.Flags().StringVar(&scanInventoryDB, "inventory-db", "", "Inventory database path (default: ~/.cerebro_cache/inventory.sqlite)")
	scanCmd.Flags().StringVar(&scanCacheMode, "cache-mode", "", "Cache validation mode: enabled|aggressive (ignored when --no-cache is set)")
	scanCmd.Flags().Int64Var(&scanMtimeTolerance, "mtime-tolerance-ns", 0, "mtime_ns delta tolerated as unchanged under cache-mode=aggressive")
	scanCmd.Flags().BoolVar(&scanResume, "resume", false, "Resume a previously interrupted scan from its last inventory checkpoint, if one exists")
}

func runScan(cmd *cobra.Command, args []string) error {
	log := newLogger()

	root, err := filepath.Abs(scanRoot)
	if err != nil {
		return fmt.Errorf("resolve root path: %w", err)
	}

	// Layer compiled defaults / config file / env vars first (internal/config),
	// then apply only the CLI flags the caller actually set on top — flags
	// always win, matching the documented precedence.
	cfg, err := config.Load(globalConfigFile, nil)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Root = root
	flags := cmd.Flags()
	if flags.Changed("min-size") {
		cfg.MinSizeBytes = scanMinSize
	}
	if flags.Changed("max-size") {
		cfg.MaxFileSizeBytes = scanMaxSize
	}
	if flags.Changed("hidden") {
		cfg.IncludeHidden = scanHidden
	}
	if flags.Changed("follow-symlinks") {
		cfg.FollowSymlinks = scanSymlinks
	}
	if flags.Changed("ext") {
		cfg.AllowedExtensions = scanExtensions
	}
	if flags.Changed("exclude-dir") {
		cfg.ExcludeDirs = scanExcludeDirs
	}
	if flags.Changed("workers") {
		cfg.MaxWorkers = scanWorkers
	}
	if flags.Changed("media-type") {
		cfg.MediaType = model.MediaType(scanMediaType)
	}
	if flags.Changed("engine") {
		cfg.Engine = model.EngineMode(scanEngine)
	}
	if flags.Changed("full-hash") {
		cfg.FullHashEscalation = scanFullHash
	}
	if scanNoCache {
		cfg.CacheMode = model.CacheDisabled
	} else if flags.Changed("cache-mode") {
		switch scanCacheMode {
		case "aggressive":
			cfg.CacheMode = model.CacheAggressive
		case "enabled":
			cfg.CacheMode = model.CacheEnabled
		default:
			return fmt.Errorf("invalid --cache-mode: %s (want enabled|aggressive)", scanCacheMode)
		}
	} else if flags.Changed("no-cache") {
		cfg.CacheMode = model.CacheEnabled
	}
	if flags.Changed("mtime-tolerance-ns") {
		cfg.MtimeToleranceNs = scanMtimeTolerance
	}
	cfg = cfg.WithDefaults()

	inv, err := openInventory(scanInventoryDB)
	if err != nil {
		return fmt.Errorf("open inventory: %w", err)
	}
	defer inv.Close()

	var cache *hashcache.Cache
	if !scanNoCache {
		path := scanCachePath
		if path == "" {
			path = cfg.CachePath
		}
		if path == "" {
			defaultPath, err := hashcache.DefaultPath()
			if err != nil {
				return fmt.Errorf("resolve cache path: %w", err)
			}
			path = defaultPath
		}
		cache = hashcache.Open(path, log)
		defer cache.Close()
	}

	sessions, err := openSessions(log)
	if err != nil {
		return fmt.Errorf("open sessions: %w", err)
	}

	fmt.Printf("Scanning %s...\n", root)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nCanceling... (press Ctrl+C again to force)")
		cancel()
		<-sigCh
		os.Exit(130)
	}()

	orch := orchestrator.New(inv, cache, log)
	scanSessionID := uuid.NewString()
	sessions.BeginScan(scanSessionID, []string{root}, map[string]string{"engine": string(cfg.Engine)})

	isTTY := isTerminal(os.Stderr)
	start := time.Now()
	spinnerIdx := 0

	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()
		var lastPhase string
		var lastPct int
		var lastScanned int64
		for {
			select {
			case ev, ok := <-orch.Events():
				if !ok {
					return
				}
				switch ev.Kind {
				case orchestrator.EventPhaseChanged, orchestrator.EventProgress:
					lastPhase = string(ev.Progress.Phase)
					lastPct = ev.Progress.Percent
					lastScanned = ev.Progress.ScannedFiles
				case orchestrator.EventWarning:
					if isTTY {
						fmt.Fprintf(os.Stderr, "\r\033[K")
					}
					fmt.Fprintf(os.Stderr, "warning: %s\n", ev.Warning)
				}
				if isTTY {
					spinner := spinnerFrames[spinnerIdx%len(spinnerFrames)]
					spinnerIdx++
					fmt.Fprintf(os.Stderr, "\r\033[K%s %s %d%% | %d files | %s",
						spinner, lastPhase, lastPct, lastScanned, time.Since(start).Round(time.Millisecond))
				}
			case <-ticker.C:
			}
		}
	}()

	var result *model.ScanResult
	if scanResume {
		resumed, ok, resumeErr := orch.Resume(ctx)
		if resumeErr != nil {
			<-progressDone
			return fmt.Errorf("resume failed: %w", resumeErr)
		}
		if ok {
			result = resumed
		} else {
			fmt.Fprintln(os.Stderr, "no resumable scan found, starting fresh")
			result, err = orch.Run(ctx, cfg)
		}
	} else {
		result, err = orch.Run(ctx, cfg)
	}
	<-progressDone
	if isTTY {
		fmt.Fprintf(os.Stderr, "\r\033[K")
	}

	if err != nil {
		sessions.MarkFailed(scanSessionID, err.Error())
		return fmt.Errorf("scan failed: %w", err)
	}

	if err := sessions.SetGroups(scanSessionID, result.Groups); err != nil {
		log.Warn().Err(err).Msg("failed to persist groups to session")
	}

	fmt.Printf("Scan complete in %s\n", time.Duration(result.ScanDuration*float64(time.Second)).Round(time.Millisecond))
	fmt.Printf("\nSummary:\n")
	fmt.Printf("  Files scanned:    %s\n", humanize.Comma(result.Stats.FilesScanned))
	fmt.Printf("  Candidates:       %s\n", humanize.Comma(result.Stats.Candidates))
	fmt.Printf("  Duplicate groups: %d\n", result.Stats.DuplicateGroups)

	var wastedBytes int64
	for _, g := range result.Groups {
		wastedBytes += g.Size * int64(len(g.Paths)-1)
	}
	fmt.Printf("  Reclaimable:      %s\n", humanize.Bytes(uint64(wastedBytes)))
	fmt.Printf("\nSession: %s\n", scanSessionID)

	return nil
}
