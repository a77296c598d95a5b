package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"portfolio-optimizer/internal/compressor"
	"portfolio-optimizer/internal/config"
	"portfolio-optimizer/internal/ffmpeg"
	"portfolio-optimizer/internal/logger"
	"portfolio-optimizer/internal/media"
	"portfolio-optimizer/internal/metadata"
	"portfolio-optimizer/internal/metrics"
	"portfolio-optimizer/internal/optimizer"
	"portfolio-optimizer/internal/statistics"
	"portfolio-optimizer/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	rootDir    string
	dryRun     bool
	verbose    bool
	quiet      bool
	jsonOutput bool
	port       int
)

// rootCmd optimizes the configured media tree.
var rootCmd = &cobra.Command{
	Use:   "portfolio-optimizer [directory]",
	Short: "Shrink oversized portfolio images and videos in place",
	Long: `Portfolio Optimizer walks a media tree and re-encodes every image and
video that exceeds its configured byte budget, so the whole portfolio can
be served without heavy assets.

Features:
- Size-targeting JPEG quality loop with resizing to a bounding box
- PNG, WebP and GIF conversion to JPEG unless transparency is used
- Single-pass ffmpeg re-encode at a bitrate derived from the duration
- EXIF tag preservation through exiftool
- Optional backups of originals
- Dry-run scan, statistics, Prometheus metrics and a web control surface`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOptimize(cmd.Context(), args)
	},
}

// scanCmd reports which files exceed their targets without modifying them.
var scanCmd = &cobra.Command{
	Use:   "scan [directory]",
	Short: "List files above their size target without modifying anything",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd.Context(), args)
	},
}

// compressCmd compresses individual files.
var compressCmd = &cobra.Command{
	Use:   "compress <file>...",
	Short: "Compress the given files towards their size target",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(cmd.Context(), args)
	},
}

// inspectCmd shows what the optimizer knows about a single file.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show media properties, target verdict and EXIF summary of a file",
	Long: `Inspect decodes a file and prints its kind, size, dimensions and
transparency, whether it exceeds its size target, and the EXIF summary.
This is useful for understanding why a file was or was not converted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(args[0])
	},
}

// serveCmd starts the web control surface.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP control surface",
	Long: `Starts an HTTP server that exposes the optimizer over a JSON API:
- Start scans and optimization runs on a directory
- Stop a running batch between files
- Follow progress over a WebSocket
- Scrape Prometheus metrics at /metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "root directory of the media tree")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be compressed without making changes")
	inspectCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the inspection as JSON")
	serveCmd.Flags().IntVar(&port, "port", 8080, "port to run web server on")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(compressCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(serveCmd)
}

// runOptimize executes a full optimization run.
func runOptimize(ctx context.Context, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if dryRun {
		return runScan(ctx, args)
	}

	log := setupLogger(cfg)
	p := newPipeline(cfg, log)
	defer p.Close()

	stats := statistics.NewStatistics()
	opt := optimizer.NewOptimizer(cfg, log, stats, p.images, p.videos).
		WithObserver(metrics.NewRunObserver())

	_, err = opt.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("optimization failed: %w", err)
	}

	if !quiet {
		fmt.Println("\n" + stats.GetSummary())
		if breakdown := stats.GetOutcomeBreakdown(); breakdown != "" {
			fmt.Println(breakdown)
		}
		if errs := stats.GetErrorSummary(); errs != "" {
			fmt.Println(errs)
		}
	}
	if err != nil {
		return fmt.Errorf("optimization interrupted: %w", err)
	}
	return nil
}

// runScan lists the files a run would compress.
func runScan(ctx context.Context, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Processing.DryRun = true

	fmt.Fprintf(os.Stderr, "Scanning directory: %s\n", cfg.GetRootDirectory())

	log := setupLogger(cfg)
	stats := statistics.NewStatistics()
	opt := optimizer.NewOptimizer(cfg, log, stats, nil, nil).
		WithObserver(metrics.NewRunObserver())

	planned, err := opt.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if quiet {
		return nil
	}

	fmt.Println("\n==================================================")
	fmt.Println("SCAN RESULTS")
	fmt.Println("==================================================")
	var over int
	for _, p := range planned {
		if !p.WouldCompress {
			continue
		}
		over++
		fmt.Printf("  %-6s %10s > %-10s %s\n", p.Kind,
			statistics.FormatBytes(p.Size), statistics.FormatBytes(p.TargetBytes), p.RelPath)
	}
	fmt.Printf("\n%d of %d media files exceed their target\n", over, len(planned))
	fmt.Println("\n" + stats.GetSummary())
	return nil
}

// runCompress compresses each named file independently.
func runCompress(ctx context.Context, paths []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	p := newPipeline(cfg, log)
	defer p.Close()

	classifier := cfg.Classifier()
	stats := statistics.NewStatistics()
	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}

		kind := classifier.KindOf(path)
		if kind == media.KindUnknown {
			fmt.Fprintf(os.Stderr, "Skipping %s: not a supported media file\n", path)
			continue
		}
		stats.IncrementFilesFound(kind)

		var res compressor.CompressionResult
		switch kind {
		case media.KindImage:
			res = p.images.Compress(context.WithoutCancel(ctx), path)
		default:
			res = p.videos.Compress(context.WithoutCancel(ctx), path)
		}
		stats.Record(res)

		if !quiet {
			printResult(res)
		}
	}
	stats.Finalize()

	if !quiet && len(paths) > 1 {
		fmt.Println("\n" + stats.GetSummary())
	}
	if failed := stats.GetFilesWithErrors(); failed > 0 {
		log.Warnf("%d of %d files could not be compressed", failed, stats.GetTotalFilesProcessed())
	}
	return nil
}

func printResult(res compressor.CompressionResult) {
	if res.Outcome == compressor.OutcomeError {
		fmt.Printf("%s: %s (%s): %v\n", res.InputPath, res.Outcome, res.ErrorKind, res.Error)
		return
	}

	line := fmt.Sprintf("%s: %s %s -> %s", res.InputPath, res.Outcome,
		statistics.FormatBytes(res.OriginalSize), statistics.FormatBytes(res.NewSize))
	if res.OutputPath != "" && res.OutputPath != res.InputPath {
		line += " as " + res.OutputPath
	}
	if res.Quality > 0 {
		line += fmt.Sprintf(", quality %d", res.Quality)
	}
	if res.BitrateKbps > 0 {
		line += fmt.Sprintf(", %d kbps", res.BitrateKbps)
	}
	if !res.TargetMet {
		line += ", target not met"
	}
	fmt.Println(line)
}

// inspection is the JSON form of the inspect command.
type inspection struct {
	Asset       *media.Asset      `json:"asset"`
	TargetBytes int64             `json:"target_bytes"`
	OverTarget  bool              `json:"over_target"`
	EXIF        *metadata.Summary `json:"exif,omitempty"`
}

// runInspect prints what the optimizer sees for a single file.
func runInspect(filePath string) error {
	if !fileExists(filePath) {
		return fmt.Errorf("file does not exist: %s", filePath)
	}

	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	asset, err := cfg.Classifier().Inspect(filePath)
	if err != nil {
		return err
	}

	var target int64
	switch asset.Kind {
	case media.KindImage:
		target = cfg.ImageTarget().MaxBytes
	case media.KindVideo:
		target = cfg.VideoTarget().MaxBytes
	}

	result := inspection{
		Asset:       asset,
		TargetBytes: target,
		OverTarget:  target > 0 && asset.Size > target,
	}

	summary, exifErr := metadata.ReadSummary(filePath)
	if exifErr == nil {
		result.EXIF = summary
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Printf("File:   %s\n", asset.Path)
	fmt.Printf("Kind:   %s\n", asset.Kind)
	fmt.Printf("Size:   %s\n", statistics.FormatBytes(asset.Size))
	if asset.Kind == media.KindImage {
		fmt.Printf("Format: %s, %dx%d\n", asset.Format, asset.Width, asset.Height)
		fmt.Printf("Alpha:  channel=%t, transparent pixels=%t\n", asset.HasAlpha, asset.UsesTransparency)
	}
	if target > 0 {
		verdict := "within target"
		if result.OverTarget {
			verdict = "exceeds target"
		}
		fmt.Printf("Target: %s (%s)\n", statistics.FormatBytes(target), verdict)
	}

	switch {
	case exifErr == nil:
		fmt.Println("EXIF:")
		if camera := summary.Camera(); camera != "" {
			fmt.Printf("  Camera:   %s\n", camera)
		}
		if summary.LensModel != "" {
			fmt.Printf("  Lens:     %s\n", summary.LensModel)
		}
		if summary.Software != "" {
			fmt.Printf("  Software: %s\n", summary.Software)
		}
		if summary.TakenAt != nil {
			fmt.Printf("  Taken:    %s (%s)\n", summary.TakenAt.Format("2006-01-02 15:04:05"), summary.DateSource)
		}
		if summary.Orientation > 1 {
			fmt.Printf("  Orientation: %d\n", summary.Orientation)
		}
	case errors.Is(exifErr, metadata.ErrNoEXIF):
		fmt.Println("EXIF:   none")
	default:
		fmt.Printf("EXIF:   unreadable (%v)\n", exifErr)
	}

	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe() error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	p := newPipeline(cfg, log)
	defer p.Close()

	factory := func(c *config.Config, stats *statistics.Statistics, hook optimizer.LogHookFunc) *optimizer.Optimizer {
		return optimizer.NewOptimizerWithLogHook(c, log, stats, p.images, p.videos, hook)
	}
	server := web.NewServer(cfg, log, factory, metrics.NewRunObserver())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("Portfolio Optimizer control surface listening on http://localhost:%d\n", port)
	fmt.Printf("Metrics available at http://localhost:%d/metrics\n", port)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	<-sigChan
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped gracefully")
	return nil
}

// pipeline holds the compressors shared by all files of a command.
type pipeline struct {
	images    *compressor.ImageCompressor
	videos    *compressor.VideoCompressor
	preserver *metadata.Preserver
}

func newPipeline(cfg *config.Config, log *logrus.Logger) *pipeline {
	p := &pipeline{
		images: compressor.NewImageCompressor(cfg.ImageTarget(), log),
	}

	if cfg.Images.PreserveMetadata {
		preserver, err := metadata.NewPreserver("", log)
		if err != nil {
			log.Warnf("EXIF preservation disabled: %v", err)
		} else {
			p.preserver = preserver
			p.images.WithMetadataCopier(preserver)
		}
	}

	runner := ffmpeg.NewRunner(cfg.Video.FFmpegPath, cfg.Video.FFprobePath, log)
	if err := runner.Available(); err != nil {
		log.Warnf("Video compression unavailable: %v", err)
	}
	p.videos = compressor.NewVideoCompressor(cfg.VideoTarget(), runner, log)

	return p
}

func (p *pipeline) Close() {
	if p.preserver != nil {
		p.preserver.Close()
	}
}

// loadConfig loads configuration and applies CLI overrides.
func loadConfig(args []string) (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	if rootDir != "" {
		cfg.RootDirectory = rootDir
	}
	if len(args) > 0 {
		cfg.RootDirectory = args[0]
	}
	if dryRun {
		cfg.Processing.DryRun = true
	}

	return cfg, nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
		log.Warnf("Falling back to default logger: %v", err)
	}

	return log
}

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
