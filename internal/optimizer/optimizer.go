package optimizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"portfolio-optimizer/internal/compressor"
	"portfolio-optimizer/internal/config"
	"portfolio-optimizer/internal/logger"
	"portfolio-optimizer/internal/media"
	"portfolio-optimizer/internal/statistics"

	"github.com/sirupsen/logrus"
)

// ErrRootNotFound is returned when the configured root directory is
// missing. It is the only error that aborts a run before any file is
// touched.
var ErrRootNotFound = errors.New("root directory not found")

// Run modes reported to observers.
const (
	ModeOptimize = "optimize"
	ModeScan     = "scan"
)

// LogHookFunc receives user-facing progress messages, e.g. for a WebSocket.
type LogHookFunc func(level, message string)

// Observer is notified about run progress. It is the seam used by the
// metrics package.
type Observer interface {
	RunStarted(mode string)
	FileProcessed(res compressor.CompressionResult)
	RunFinished(mode string, elapsed time.Duration, err error)
}

// Optimizer walks the root directory and shrinks every oversized media
// file, one file at a time.
type Optimizer struct {
	config     *config.Config
	logger     *logrus.Logger
	stats      *statistics.Statistics
	classifier *media.Classifier
	images     compressor.Compressor
	videos     compressor.Compressor
	observer   Observer

	logHook LogHookFunc
}

// FileInfo contains information about a discovered media file.
type FileInfo struct {
	Path      string     `json:"path"`
	RelPath   string     `json:"rel_path"`
	Size      int64      `json:"size"`
	ModTime   time.Time  `json:"mod_time"`
	Kind      media.Kind `json:"kind"`
	Extension string     `json:"extension"`
}

// PlannedFile is the dry-run verdict for a single file.
type PlannedFile struct {
	FileInfo
	TargetBytes   int64 `json:"target_bytes"`
	WouldCompress bool  `json:"would_compress"`
}

// NewOptimizer returns a new Optimizer.
func NewOptimizer(
	cfg *config.Config,
	logger *logrus.Logger,
	stats *statistics.Statistics,
	images compressor.Compressor,
	videos compressor.Compressor,
) *Optimizer {
	return NewOptimizerWithLogHook(cfg, logger, stats, images, videos, nil)
}

// NewOptimizerWithLogHook forwards progress messages to logHook as well.
func NewOptimizerWithLogHook(
	cfg *config.Config,
	logger *logrus.Logger,
	stats *statistics.Statistics,
	images compressor.Compressor,
	videos compressor.Compressor,
	logHook LogHookFunc,
) *Optimizer {
	return &Optimizer{
		config:     cfg,
		logger:     logger,
		stats:      stats,
		classifier: cfg.Classifier(),
		images:     images,
		videos:     videos,
		logHook:    logHook,
	}
}

// WithObserver registers obs for run and file notifications.
func (o *Optimizer) WithObserver(obs Observer) *Optimizer {
	o.observer = obs
	return o
}

// Run optimizes every discovered file and returns the results in
// processing order. A cancelled ctx stops the run before the next file;
// the file in flight always completes. In dry-run mode Run only scans.
func (o *Optimizer) Run(ctx context.Context) (results []compressor.CompressionResult, err error) {
	if o.config.Processing.DryRun {
		o.logger.Info("Running in dry-run mode - no files will be modified")
		_, err := o.Scan(ctx)
		return nil, err
	}

	start := time.Now()
	o.stats.StartTime = start
	o.notifyStarted(ModeOptimize)
	defer func() {
		o.stats.Finalize()
		o.notifyFinished(ModeOptimize, time.Since(start), err)
	}()

	logger.WithOperation(o.logger, ModeOptimize).Info("Starting optimization run")

	files, err := o.Discover()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		o.logger.Info("No media files found")
		return nil, nil
	}
	o.logger.Infof("Found %d media files to process", len(files))

	results = make([]compressor.CompressionResult, 0, len(files))
	for i, file := range files {
		if ctxErr := ctx.Err(); ctxErr != nil {
			o.emit("warn", fmt.Sprintf("Stop requested, %d of %d files left unprocessed", len(files)-i, len(files)))
			return results, ctxErr
		}
		// The file in flight is never interrupted by a stop request.
		results = append(results, o.ProcessFile(context.WithoutCancel(ctx), file))
	}

	o.logger.Info("Optimization run completed")
	return results, nil
}

// Scan reports which files exceed their target without modifying anything.
func (o *Optimizer) Scan(ctx context.Context) (planned []PlannedFile, err error) {
	start := time.Now()
	o.stats.StartTime = start
	o.notifyStarted(ModeScan)
	defer func() {
		o.stats.Finalize()
		o.notifyFinished(ModeScan, time.Since(start), err)
	}()

	logger.WithOperation(o.logger, ModeScan).Info("Starting dry-run scan")

	files, err := o.Discover()
	if err != nil {
		return nil, err
	}

	planned = make([]PlannedFile, 0, len(files))
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return planned, err
		}

		target := o.targetBytes(file.Kind)
		p := PlannedFile{
			FileInfo:      file,
			TargetBytes:   target,
			WouldCompress: file.Size > target,
		}
		planned = append(planned, p)

		if p.WouldCompress {
			o.stats.IncrementWouldCompress()
			o.emit("info", fmt.Sprintf("DRY-RUN: Would compress %s (%s > %s)",
				file.RelPath, statistics.FormatBytes(file.Size), statistics.FormatBytes(target)))
		} else {
			o.logger.Debugf("DRY-RUN: %s already within target", file.RelPath)
		}
	}
	return planned, nil
}

// Discover lists the media files below the root directory in lexical
// order, honouring skip directories and MaxFilesPerRun.
func (o *Optimizer) Discover() ([]FileInfo, error) {
	root, err := o.rootDirectory()
	if err != nil {
		return nil, err
	}

	skip := make(map[string]bool, len(o.config.Processing.SkipDirectories))
	for _, name := range o.config.Processing.SkipDirectories {
		skip[name] = true
	}
	backupDir := o.backupDirectory(root)
	limit := o.config.Processing.MaxFilesPerRun

	var files []FileInfo
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			o.logger.Warnf("Error accessing path %s: %v", path, err)
			return nil
		}

		if d.IsDir() {
			if path != root && (skip[d.Name()] || strings.HasPrefix(d.Name(), ".") || path == backupDir) {
				o.logger.Debugf("Skipping directory: %s", path)
				return filepath.SkipDir
			}
			o.stats.IncrementDirectoriesScanned()
			return nil
		}

		if !d.Type().IsRegular() || compressor.IsTempFile(d.Name()) {
			return nil
		}

		kind := o.classifier.KindOf(path)
		if kind == media.KindUnknown {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			o.logger.Warnf("Error reading file info %s: %v", path, err)
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}

		files = append(files, FileInfo{
			Path:      path,
			RelPath:   rel,
			Size:      info.Size(),
			ModTime:   info.ModTime(),
			Kind:      kind,
			Extension: strings.ToLower(filepath.Ext(path)),
		})
		o.stats.IncrementFilesFound(kind)

		if limit > 0 && len(files) >= limit {
			o.logger.Infof("Reached maximum files limit (%d), stopping discovery", limit)
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}
	return files, nil
}

// ProcessFile backs up and compresses a single file and records the result.
func (o *Optimizer) ProcessFile(ctx context.Context, file FileInfo) compressor.CompressionResult {
	log := logger.WithFileOperation(o.logger, file.Path, "optimize")
	log.Debug("Processing file")

	var res compressor.CompressionResult
	if err := o.backup(file); err != nil {
		res = failed(file, fmt.Errorf("backup failed, file left untouched: %w", err))
	} else {
		switch file.Kind {
		case media.KindImage:
			res = o.images.Compress(ctx, file.Path)
		case media.KindVideo:
			res = o.videos.Compress(ctx, file.Path)
		default:
			res = failed(file, fmt.Errorf("unsupported media kind %q", file.Kind))
		}
	}

	o.stats.Record(res)
	if o.observer != nil {
		o.observer.FileProcessed(res)
	}
	o.report(file, res)
	return res
}

func (o *Optimizer) report(file FileInfo, res compressor.CompressionResult) {
	switch {
	case res.Outcome == compressor.OutcomeError:
		o.emit("error", fmt.Sprintf("%s: %s: %s", file.RelPath, res.ErrorKind, res.Message))
	case res.Outcome == compressor.OutcomeSkipped:
		o.logger.Debugf("%s: already within target (%s)", file.RelPath, statistics.FormatBytes(res.OriginalSize))
	case !res.TargetMet:
		o.emit("warn", fmt.Sprintf("%s: %s, still above target at %s (%s)",
			file.RelPath, res.Outcome, statistics.FormatBytes(res.NewSize), res.Message))
	default:
		o.emit("info", fmt.Sprintf("%s: %s %s -> %s (%.1f%% saved)",
			file.RelPath, res.Outcome, statistics.FormatBytes(res.OriginalSize),
			statistics.FormatBytes(res.NewSize), res.PercentageSaved()))
	}
}

// emit logs message at level and forwards it to the log hook.
func (o *Optimizer) emit(level, message string) {
	switch level {
	case "error":
		o.logger.Error(message)
	case "warn":
		o.logger.Warn(message)
	default:
		o.logger.Info(message)
	}
	if o.logHook != nil {
		o.logHook(level, message)
	}
}

func (o *Optimizer) notifyStarted(mode string) {
	if o.observer != nil {
		o.observer.RunStarted(mode)
	}
}

func (o *Optimizer) notifyFinished(mode string, elapsed time.Duration, err error) {
	if o.observer != nil {
		o.observer.RunFinished(mode, elapsed, err)
	}
}

func (o *Optimizer) rootDirectory() (string, error) {
	root := filepath.Clean(o.config.GetRootDirectory())
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrRootNotFound, root)
	}
	return root, nil
}

func (o *Optimizer) targetBytes(kind media.Kind) int64 {
	if kind == media.KindVideo {
		return o.config.VideoTarget().MaxBytes
	}
	return o.config.ImageTarget().MaxBytes
}

// backupDirectory resolves the configured backup directory against root.
// It returns "" when backups are disabled.
func (o *Optimizer) backupDirectory(root string) string {
	dir := o.config.Processing.BackupDirectory
	if dir == "" {
		return ""
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	return filepath.Clean(dir)
}

// backup copies an oversized original to the backup directory, keeping
// its relative path. Existing backups are never overwritten so the first
// original survives repeated runs.
func (o *Optimizer) backup(file FileInfo) error {
	root, err := o.rootDirectory()
	if err != nil {
		return err
	}
	dir := o.backupDirectory(root)
	if dir == "" || file.Size <= o.targetBytes(file.Kind) {
		return nil
	}

	log := logger.WithFile(o.logger, file.Path)
	backupPath := filepath.Join(dir, file.RelPath)
	if _, err := os.Stat(backupPath); err == nil {
		log.Debugf("Backup already exists: %s", backupPath)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(backupPath), 0755); err != nil {
		return err
	}
	if err := copyFile(file.Path, backupPath); err != nil {
		_ = os.Remove(backupPath)
		return err
	}
	o.stats.IncrementBackupsCreated()
	log.Debugf("Backed up to %s", backupPath)
	return nil
}

// copyFile copies a file from source to destination.
func copyFile(sourcePath, destPath string) error {
	sourceFile, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}
	if err := destFile.Sync(); err != nil {
		return err
	}

	sourceInfo, err := os.Stat(sourcePath)
	if err != nil {
		return err
	}
	return os.Chmod(destPath, sourceInfo.Mode())
}

func failed(file FileInfo, err error) compressor.CompressionResult {
	now := time.Now()
	return compressor.CompressionResult{
		InputPath:    file.Path,
		Kind:         file.Kind,
		OriginalSize: file.Size,
		NewSize:      file.Size,
		Outcome:      compressor.OutcomeError,
		ErrorKind:    compressor.Classify(err),
		Message:      err.Error(),
		StartedAt:    now,
		FinishedAt:   now,
		Error:        err,
	}
}
