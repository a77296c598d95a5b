package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"portfolio-optimizer/internal/compressor"
	"portfolio-optimizer/internal/config"
	"portfolio-optimizer/internal/optimizer"
	"portfolio-optimizer/internal/statistics"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// OptimizerFactory builds an optimizer for one batch run.
type OptimizerFactory func(cfg *config.Config, stats *statistics.Statistics, hook optimizer.LogHookFunc) *optimizer.Optimizer

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	newRun     OptimizerFactory
	observer   optimizer.Observer
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.Mutex

	// Current operation state
	operationMutex sync.RWMutex
	isRunning      bool
	cancel         context.CancelFunc
	currentMode    string
	currentStats   *statistics.Statistics
	lastResults    []compressor.CompressionResult
	lastPlan       []optimizer.PlannedFile
	done           chan struct{}
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type ScanRequest struct {
	Directory string `json:"directory"`
}

type OptimizeRequest struct {
	Directory string `json:"directory"`
	DryRun    bool   `json:"dry_run"`
}

type DirectoryInfo struct {
	Path         string `json:"path"`
	Name         string `json:"name"`
	IsDirectory  bool   `json:"is_directory"`
	Size         int64  `json:"size"`
	ModifiedTime string `json:"modified_time"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NewServer returns a Server that builds batch runs with newRun. observer
// may be nil; when set it is notified alongside the WebSocket stream.
func NewServer(cfg *config.Config, log *logrus.Logger, newRun OptimizerFactory, observer optimizer.Observer) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		newRun:    newRun,
		observer:  observer,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/scan", s.handleScan).Methods("POST")
	api.HandleFunc("/optimize", s.handleOptimize).Methods("POST")
	api.HandleFunc("/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/results", s.handleResults).Methods("GET")
	api.HandleFunc("/directories", s.handleListDirectories).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: WebSocket connections outlive any fixed budget.
		IdleTimeout: 120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

// Stop cancels a running batch, waits for its current file and shuts the
// HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.operationMutex.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	done := s.done
	s.operationMutex.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Wait blocks until the current batch, if any, has finished.
func (s *Server) Wait() {
	s.operationMutex.RLock()
	done := s.done
	s.operationMutex.RUnlock()
	if done != nil {
		<-done
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	running := s.isRunning
	mode := s.currentMode
	stats := s.currentStats
	s.operationMutex.RUnlock()

	var statsData interface{}
	if stats != nil {
		statsData = stats.Snapshot()
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running":    running,
			"mode":       mode,
			"statistics": statsData,
		},
	})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	s.startRun(w, req.Directory, true)
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	s.startRun(w, req.Directory, req.DryRun)
}

func (s *Server) startRun(w http.ResponseWriter, directory string, dryRun bool) {
	if directory == "" {
		directory = s.cfg.GetRootDirectory()
	}
	if info, err := os.Stat(directory); err != nil || !info.IsDir() {
		s.writeError(w, "Directory does not exist", http.StatusBadRequest)
		return
	}

	mode := optimizer.ModeOptimize
	if dryRun {
		mode = optimizer.ModeScan
	}

	cfg := *s.cfg
	cfg.RootDirectory = directory
	cfg.Processing.DryRun = dryRun

	ctx, cancel := context.WithCancel(context.Background())
	stats := statistics.NewStatistics()

	s.operationMutex.Lock()
	if s.isRunning {
		s.operationMutex.Unlock()
		cancel()
		s.writeError(w, "Operation already in progress", http.StatusConflict)
		return
	}
	s.isRunning = true
	s.cancel = cancel
	s.currentMode = mode
	s.currentStats = stats
	s.done = make(chan struct{})
	done := s.done
	s.operationMutex.Unlock()

	go s.runAsync(ctx, &cfg, stats, mode, done)

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: fmt.Sprintf("%s started", mode),
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	running := s.isRunning
	cancel := s.cancel
	s.operationMutex.RUnlock()

	if !running || cancel == nil {
		s.writeJSON(w, APIResponse{
			Success: true,
			Message: "No operation in progress",
		})
		return
	}

	cancel()
	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Stop requested, the current file will finish first",
	})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	results := s.lastResults
	plan := s.lastPlan
	mode := s.currentMode
	s.operationMutex.RUnlock()

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"mode":    mode,
			"results": results,
			"planned": plan,
		},
	})
}

func (s *Server) handleListDirectories(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "."
	}

	// Security check - prevent directory traversal
	if strings.Contains(path, "..") {
		s.writeError(w, "Invalid path", http.StatusBadRequest)
		return
	}
	path = filepath.Clean(path)

	entries, err := os.ReadDir(path)
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to read directory: %v", err), http.StatusInternalServerError)
		return
	}

	directories := make([]DirectoryInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}

		fullPath := filepath.Join(path, entry.Name())
		directories = append(directories, DirectoryInfo{
			Path:         fullPath,
			Name:         entry.Name(),
			IsDirectory:  entry.IsDir(),
			Size:         info.Size(),
			ModifiedTime: info.ModTime().Format(time.RFC3339),
		})
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    directories,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) runAsync(ctx context.Context, cfg *config.Config, stats *statistics.Statistics, mode string, done chan struct{}) {
	defer close(done)

	s.broadcastWSMessage("run_started", map[string]interface{}{
		"directory": cfg.RootDirectory,
		"mode":      mode,
	})

	hook := func(level, message string) {
		s.broadcastWSMessage("log", map[string]interface{}{
			"level":   level,
			"message": message,
		})
	}
	opt := s.newRun(cfg, stats, hook).WithObserver(&wsObserver{server: s, next: s.observer})

	var (
		results []compressor.CompressionResult
		plan    []optimizer.PlannedFile
		err     error
	)
	if mode == optimizer.ModeScan {
		plan, err = opt.Scan(ctx)
	} else {
		results, err = opt.Run(ctx)
	}
	stopped := errors.Is(err, context.Canceled)

	s.operationMutex.Lock()
	s.isRunning = false
	s.cancel = nil
	s.lastResults = results
	s.lastPlan = plan
	s.operationMutex.Unlock()

	if err != nil && !stopped {
		s.broadcastWSMessage("run_error", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	s.broadcastWSMessage("run_completed", map[string]interface{}{
		"mode":       mode,
		"stopped":    stopped,
		"failed":     stats.GetFilesWithErrors(),
		"statistics": stats.Snapshot(),
		"summary":    stats.GetSummary(),
	})
}

// wsObserver streams per-file results to WebSocket clients and forwards
// every notification to next.
type wsObserver struct {
	server *Server
	next   optimizer.Observer
}

func (o *wsObserver) RunStarted(mode string) {
	if o.next != nil {
		o.next.RunStarted(mode)
	}
}

func (o *wsObserver) FileProcessed(res compressor.CompressionResult) {
	o.server.broadcastWSMessage("file_processed", res)
	if o.next != nil {
		o.next.FileProcessed(res)
	}
}

func (o *wsObserver) RunFinished(mode string, elapsed time.Duration, err error) {
	if o.next != nil {
		o.next.RunFinished(mode, elapsed, err)
	}
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	// gorilla/websocket allows one concurrent writer per connection.
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
