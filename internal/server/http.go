package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/botany-labs/voice-agent-service/internal/assistant"
	"github.com/botany-labs/voice-agent-service/internal/audio"
	"github.com/botany-labs/voice-agent-service/internal/call"
	"github.com/botany-labs/voice-agent-service/internal/config"
	"github.com/botany-labs/voice-agent-service/internal/conversation"
	"github.com/botany-labs/voice-agent-service/internal/metrics"
	"github.com/botany-labs/voice-agent-service/internal/protocol"
	"github.com/botany-labs/voice-agent-service/internal/speech"
	"github.com/botany-labs/voice-agent-service/internal/vad"
)

// Transport labels used in sessions and metrics.
const (
	TransportBrowser   = "browser"
	TransportTelephony = "telephony"
)

// Assistants holds the per-transport assistants. Each transport needs its
// own because synthesis output formats differ: browsers play 24 kHz PCM,
// phones play 8 kHz μ-law.
type Assistants struct {
	Browser   *assistant.Assistant
	Telephony *assistant.Assistant
}

// HTTPServer terminates calls and serves monitoring endpoints.
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	registry   *Registry
	metrics    *metrics.Metrics
	assistants Assistants

	// transcriber handles one-shot browser utterances.
	transcriber speech.Transcriber

	// liveFactory dials a fresh streaming transcriber per telephony call.
	liveFactory func() (speech.LiveTranscriber, error)

	upgrader websocket.Upgrader

	startTime time.Time
}

// NewHTTPServer creates the HTTP server.
func NewHTTPServer(cfg *config.Config, assistants Assistants, transcriber speech.Transcriber,
	liveFactory func() (speech.LiveTranscriber, error), registry *Registry, m *metrics.Metrics, logger *slog.Logger) (*HTTPServer, error) {

	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if assistants.Browser == nil {
		return nil, fmt.Errorf("browser assistant cannot be nil")
	}

	if transcriber == nil {
		return nil, fmt.Errorf("transcriber cannot be nil")
	}

	if cfg.Telephony.Enabled {
		if assistants.Telephony == nil {
			return nil, fmt.Errorf("telephony assistant cannot be nil when telephony is enabled")
		}
		if liveFactory == nil {
			return nil, fmt.Errorf("live transcriber factory cannot be nil when telephony is enabled")
		}
	}

	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}

	if m == nil {
		return nil, fmt.Errorf("metrics cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	h := &HTTPServer{
		logger:      logger,
		config:      cfg,
		registry:    registry,
		metrics:     m,
		assistants:  assistants,
		transcriber: MeterTranscriber(transcriber, m),
		liveFactory: liveFactory,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Calls originate from provider backends and local dev pages.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port),
		Handler:     mux,
		IdleTimeout: 60 * time.Second,
	}

	return h, nil
}

// setupRoutes configures HTTP routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Call endpoints
	mux.HandleFunc("/ws", h.handleBrowserCall)
	mux.HandleFunc("/stream", h.handleTelephonyCall)
	mux.HandleFunc("/twiml", h.withMetrics("/twiml", h.handleTwiML))

	// Monitoring endpoints
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/calls", h.withMetrics("/calls", h.handleCalls))
	mux.HandleFunc("/calls/", h.withMetrics("/calls/{id}", h.handleCallDetail))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.Handle("/metrics", promhttp.Handler())
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), duration)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP server",
		slog.String("address", h.server.Addr),
		slog.Bool("telephony_enabled", h.config.Telephony.Enabled),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")
	return h.server.Shutdown(ctx)
}

// handleBrowserCall terminates a browser call on /ws.
func (h *HTTPServer) handleBrowserCall(w http.ResponseWriter, r *http.Request) {
	if h.registry.Count() >= h.config.Server.MaxConcurrentCalls {
		h.metrics.RecordCallRejected()
		http.Error(w, "Too many concurrent calls", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.metrics.RecordWebsocketError()
		h.logger.Error("Websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	browserCall, err := call.NewBrowserCall(context.Background(), conn, h.transcriber, call.BrowserCallConfig{
		SampleRate:   h.config.Browser.SampleRate,
		FrameSize:    h.config.Browser.FrameSize,
		WriteTimeout: h.config.Server.GetWriteTimeoutDuration(),
	}, h.logger)
	if err != nil {
		h.metrics.RecordWebsocketError()
		h.logger.Error("Failed to set up browser call", slog.String("error", err.Error()))
		conn.Close()
		return
	}

	h.runConversation(TransportBrowser, h.assistants.Browser, browserCall, h.config.Browser.SampleRate, h.config.Browser.FrameSize, audio.EncodingPCM16)
}

// handleTelephonyCall terminates a provider media stream on /stream.
func (h *HTTPServer) handleTelephonyCall(w http.ResponseWriter, r *http.Request) {
	if !h.config.Telephony.Enabled {
		http.Error(w, "Telephony not enabled", http.StatusNotFound)
		return
	}

	if h.registry.Count() >= h.config.Server.MaxConcurrentCalls {
		h.metrics.RecordCallRejected()
		http.Error(w, "Too many concurrent calls", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.metrics.RecordWebsocketError()
		h.logger.Error("Websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	live, err := h.liveFactory()
	if err != nil {
		h.metrics.RecordWebsocketError()
		h.logger.Error("Failed to dial streaming transcriber", slog.String("error", err.Error()))
		conn.Close()
		return
	}

	// The voice gate carries smoothing state, so each call gets its own.
	var voiceGate *vad.Detector
	if h.config.VAD.Enabled {
		voiceGate, err = vad.NewDetector(h.config.VAD.Threshold, h.config.VAD.WindowSize, h.config.Telephony.SampleRate)
		if err != nil {
			h.logger.Error("Failed to set up voice gate", slog.String("error", err.Error()))
			live.Close()
			conn.Close()
			return
		}
	}

	telephonyCall, err := call.NewTelephonyCall(context.Background(), conn, live, call.TelephonyCallConfig{
		SampleRate:     h.config.Telephony.SampleRate,
		InterruptDelay: h.config.Telephony.GetInterruptDelayDuration(),
		WriteTimeout:   h.config.Server.GetWriteTimeoutDuration(),
		Voice:          voiceGate,
	}, h.logger)
	if err != nil {
		h.metrics.RecordWebsocketError()
		h.logger.Error("Failed to set up telephony call", slog.String("error", err.Error()))
		live.Close()
		conn.Close()
		return
	}

	h.runConversation(TransportTelephony, h.assistants.Telephony, telephonyCall, h.config.Telephony.SampleRate, audio.DefaultFrameSize, audio.EncodingMulaw)
}

// runConversation wires a conversation over an established call and tracks
// it in the registry until it ends.
func (h *HTTPServer) runConversation(transport string, a *assistant.Assistant, c call.Call, sampleRate, frameSize int, encoding string) {
	var sessionID string
	var removeOnce sync.Once

	onEnd := func(log []conversation.LogEntry) {
		removeOnce.Do(func() {
			if duration, ok := h.registry.Remove(sessionID); ok {
				h.metrics.RecordCallEnded(duration.Seconds())
			}
			h.logger.Info("Call ended",
				slog.String("session_id", sessionID),
				slog.String("transport", transport),
				slog.Int("log_entries", len(log)),
			)
		})
	}

	conv, err := conversation.New(a, c, conversation.Config{
		SampleRate: sampleRate,
		FrameSize:  frameSize,
		Encoding:   encoding,
		Metrics:    h.metrics,
	}, onEnd, h.logger)
	if err != nil {
		h.logger.Error("Failed to set up conversation", slog.String("error", err.Error()))
		c.End()
		return
	}

	session, err := h.registry.Create(transport, conv)
	if err != nil {
		h.metrics.RecordCallRejected()
		h.logger.Warn("Call rejected", slog.String("error", err.Error()))
		c.End()
		return
	}
	sessionID = session.ID

	h.metrics.RecordCallStarted(transport)
	conv.Begin(context.Background(), h.config.Server.GetStartDelayDuration())
}

// handleTwiML implements the POST /twiml endpoint. Telephony providers
// fetch it when a phone number receives a call; the response tells them to
// open a media stream to /stream.
func (h *HTTPServer) handleTwiML(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.config.Telephony.Enabled {
		http.Error(w, "Telephony not enabled", http.StatusNotFound)
		return
	}

	host := h.config.Server.PublicHost
	if host == "" {
		host = r.Host
	}

	w.Header().Set("Content-Type", "text/xml")
	fmt.Fprint(w, protocol.TwiMLDocument(fmt.Sprintf("wss://%s/stream", host)))
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := h.registry.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name": "voice-agent-service",
		},
		"components": map[string]interface{}{
			"calls": map[string]interface{}{
				"active":   stats.ActiveSessions,
				"max":      stats.MaxSessions,
				"started":  stats.TotalStarted,
				"ended":    stats.TotalEnded,
				"rejected": stats.TotalRejected,
			},
			"telephony": map[string]interface{}{
				"enabled": h.config.Telephony.Enabled,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleCalls implements the /calls endpoint
func (h *HTTPServer) handleCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	infos := h.registry.AllInfo()

	response := map[string]interface{}{
		"total_calls": len(infos),
		"timestamp":   time.Now().UTC(),
		"calls":       infos,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleCallDetail implements the /calls/{id} endpoint
func (h *HTTPServer) handleCallDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/calls/")
	if id == "" {
		http.Error(w, "Call ID required", http.StatusBadRequest)
		return
	}

	session, exists := h.registry.Get(id)
	if !exists {
		http.Error(w, "Call not found", http.StatusNotFound)
		return
	}

	response := map[string]interface{}{
		"call":     session.Info(),
		"call_log": session.CallLog(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"calls":     h.registry.GetStats(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
