package server

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/streamloft/speech-stream-service/internal/config"
	"github.com/streamloft/speech-stream-service/internal/metrics"
	"github.com/streamloft/speech-stream-service/internal/processor"
	"github.com/streamloft/speech-stream-service/internal/protocol"
	"github.com/streamloft/speech-stream-service/internal/reconcile"
	"github.com/streamloft/speech-stream-service/internal/session"
)

// WSServer accepts streaming clients over WebSocket. Each connection is
// served by its own goroutine owning one fresh processing unit; units
// are never shared between connections and are discarded on disconnect.
type WSServer struct {
	server   *http.Server
	upgrader websocket.Upgrader
	factory  processor.Factory
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewWSServer creates the streaming server. The factory builds one
// processing unit per accepted connection.
func NewWSServer(
	cfg config.ServerConfig,
	interval time.Duration,
	factory processor.Factory,
	logger *slog.Logger,
	m *metrics.Metrics,
) *WSServer {
	s := &WSServer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			// Auth is handled upstream, any origin is accepted here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		factory:  factory,
		interval: interval,
		logger:   logger,
		metrics:  m,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)

	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port),
		Handler:     mux,
		IdleTimeout: 120 * time.Second,
	}
	return s
}

// Start begins accepting connections in a background goroutine.
func (s *WSServer) Start() error {
	s.logger.Info("Starting streaming server",
		slog.String("address", s.server.Addr),
	)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Streaming server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully shuts the listener down. Connections in flight get
// until the context deadline to finish.
func (s *WSServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping streaming server...")
	return s.server.Shutdown(ctx)
}

func (s *WSServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	s.serveConnection(conn)
}

// serveConnection owns one client for its whole lifetime: it builds the
// processing unit, runs the session state machine over incoming frames,
// and tears everything down on disconnect.
func (s *WSServer) serveConnection(conn *websocket.Conn) {
	defer conn.Close()

	id := uuid.New()
	clientID := hex.EncodeToString(id[:8])
	start := time.Now()

	s.metrics.RecordConnectionOpened()
	defer func() {
		s.metrics.RecordConnectionClosed(time.Since(start).Seconds())
	}()

	s.logger.Info("Client connected",
		slog.String("client_id", clientID),
		slog.String("remote_addr", conn.RemoteAddr().String()),
	)

	unit, err := s.factory()
	if err != nil {
		s.logger.Error("Failed to build processing unit",
			slog.String("client_id", clientID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer func() {
		if err := unit.Clear(context.Background()); err != nil {
			s.logger.Warn("Failed to clear unit on disconnect",
				slog.String("client_id", clientID),
				slog.String("error", err.Error()),
			)
		}
	}()

	sess := session.New(clientID, unit, s.interval, s.logger, s.metrics)
	ctx := context.Background()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("Client connection error",
					slog.String("client_id", clientID),
					slog.String("error", err.Error()),
				)
			} else {
				s.logger.Info("Client disconnected",
					slog.String("client_id", clientID),
					slog.Float64("processed_audio_seconds", sess.ProcessedSeconds()),
				)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			delta, err := sess.HandleAudio(ctx, data)
			if err != nil {
				// The failed window is dropped, the stream continues.
				s.logger.Error("Processing step failed",
					slog.String("client_id", clientID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if delta != nil {
				if err := s.sendDelta(conn, clientID, *delta); err != nil {
					return
				}
			}

		case websocket.TextMessage:
			msg, err := protocol.ParseControlMessage(data)
			if err != nil {
				s.logger.Error("Invalid control message, ignoring it",
					slog.String("client_id", clientID),
					slog.String("message", string(data)),
					slog.String("error", err.Error()),
				)
				continue
			}

			deltas, finalized, err := sess.ApplyControl(ctx, *msg)
			if err != nil {
				s.logger.Error("Control message handling failed",
					slog.String("client_id", clientID),
					slog.String("error", err.Error()),
				)
			}
			for _, delta := range deltas {
				if err := s.sendDelta(conn, clientID, delta); err != nil {
					return
				}
			}
			if finalized {
				frame, err := protocol.EncodeEndOfProcessing()
				if err != nil {
					s.logger.Error("Failed to encode final frame",
						slog.String("client_id", clientID),
						slog.String("error", err.Error()),
					)
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}
		}
	}
}

func (s *WSServer) sendDelta(conn *websocket.Conn, clientID string, delta reconcile.Delta) error {
	frame, err := protocol.EncodeDelta(delta)
	if err != nil {
		s.logger.Error("Failed to encode delta",
			slog.String("client_id", clientID),
			slog.String("error", err.Error()),
		)
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		s.logger.Warn("Failed to send delta",
			slog.String("client_id", clientID),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}
