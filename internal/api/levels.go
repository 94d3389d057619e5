package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/ondepi-go/internal/logger"
)

const (
	levelWriteTimeout = 5 * time.Second
	levelPongWait     = 60 * time.Second
)

// LevelMessage is one reading on the level feed.
type LevelMessage struct {
	RMS       float64 `json:"rms"`
	Peak      float64 `json:"peak"`
	GainDB    float64 `json:"gain_db"`
	Streaming bool    `json:"streaming"`
	Timestamp int64   `json:"ts"` // unix milliseconds
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS policy is applied by the middleware
	},
}

// LevelFeed handles GET /api/levels/ws. It upgrades to a WebSocket and
// pushes the meter reading every level interval until the client leaves or
// the server shuts down.
func (s *Server) LevelFeed(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Debug("WebSocket upgrade failed", logger.Error(err))
		return nil // the upgrader already wrote the response
	}

	s.wg.Add(1)
	defer s.wg.Done()
	defer func() { _ = ws.Close() }()

	if s.metrics != nil {
		s.metrics.HTTP.LevelFeedConnected(1)
		defer s.metrics.HTTP.LevelFeedConnected(-1)
	}
	s.log.Debug("level feed connected", logger.String("ip", c.RealIP()))

	// the read pump only consumes control frames and detects the close
	closed := make(chan struct{})
	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(levelPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(levelPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
			_ = ws.SetReadDeadline(time.Now().Add(levelPongWait))
		}
	}()

	ticker := time.NewTicker(s.config.LevelInterval)
	defer ticker.Stop()
	pings := 0
	pingEvery := max(1, int(levelPongWait/s.config.LevelInterval/2))

	for {
		select {
		case <-s.ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			_ = ws.Close()
			<-closed
			return nil
		case <-closed:
			s.log.Debug("level feed disconnected", logger.String("ip", c.RealIP()))
			return nil
		case <-ticker.C:
		}

		_ = ws.SetWriteDeadline(time.Now().Add(levelWriteTimeout))
		if err := ws.WriteJSON(s.levelMessage()); err != nil {
			_ = ws.Close()
			<-closed
			return nil
		}
		if pings++; pings >= pingEvery {
			pings = 0
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(levelWriteTimeout)); err != nil {
				_ = ws.Close()
				<-closed
				return nil
			}
		}
	}
}

func (s *Server) levelMessage() LevelMessage {
	snap := s.app.Snapshot()
	return LevelMessage{
		RMS:       snap.Levels.RMS,
		Peak:      snap.Levels.Peak,
		GainDB:    snap.GainDB,
		Streaming: snap.Streaming,
		Timestamp: time.Now().UnixMilli(),
	}
}
