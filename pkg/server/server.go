// Package server exposes a single match session over HTTP and websockets.
//
// Participants connect to /ws?id=<participant>&name=<display name>. Every frame in either direction
// is a protocol envelope. The session itself lives on a Loop goroutine; connection handlers only post
// commands to it.
package server

import (
	"context"
	"errors"
	"time"

	"github.com/argus-labs/gemrush/pkg/match"
	"github.com/argus-labs/gemrush/pkg/protocol"
	"github.com/argus-labs/gemrush/pkg/stats"
	"github.com/goccy/go-json"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

const (
	commandTimeout          = 5 * time.Second
	defaultLeaderboardLimit = 10
)

// Leaderboard reads the best scores of a mission.
type Leaderboard interface {
	Leaderboard(ctx context.Context, missionID string, n int64) ([]stats.LeaderboardEntry, error)
}

type Server struct {
	app  *fiber.App
	loop *Loop
	hub  *Hub
	opts Options
	log  zerolog.Logger
}

func New(loop *Loop, hub *Hub, opts Options) (*Server, error) {
	if loop == nil || hub == nil {
		return nil, eris.New("server requires a loop and a hub")
	}

	app := fiber.New(fiber.Config{
		Network:               "tcp",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	s := &Server{
		app:  app,
		loop: loop,
		hub:  hub,
		opts: opts,
		log:  opts.Logger,
	}
	s.setupRoutes()
	return s, nil
}

// Serve listens until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		s.log.Info().Str("port", s.opts.Port).Msg("starting HTTP server")
		if err := s.app.Listen(":" + s.opts.Port); err != nil {
			serverErr <- eris.Wrap(err, "error starting http server")
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		s.log.Info().Msg("shutting down HTTP server")
		if err := s.app.ShutdownWithTimeout(s.opts.ShutdownTimeout); err != nil {
			return eris.Wrap(err, "error shutting down server")
		}
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "connections": s.hub.Connected()})
	})

	s.app.Get("/session", s.getSession)

	if s.opts.Leaderboard != nil {
		s.app.Get("/leaderboard/:mission", s.getLeaderboard)
	}

	s.app.Use("/ws", upgrader)
	s.app.Get("/ws", websocket.New(s.handleConn))
}

func (s *Server) getSession(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), commandTimeout)
	defer cancel()

	var snap match.Snapshot
	err := s.loop.Do(ctx, func(sess *match.Session) error {
		snap = sess.Snapshot()
		return nil
	})
	if err != nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(snap)
}

func (s *Server) getLeaderboard(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultLeaderboardLimit)
	if limit <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "limit must be positive")
	}
	entries, err := s.opts.Leaderboard.Leaderboard(c.UserContext(), c.Params("mission"), int64(limit))
	if err != nil {
		return eris.Wrap(err, "failed to read leaderboard")
	}
	return c.JSON(entries)
}

func upgrader(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if c.Query("id") == "" {
		return fiber.NewError(fiber.StatusBadRequest, "id is required")
	}
	return c.Next()
}

// handleConn joins the participant, pumps inbound frames to the loop and leaves on disconnect.
func (s *Server) handleConn(conn *websocket.Conn) {
	id := conn.Query("id")
	name := conn.Query("name", id)
	log := s.log.With().Str("participant_id", id).Logger()

	p, err := s.hub.register(id)
	if err != nil {
		log.Warn().Err(err).Msg("rejected connection")
		s.closeWith(conn, err)
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for data := range p.send {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Msg("write failed")
				break
			}
		}
		_ = conn.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	err = s.loop.Do(ctx, func(sess *match.Session) error { return sess.Join(id, name) })
	cancel()
	if err != nil {
		log.Info().Err(err).Msg("join refused")
		s.hub.Send(id, protocol.Kicked{Reason: err.Error()})
		s.hub.unregister(id, p)
		<-writerDone
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			log.Debug().Err(err).Msg("dropping undecodable frame")
			continue
		}
		if !msg.OpCode().Inbound() {
			log.Debug().Str("op", msg.OpCode().String()).Msg("dropping outbound op from participant")
			continue
		}
		s.loop.Post(id, func(sess *match.Session) error { return sess.Dispatch(id, msg) })
	}

	s.loop.Post(id, func(sess *match.Session) error { return sess.Leave(id) })
	s.hub.unregister(id, p)
	<-writerDone
}

func (s *Server) closeWith(conn *websocket.Conn, err error) {
	if data, encErr := protocol.Encode(protocol.Kicked{Reason: err.Error()}); encErr == nil {
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
	_ = conn.Close()
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
