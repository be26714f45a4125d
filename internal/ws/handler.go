package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/back-your-boy-backend/internal/engine"
	"github.com/DoyleJ11/back-your-boy-backend/internal/registry"
	"github.com/DoyleJ11/back-your-boy-backend/internal/room"
	"github.com/DoyleJ11/back-your-boy-backend/pkg/types"
)

// StatusRoomNotFound tells the client the code is dead and not to retry.
const StatusRoomNotFound websocket.StatusCode = 4000

const codeRateLimited = "RATE_LIMITED"

type Resolver interface {
	Resolve(ctx context.Context, code string) (*room.Room, error)
}

type Options struct {
	Logger         *zap.Logger
	OriginPatterns []string
	Buffer         int        // outbox size per socket
	Limit          rate.Limit // inbound frames per second
	Burst          int
	ReadLimit      int64
	WriteTimeout   time.Duration
	PingInterval   time.Duration
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Buffer <= 0 {
		o.Buffer = 16
	}
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Burst <= 0 {
		o.Burst = 40
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 16
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 3 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
}

// Handler serves /ws/{room_code}/{client_id}.
func Handler(res Resolver, opts Options) http.HandlerFunc {
	opts.defaults()
	log := opts.Logger.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		code := registry.NormalizeCode(chi.URLParam(r, "room_code"))
		clientID := chi.URLParam(r, "client_id")

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			log.Debug("accept failed", zap.Error(err))
			return
		}
		conn.SetReadLimit(opts.ReadLimit)

		rm, err := res.Resolve(r.Context(), code)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				_ = conn.Close(StatusRoomNotFound, "room not found")
				return
			}
			log.Warn("resolve room", zap.String("room", code), zap.Error(err))
			_ = conn.Close(websocket.StatusTryAgainLater, "try again")
			return
		}

		s := &session{
			conn:     conn,
			room:     rm,
			clientID: clientID,
			connID:   uuid.NewString(),
			opts:     opts,
			limiter:  rate.NewLimiter(opts.Limit, opts.Burst),
			log:      log.With(zap.String("room", code), zap.String("player", clientID)),
		}
		s.run(r.Context())
	}
}

type session struct {
	conn     *websocket.Conn
	room     *room.Room
	clientID string
	connID   string
	opts     Options
	limiter  *rate.Limiter
	log      *zap.Logger
}

func (s *session) run(parent context.Context) {
	out := make(chan types.ServerMessage, s.opts.Buffer)
	if err := s.room.Send(parent, room.Join{ConnID: s.connID, PlayerID: s.clientID, Outbox: out}); err != nil {
		if errors.Is(err, room.ErrClosed) {
			_ = s.conn.Close(StatusRoomNotFound, "room not found")
			return
		}
		_ = s.conn.Close(websocket.StatusGoingAway, "bye")
		return
	}
	s.log.Debug("connected", zap.String("conn", s.connID))

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	written := make(chan struct{})
	go func() {
		defer close(written)
		s.writeLoop(ctx, out)
	}()

	s.readLoop(ctx)
	cancel()

	leaveCtx, leaveCancel := context.WithTimeout(context.WithoutCancel(parent), 2*time.Second)
	defer leaveCancel()
	if err := s.room.Send(leaveCtx, room.Leave{ConnID: s.connID}); err != nil && !errors.Is(err, room.ErrClosed) {
		s.log.Warn("leave not delivered", zap.Error(err))
	}
	<-written
	s.log.Debug("disconnected", zap.String("conn", s.connID))
}

// writeLoop forwards the outbox until the room closes it, then closes the
// socket with a status matching the last message it carried.
func (s *session) writeLoop(ctx context.Context, out <-chan types.ServerMessage) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	var last types.ServerMessage
	for {
		select {
		case <-ctx.Done():
			_ = s.conn.Close(websocket.StatusNormalClosure, "bye")
			return

		case m, ok := <-out:
			if !ok {
				s.closeAfter(last)
				return
			}
			last = m
			if err := s.write(ctx, m); err != nil {
				s.log.Debug("write failed", zap.Error(err))
				_ = s.conn.CloseNow()
				return
			}

		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
			err := s.conn.Ping(pctx)
			cancel()
			if err != nil {
				s.log.Debug("ping failed", zap.Error(err))
				_ = s.conn.CloseNow()
				return
			}
		}
	}
}

func (s *session) closeAfter(last types.ServerMessage) {
	if last.State != nil && last.State.Status == string(engine.PhaseClosed) {
		_ = s.conn.Close(websocket.StatusNormalClosure, "room closed")
		return
	}
	// Dropped for falling behind. Reconnecting yields a fresh snapshot.
	_ = s.conn.Close(websocket.StatusTryAgainLater, "reconnect")
}

func (s *session) write(ctx context.Context, m types.ServerMessage) error {
	wctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, s.conn, m)
}

func (s *session) readLoop(ctx context.Context) {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				s.log.Debug("read ended", zap.Error(err))
			}
			return
		}

		if !s.limiter.Allow() {
			s.reject(ctx, types.ErrorMessage(codeRateLimited, "Too many messages.", ""))
			continue
		}

		msg, err := types.DecodeClientMessage(data)
		if err != nil {
			s.reject(ctx, types.ErrorMessage(engine.Code(err), err.Error(), ""))
			continue
		}
		cmd, err := msg.ToCommand(s.clientID)
		if err != nil {
			s.reject(ctx, types.ErrorMessage(engine.Code(err), err.Error(), msg.Action))
			continue
		}

		if err := s.room.Send(ctx, room.FromClient{ConnID: s.connID, Cmd: cmd}); err != nil {
			return
		}
	}
}

// reject answers the sender directly; the room never sees the frame.
func (s *session) reject(ctx context.Context, m types.ServerMessage) {
	s.log.Debug("frame rejected", zap.String("code", m.Code), zap.String("reason", m.Message))
	if err := s.write(ctx, m); err != nil {
		s.log.Debug("reject write failed", zap.Error(err))
	}
}
