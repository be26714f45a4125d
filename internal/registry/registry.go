package registry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/back-your-boy-backend/internal/engine"
	"github.com/DoyleJ11/back-your-boy-backend/internal/room"
)

var (
	ErrNotFound = errors.New("room not found")
	ErrCapacity = errors.New("no free room code")
	ErrShutdown = errors.New("registry shut down")
)

const defaultAttempts = 10

// Ledger reserves codes outside this process so two servers sharing it
// never hand out the same code.
type Ledger interface {
	Reserve(ctx context.Context, code string) (bool, error)
	Release(ctx context.Context, code string) error
}

type Msg interface{ isRegistryMsg() }

type CreateRoom struct {
	Code  string
	Reply chan *room.Room // nil on collision
}

type GetRoom struct {
	Code  string
	Reply chan *room.Room // may be nil
}

type RemoveRoom struct {
	Code  string
	Reply chan *room.Room // the removed room, or nil
}

type ListRooms struct {
	Reply chan []*room.Room
}

type roomStopped struct {
	Code string
	Room *room.Room
}

func (CreateRoom) isRegistryMsg()  {}
func (GetRoom) isRegistryMsg()     {}
func (RemoveRoom) isRegistryMsg()  {}
func (ListRooms) isRegistryMsg()   {}
func (roomStopped) isRegistryMsg() {}

type Options struct {
	Settings    engine.Settings
	Machine     *engine.Machine
	Clock       room.Clock
	Logger      *zap.Logger
	Recorder    room.Recorder
	EmptyGrace  time.Duration
	RoomInbox   int
	Ledger      Ledger
	Generate    func() (string, error)
	MaxAttempts int
}

type Registry struct {
	opts   Options
	log    *zap.Logger
	inbox  chan Msg
	rooms  map[string]*room.Room
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(parent context.Context, opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Generate == nil {
		opts.Generate = GenerateCode
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultAttempts
	}
	if opts.Machine == nil {
		opts.Machine = engine.NewMachine(nil, nil)
	}

	ctx, cancel := context.WithCancel(parent)
	g := &Registry{
		opts:   opts,
		log:    opts.Logger.Named("registry"),
		inbox:  make(chan Msg, 64),
		rooms:  make(map[string]*room.Room),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go g.loop()
	return g
}

func (g *Registry) Inbox() chan<- Msg { return g.inbox }

func (g *Registry) loop() {
	defer close(g.done)
	for {
		select {
		case <-g.ctx.Done():
			return

		case m := <-g.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				if g.rooms[msg.Code] != nil {
					msg.Reply <- nil
					break
				}
				rm := room.New(g.ctx, room.Options{
					Code:       msg.Code,
					Settings:   g.opts.Settings,
					Machine:    g.opts.Machine,
					Clock:      g.opts.Clock,
					Logger:     g.opts.Logger,
					Recorder:   g.opts.Recorder,
					EmptyGrace: g.opts.EmptyGrace,
					InboxSize:  g.opts.RoomInbox,
					OnClose:    g.roomClosed,
				})
				g.rooms[msg.Code] = rm
				msg.Reply <- rm

			case GetRoom:
				msg.Reply <- g.rooms[msg.Code]

			case RemoveRoom:
				rm := g.rooms[msg.Code]
				g.forget(msg.Code)
				msg.Reply <- rm

			case ListRooms:
				out := make([]*room.Room, 0, len(g.rooms))
				for _, rm := range g.rooms {
					out = append(out, rm)
				}
				msg.Reply <- out

			case roomStopped:
				if g.rooms[msg.Code] == msg.Room {
					g.forget(msg.Code)
				}
			}
		}
	}
}

// forget drops code from the map and frees it in the ledger.
func (g *Registry) forget(code string) {
	if _, ok := g.rooms[code]; !ok {
		return
	}
	delete(g.rooms, code)
	g.log.Debug("room removed", zap.String("room", code))
	if g.opts.Ledger != nil {
		go g.release(code)
	}
}

func (g *Registry) release(code string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(g.ctx), 2*time.Second)
	defer cancel()
	if err := g.opts.Ledger.Release(ctx, code); err != nil {
		g.log.Warn("release room code", zap.String("room", code), zap.Error(err))
	}
}

// abandon frees a reserved code whose CreateRoom request failed. A request
// that reached the loop may still be answered; the code then belongs to the
// room that answer names.
func (g *Registry) abandon(code string, delivered bool, reply <-chan *room.Room) {
	if g.opts.Ledger == nil {
		return
	}
	if !delivered {
		g.release(code)
		return
	}
	go func() {
		select {
		case <-reply:
		case <-g.done:
			g.release(code)
		}
	}()
}

// roomClosed runs on the room's goroutine, so it must not block.
func (g *Registry) roomClosed(rm *room.Room) {
	go func() {
		select {
		case g.inbox <- roomStopped{Code: rm.Code(), Room: rm}:
		case <-g.done:
		}
	}()
}

func (g *Registry) ask(ctx context.Context, m Msg) error {
	select {
	case g.inbox <- m:
		return nil
	case <-g.done:
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, g *Registry, reply chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-g.done:
		return zero, ErrShutdown
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// CreateRoom opens a room under a fresh code.
func (g *Registry) CreateRoom(ctx context.Context) (*room.Room, error) {
	for attempt := 0; attempt < g.opts.MaxAttempts; attempt++ {
		code, err := g.opts.Generate()
		if err != nil {
			return nil, err
		}
		code = NormalizeCode(code)

		if g.opts.Ledger != nil {
			ok, err := g.opts.Ledger.Reserve(ctx, code)
			if err != nil {
				return nil, err
			}
			if !ok {
				g.log.Debug("code taken in ledger", zap.String("room", code))
				continue
			}
		}

		reply := make(chan *room.Room, 1)
		if err := g.ask(ctx, CreateRoom{Code: code, Reply: reply}); err != nil {
			g.abandon(code, false, reply)
			return nil, err
		}
		rm, err := await(ctx, g, reply)
		if err != nil {
			g.abandon(code, true, reply)
			return nil, err
		}
		if rm != nil {
			g.log.Info("room created", zap.String("room", code))
			return rm, nil
		}
		g.log.Debug("collision on code, regenerating", zap.String("room", code))
	}
	return nil, ErrCapacity
}

// Resolve finds an open room by code.
func (g *Registry) Resolve(ctx context.Context, code string) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	if err := g.ask(ctx, GetRoom{Code: NormalizeCode(code), Reply: reply}); err != nil {
		return nil, err
	}
	rm, err := await(ctx, g, reply)
	if err != nil {
		return nil, err
	}
	if rm == nil {
		return nil, ErrNotFound
	}
	return rm, nil
}

// Close removes the room and tells its connections it is gone. Rooms that
// end themselves (END_ROOM, idle grace) never pass through here; this is the
// out-of-band path for operators and shutdown tooling.
func (g *Registry) Close(ctx context.Context, code, reason string) error {
	reply := make(chan *room.Room, 1)
	if err := g.ask(ctx, RemoveRoom{Code: NormalizeCode(code), Reply: reply}); err != nil {
		return err
	}
	rm, err := await(ctx, g, reply)
	if err != nil {
		return err
	}
	if rm == nil {
		return ErrNotFound
	}
	if err := rm.Send(ctx, room.Shutdown{Reason: reason}); err != nil && !errors.Is(err, room.ErrClosed) {
		return err
	}
	return nil
}

// Rooms returns every open room.
func (g *Registry) Rooms(ctx context.Context) ([]*room.Room, error) {
	reply := make(chan []*room.Room, 1)
	if err := g.ask(ctx, ListRooms{Reply: reply}); err != nil {
		return nil, err
	}
	return await(ctx, g, reply)
}

// Shutdown closes every room and waits for their actors to stop.
func (g *Registry) Shutdown(ctx context.Context) error {
	rooms, err := g.Rooms(ctx)
	if err != nil && !errors.Is(err, ErrShutdown) {
		return err
	}
	g.cancel()
	for _, rm := range rooms {
		select {
		case <-rm.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	<-g.done
	return g.releaseAll(ctx, rooms)
}

// releaseAll frees the codes of rooms stopped by Shutdown, which the loop no
// longer forgets one by one.
func (g *Registry) releaseAll(ctx context.Context, rooms []*room.Room) error {
	if g.opts.Ledger == nil {
		return nil
	}
	var err error
	for _, rm := range rooms {
		err = multierr.Append(err, g.opts.Ledger.Release(ctx, rm.Code()))
	}
	return err
}
