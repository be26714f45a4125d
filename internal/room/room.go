package room

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/back-your-boy-backend/internal/engine"
	"github.com/DoyleJ11/back-your-boy-backend/internal/history"
	"github.com/DoyleJ11/back-your-boy-backend/pkg/types"
)

var ErrClosed = errors.New("room closed")

type Msg interface{ isRoomMsg() }

// Join registers a connection. PlayerID is the id bound to the socket.
type Join struct {
	ConnID   string
	PlayerID string
	Outbox   chan types.ServerMessage
}

func (Join) isRoomMsg() {}

type Leave struct{ ConnID string }

func (Leave) isRoomMsg() {}

// FromClient carries a decoded action. ConnID routes rejections back.
type FromClient struct {
	ConnID string
	Cmd    engine.Command
}

func (FromClient) isRoomMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRoomMsg() {}

type Shutdown struct{ Reason string }

func (Shutdown) isRoomMsg() {}

type timerKind int

const (
	roundTimer timerKind = iota
	idleTimer
)

type timerFired struct {
	kind timerKind
	gen  int
}

func (timerFired) isRoomMsg() {}

type View struct {
	Version    int
	NumClients int
	State      engine.State
	Deadline   time.Time // zero unless a performance is running
}

// Recorder receives resolved rounds. Implementations must not block.
type Recorder interface {
	Record(history.Round) bool
}

type Options struct {
	Code       string
	Settings   engine.Settings
	Machine    *engine.Machine
	Clock      Clock
	Logger     *zap.Logger
	Recorder   Recorder
	EmptyGrace time.Duration // zero disables the idle close
	InboxSize  int
	OnClose    func(r *Room) // called once from the actor goroutine; must not block
}

type client struct {
	playerID string
	out      chan types.ServerMessage
}

type Room struct {
	code    string
	machine *engine.Machine
	clock   Clock
	log     *zap.Logger
	rec     Recorder
	onClose func(*Room)
	grace   time.Duration

	inbox   chan Msg
	state   engine.State
	version int
	clients map[string]*client
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	closed  bool

	roundTimer Timer
	roundGen   int
	deadline   time.Time
	idleTimer  Timer
	idleGen    int

	nominationAt  time.Time
	performanceAt time.Time
	voteDur       time.Duration
	perfDur       time.Duration
}

func New(parent context.Context, opts Options) *Room {
	ctx, cancel := context.WithCancel(parent)
	if opts.Machine == nil {
		opts.Machine = engine.NewMachine(nil, nil)
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = 64
	}

	r := &Room{
		code:    opts.Code,
		machine: opts.Machine,
		clock:   opts.Clock,
		log:     opts.Logger.With(zap.String("room", opts.Code)),
		rec:     opts.Recorder,
		onClose: opts.OnClose,
		grace:   opts.EmptyGrace,
		inbox:   make(chan Msg, opts.InboxSize),
		state:   engine.NewEmptyState(opts.Code, opts.Settings),
		clients: make(map[string]*client),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go r.loop()
	return r
}

func (r *Room) Code() string { return r.code }

// Inbox exposes the mailbox for the ws layer and tests.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

// Done is closed once the actor has stopped.
func (r *Room) Done() <-chan struct{} { return r.done }

// Send delivers m unless the room has stopped or ctx ends first.
func (r *Room) Send(ctx context.Context, m Msg) error {
	select {
	case <-r.done:
		return ErrClosed
	default:
	}
	select {
	case r.inbox <- m:
		return nil
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// View asks the actor for a consistent copy of its state.
func (r *Room) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := r.Send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-r.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (r *Room) loop() {
	defer close(r.done)
	r.armIdle()

	for {
		select {
		case <-r.ctx.Done():
			r.closeRoom("Server shutting down.")
			return

		case m := <-r.inbox:
			if stop := r.handle(m); stop {
				return
			}
		}
	}
}

// handle processes one message. A panic closes this room only.
func (r *Room) handle(m Msg) (stop bool) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("room actor panicked", zap.Any("panic", p), zap.Stack("stack"))
			r.closeRoom("Internal error.")
			stop = true
		}
	}()

	switch msg := m.(type) {
	case Join:
		r.clients[msg.ConnID] = &client{playerID: msg.PlayerID, out: msg.Outbox}
		r.stopIdle()
		if p, ok := r.state.Player(msg.PlayerID); ok && !p.Connected {
			if err := r.apply(engine.Command{Type: engine.ActConnect, PlayerID: msg.PlayerID}); err == nil {
				break
			}
		}
		r.sendTo(msg.ConnID, r.snapshot())

	case Leave:
		c, ok := r.clients[msg.ConnID]
		if !ok {
			break
		}
		close(c.out)
		delete(r.clients, msg.ConnID)
		r.playerLeft(c.playerID)

	case FromClient:
		r.expireRound()
		if err := r.apply(msg.Cmd); err != nil {
			r.log.Debug("action rejected",
				zap.String("player", msg.Cmd.PlayerID),
				zap.String("action", string(msg.Cmd.Type)),
				zap.Error(err))
			r.sendTo(msg.ConnID, types.ErrorMessage(engine.Code(err), err.Error(), string(msg.Cmd.Type)))
		}

	case timerFired:
		r.onTimer(msg)

	case GetState:
		msg.Reply <- View{
			Version:    r.version,
			NumClients: len(r.clients),
			State:      r.state.Clone(),
			Deadline:   r.deadline,
		}

	case Shutdown:
		r.closeRoom(msg.Reason)
	}
	return r.closed
}

// apply runs cmd through the machine and publishes the result.
func (r *Room) apply(cmd engine.Command) error {
	events, next, err := r.machine.Apply(r.state, cmd)
	if err != nil {
		return err
	}
	r.state = next
	r.version++
	closing := r.react(events)
	r.publish()
	if closing {
		r.closeRoom("")
	}
	return nil
}

func (r *Room) react(events []engine.Event) (closing bool) {
	for _, e := range events {
		switch e.Type {
		case engine.EvtPhaseChanged:
			r.onPhase(e.From, e.To)
		case engine.EvtRoundResolved:
			r.record(*e.Outcome)
		case engine.EvtRoundAborted:
			r.log.Info("round aborted", zap.String("reason", r.state.AbortReason))
		case engine.EvtHostChanged:
			r.log.Debug("host changed", zap.String("player", e.PlayerID))
		case engine.EvtRoomClosed:
			closing = true
		}
	}
	return closing
}

func (r *Room) onPhase(from, to engine.Phase) {
	now := r.clock.Now()
	if from == engine.PhasePerformance {
		r.stopRound()
		r.perfDur = now.Sub(r.performanceAt)
	}
	switch to {
	case engine.PhaseNomination:
		r.nominationAt = now
		r.voteDur, r.perfDur = 0, 0
	case engine.PhaseAuction:
		r.voteDur = now.Sub(r.nominationAt)
	case engine.PhasePerformance:
		r.performanceAt = now
		r.armRound(time.Duration(r.state.Settings.TimerSeconds) * time.Second)
	}
}

func (r *Room) record(out engine.Outcome) {
	if r.rec == nil {
		return
	}
	now := r.clock.Now()
	perf := r.perfDur
	if out.GaveUp {
		perf = now.Sub(r.performanceAt)
	}
	r.rec.Record(history.Round{
		RoomCode:       r.code,
		Round:          out.Round,
		Task:           out.Task,
		ActiveTeam:     string(out.ActiveTeam),
		Target:         out.Target,
		ValidCount:     out.ValidCount,
		AnswerCount:    out.AnswerCount,
		Winner:         string(out.Winner),
		GaveUp:         out.GaveUp,
		TimedOut:       out.TimedOut,
		VoteDurationMS: r.voteDur.Milliseconds(),
		PerformanceMS:  perf.Milliseconds(),
		ResolvedAt:     now.UTC(),
	})
}

// expireRound applies a timeout whose timer message has not arrived yet,
// so an action sent after the deadline never counts.
func (r *Room) expireRound() {
	if r.state.Phase != engine.PhasePerformance || r.deadline.IsZero() {
		return
	}
	if r.clock.Now().Before(r.deadline) {
		return
	}
	r.timeout()
}

func (r *Room) timeout() {
	if err := r.apply(engine.Command{Type: engine.ActTimeout}); err != nil {
		r.log.Debug("timeout ignored", zap.Error(err))
	}
}

func (r *Room) onTimer(msg timerFired) {
	switch msg.kind {
	case roundTimer:
		if msg.gen != r.roundGen || r.state.Phase != engine.PhasePerformance {
			return
		}
		r.timeout()
	case idleTimer:
		if msg.gen != r.idleGen || len(r.clients) > 0 {
			return
		}
		r.log.Info("closing idle room")
		r.closeRoom("Room closed after everyone left.")
	}
}

func (r *Room) armRound(d time.Duration) {
	r.stopRound()
	r.deadline = r.clock.Now().Add(d)
	gen := r.roundGen
	r.roundTimer = r.clock.AfterFunc(d, func() { r.post(timerFired{kind: roundTimer, gen: gen}) })
}

func (r *Room) stopRound() {
	r.roundGen++
	r.deadline = time.Time{}
	if r.roundTimer != nil {
		r.roundTimer.Stop()
		r.roundTimer = nil
	}
}

func (r *Room) armIdle() {
	if r.grace <= 0 || r.idleTimer != nil {
		return
	}
	gen := r.idleGen
	r.idleTimer = r.clock.AfterFunc(r.grace, func() { r.post(timerFired{kind: idleTimer, gen: gen}) })
}

func (r *Room) stopIdle() {
	r.idleGen++
	if r.idleTimer != nil {
		r.idleTimer.Stop()
		r.idleTimer = nil
	}
}

// post is used by timer callbacks, which run outside the actor goroutine.
func (r *Room) post(m Msg) {
	select {
	case r.inbox <- m:
	case <-r.done:
	}
}

// playerLeft runs after a connection goes away.
func (r *Room) playerLeft(playerID string) {
	if len(r.clients) == 0 {
		r.armIdle()
	}
	if playerID == "" || r.hasClient(playerID) {
		return
	}
	if p, ok := r.state.Player(playerID); !ok || !p.Connected {
		return
	}
	if err := r.apply(engine.Command{Type: engine.ActDisconnect, PlayerID: playerID}); err != nil {
		r.log.Warn("disconnect rejected", zap.String("player", playerID), zap.Error(err))
	}
}

func (r *Room) hasClient(playerID string) bool {
	for _, c := range r.clients {
		if c.playerID == playerID {
			return true
		}
	}
	return false
}

func (r *Room) remaining() time.Duration {
	if r.deadline.IsZero() {
		return 0
	}
	return r.deadline.Sub(r.clock.Now())
}

func (r *Room) snapshot() types.ServerMessage {
	return types.StateUpdate(r.version, types.NewRoomState(r.state, r.remaining()))
}

func (r *Room) sendTo(connID string, m types.ServerMessage) {
	c, ok := r.clients[connID]
	if !ok {
		return
	}
	select {
	case c.out <- m:
	default:
		r.log.Debug("outbox full, message skipped", zap.String("conn", connID))
	}
}

// publish fans the current snapshot out. Clients that cannot keep up are
// dropped; their socket closes and a reconnect gets a fresh snapshot.
func (r *Room) publish() {
	snap := r.snapshot()
	var dropped []*client
	for id, c := range r.clients {
		select {
		case c.out <- snap:
		default:
			close(c.out)
			delete(r.clients, id)
			dropped = append(dropped, c)
			r.log.Warn("dropping slow client", zap.String("conn", id), zap.String("player", c.playerID))
		}
	}
	for _, c := range dropped {
		r.playerLeft(c.playerID)
	}
}

// closeRoom sends a final CLOSED snapshot, closes every outbox and stops the actor.
func (r *Room) closeRoom(reason string) {
	if r.closed {
		return
	}
	r.closed = true
	r.stopRound()
	r.stopIdle()

	if r.state.Phase != engine.PhaseClosed {
		r.state.Phase = engine.PhaseClosed
		if reason != "" {
			r.state.LastMessage = reason
		}
		r.version++
		snap := r.snapshot()
		for _, c := range r.clients {
			select {
			case c.out <- snap:
			default:
			}
		}
	}
	for id, c := range r.clients {
		close(c.out)
		delete(r.clients, id)
	}
	r.cancel()
	if r.onClose != nil {
		r.onClose(r)
	}
	r.log.Info("room closed", zap.String("reason", reason))
}
