package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/back-your-boy-backend/internal/engine"
	"github.com/DoyleJ11/back-your-boy-backend/internal/history"
	"github.com/DoyleJ11/back-your-boy-backend/pkg/types"
)

// fakeClock only moves when a test says so.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs every timer that came due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

// Skip moves time forward without running timers, as if their callbacks were late.
func (c *fakeClock) Skip(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type memRecorder struct {
	mu     sync.Mutex
	rounds []history.Round
}

func (m *memRecorder) Record(r history.Round) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds = append(m.rounds, r)
	return true
}

func (m *memRecorder) all() []history.Round {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]history.Round(nil), m.rounds...)
}

type panickyPolicy struct{}

func (panickyPolicy) Assign([]string, []engine.Ballot) (string, string) { panic("boom") }

type fixture struct {
	t      *testing.T
	room   *Room
	clock  *fakeClock
	rec    *memRecorder
	out    map[string]chan types.ServerMessage
	closed chan string
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		clock:  newFakeClock(),
		rec:    &memRecorder{},
		out:    map[string]chan types.ServerMessage{},
		closed: make(chan string, 1),
	}
	opts := Options{
		Code:     "ABCD",
		Settings: engine.Settings{TimerSeconds: 30, MaxRounds: 3},
		Machine: engine.NewMachine(&engine.TaskPool{
			Tasks: []string{"Name Board Games", "Name Card Games"},
			Intn:  func(int) int { return 0 },
		}, nil),
		Clock:      f.clock,
		Logger:     zaptest.NewLogger(t),
		Recorder:   f.rec,
		EmptyGrace: time.Minute,
		OnClose:    func(r *Room) { f.closed <- r.Code() },
	}
	if mutate != nil {
		mutate(&opts)
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.room = New(ctx, opts)
	t.Cleanup(func() {
		cancel()
		<-f.room.Done()
	})
	return f
}

// connect opens a socket for pid and drains the snapshot sent on join.
func (f *fixture) connect(pid string, buffer int) chan types.ServerMessage {
	f.t.Helper()
	ch := make(chan types.ServerMessage, buffer)
	f.out[pid] = ch
	f.room.Inbox() <- Join{ConnID: "conn-" + pid, PlayerID: pid, Outbox: ch}
	recvSnapshot(f.t, ch, time.Second)
	return ch
}

func (f *fixture) act(pid string, cmd engine.Command) {
	cmd.PlayerID = pid
	if cmd.Type != engine.ActToggleValid {
		cmd.Index = -1
	}
	f.room.Inbox() <- FromClient{ConnID: "conn-" + pid, Cmd: cmd}
}

// joinAll seats p1,p2 on team A and p3,p4 on team B, with p1 hosting.
func (f *fixture) joinAll() {
	f.t.Helper()
	for _, pid := range []string{"p1", "p3", "p2", "p4"} {
		f.connect(pid, 64)
		f.act(pid, engine.Command{Type: engine.ActJoinGame, Name: pid})
	}
	var st types.RoomState
	for _, pid := range []string{"p1", "p2", "p3", "p4"} {
		st = waitFor(f.t, f.out[pid], func(s *types.RoomState) bool { return len(s.Players) == 4 })
	}
	require.Len(f.t, st.Teams.A, 2)
	require.Equal(f.t, "p1", st.Teams.A[0].ID)
	require.Equal(f.t, "p2", st.Teams.A[1].ID)
}

// toPerformance runs the opening of a round: p2 performs for team A with a target of 5.
func (f *fixture) toPerformance() types.RoomState {
	f.t.Helper()
	f.joinAll()
	f.act("p1", engine.Command{Type: engine.ActStartGame})
	for _, v := range [][2]string{{"p1", "p2"}, {"p2", "p2"}, {"p3", "p4"}, {"p4", "p4"}} {
		f.act(v[0], engine.Command{Type: engine.ActCastVote, TargetID: v[1]})
	}
	f.act("p1", engine.Command{Type: engine.ActPlaceBid, Team: "A", Amount: 5})
	f.act("p3", engine.Command{Type: engine.ActCallBullshit, Team: "B"})
	return waitPhase(f.t, f.out["p1"], engine.PhasePerformance)
}

func recvMessage(t *testing.T, ch <-chan types.ServerMessage, within time.Duration) (types.ServerMessage, bool) {
	t.Helper()
	select {
	case m, ok := <-ch:
		return m, ok
	case <-time.After(within):
		t.Fatalf("timed out waiting for message")
		return types.ServerMessage{}, false
	}
}

func recvSnapshot(t *testing.T, ch <-chan types.ServerMessage, within time.Duration) types.ServerMessage {
	t.Helper()
	m, ok := recvMessage(t, ch, within)
	if !ok {
		t.Fatalf("client outbox closed unexpectedly")
	}
	if m.Type != types.TypeUpdateState {
		t.Fatalf("want snapshot, got %+v", m)
	}
	return m
}

func recvNoMessage(t *testing.T, ch <-chan types.ServerMessage, within time.Duration) {
	t.Helper()
	select {
	case m, ok := <-ch:
		if !ok {
			return
		}
		t.Fatalf("expected nothing within %v, got %+v", within, m)
	case <-time.After(within):
	}
}

// waitFor skips messages until a snapshot satisfies ok.
func waitFor(t *testing.T, ch <-chan types.ServerMessage, ok func(*types.RoomState) bool) types.RoomState {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m, open := <-ch:
			if !open {
				t.Fatalf("outbox closed while waiting")
			}
			if m.State != nil && ok(m.State) {
				return *m.State
			}
		case <-deadline:
			t.Fatalf("timed out waiting for matching snapshot")
			return types.RoomState{}
		}
	}
}

func waitPhase(t *testing.T, ch <-chan types.ServerMessage, phase engine.Phase) types.RoomState {
	t.Helper()
	return waitFor(t, ch, func(s *types.RoomState) bool { return s.Status == string(phase) })
}

func waitError(t *testing.T, ch <-chan types.ServerMessage) types.ServerMessage {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m, open := <-ch:
			if !open {
				t.Fatalf("outbox closed while waiting for error")
			}
			if m.Type == types.TypeError {
				return m
			}
		case <-deadline:
			t.Fatalf("timed out waiting for error")
			return types.ServerMessage{}
		}
	}
}

func (f *fixture) view() View {
	f.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := f.room.View(ctx)
	require.NoError(f.t, err)
	return v
}

func TestRoom_JoinSendsSnapshotToJoinerOnly(t *testing.T) {
	f := newFixture(t, nil)
	first := f.connect("p1", 4)
	second := make(chan types.ServerMessage, 4)
	f.room.Inbox() <- Join{ConnID: "conn-p2", PlayerID: "p2", Outbox: second}

	snap := recvSnapshot(t, second, time.Second)
	assert.Equal(t, 0, snap.Version)
	assert.Equal(t, "LOBBY", snap.State.Status)
	assert.Equal(t, "ABCD", snap.State.RoomCode)
	recvNoMessage(t, first, 50*time.Millisecond)
}

func TestRoom_ActionBroadcastsAndVersionIncrements(t *testing.T) {
	f := newFixture(t, nil)
	a := f.connect("p1", 4)
	b := f.connect("p2", 4)

	f.act("p1", engine.Command{Type: engine.ActJoinGame, Name: "Ann"})
	for _, ch := range []chan types.ServerMessage{a, b} {
		snap := recvSnapshot(t, ch, time.Second)
		assert.Equal(t, 1, snap.Version)
		require.Len(t, snap.State.Players, 1)
		assert.Equal(t, "Ann", snap.State.Players[0].Name)
		assert.Equal(t, "p1", *snap.State.HostID)
	}
}

func TestRoom_RejectionGoesToSenderOnly(t *testing.T) {
	f := newFixture(t, nil)
	f.joinAll()

	f.act("p2", engine.Command{Type: engine.ActStartGame})
	msg := waitError(t, f.out["p2"])
	assert.Equal(t, "PERMISSION_DENIED", msg.Code)
	assert.Equal(t, "START_GAME", msg.Action)

	before := f.view()
	assert.Equal(t, engine.PhaseLobby, before.State.Phase)
	recvNoMessage(t, f.out["p3"], 50*time.Millisecond)
}

func TestRoom_StartWithoutFullTeamsIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	for _, pid := range []string{"p1", "p3", "p2"} {
		f.connect(pid, 16)
		f.act(pid, engine.Command{Type: engine.ActJoinGame, Name: pid})
	}
	f.act("p1", engine.Command{Type: engine.ActStartGame})

	msg := waitError(t, f.out["p1"])
	assert.Equal(t, "INVALID_PHASE", msg.Code)
	assert.Contains(t, msg.Message, "Cannot Start! Each team needs at least 2 players.")
}

func TestRoom_DropSlowClient(t *testing.T) {
	f := newFixture(t, nil)
	slow := make(chan types.ServerMessage, 1)
	f.room.Inbox() <- Join{ConnID: "conn-p1", PlayerID: "p1", Outbox: slow}
	f.act("p1", engine.Command{Type: engine.ActJoinGame, Name: "Ann"})

	v := f.view()
	assert.Equal(t, 0, v.NumClients)
	p, ok := v.State.Player("p1")
	require.True(t, ok)
	assert.False(t, p.Connected, "dropped client counts as a disconnect")
}

func TestRoom_TimerAutoSubmitsLiveBubbles(t *testing.T) {
	f := newFixture(t, nil)
	st := f.toPerformance()
	assert.Equal(t, 5, st.RoundResult.Target)
	assert.Equal(t, "A", *st.RoundResult.ActiveTeam)
	assert.EqualValues(t, 30000, st.RemainingMS)

	f.act("p2", engine.Command{Type: engine.ActLiveTyping, Bubbles: []string{"chess", "go"}})
	waitFor(t, f.out["p1"], func(s *types.RoomState) bool { return len(s.RoundResult.LiveBubbles) == 2 })

	f.clock.Advance(30 * time.Second)
	st = waitPhase(t, f.out["p1"], engine.PhaseValidation)
	assert.True(t, st.RoundResult.AutoSubmitted)
	assert.Equal(t, []types.Answer{{Word: "chess", Valid: true}, {Word: "go", Valid: true}}, st.RoundResult.Answers)
}

func TestRoom_ActionAfterDeadlineIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.toPerformance()
	f.act("p2", engine.Command{Type: engine.ActLiveTyping, Bubbles: []string{"chess"}})
	waitFor(t, f.out["p1"], func(s *types.RoomState) bool { return len(s.RoundResult.LiveBubbles) == 1 })

	// The timer callback is late; the submission still must not count.
	f.clock.Skip(31 * time.Second)
	f.act("p2", engine.Command{Type: engine.ActSubmitAnswers, Answers: []string{"a", "b", "c", "d", "e"}})

	st := waitPhase(t, f.out["p1"], engine.PhaseValidation)
	assert.True(t, st.RoundResult.AutoSubmitted)
	assert.Equal(t, []types.Answer{{Word: "chess", Valid: true}}, st.RoundResult.Answers)

	msg := waitError(t, f.out["p2"])
	assert.Equal(t, "INVALID_PHASE", msg.Code)
}

func TestRoom_EarlySubmitCancelsTimer(t *testing.T) {
	f := newFixture(t, nil)
	f.toPerformance()
	f.act("p2", engine.Command{Type: engine.ActSubmitAnswers, Answers: []string{"a", "b", "c", "d", "e"}})
	st := waitPhase(t, f.out["p1"], engine.PhaseValidation)
	assert.False(t, st.RoundResult.AutoSubmitted)
	assert.Zero(t, st.RemainingMS)
	version := f.view().Version

	f.clock.Advance(time.Minute)
	recvNoMessage(t, f.out["p1"], 50*time.Millisecond)
	assert.Equal(t, version, f.view().Version)
}

func TestRoom_FullRoundAndHistory(t *testing.T) {
	f := newFixture(t, nil)
	f.toPerformance()
	f.clock.Skip(12 * time.Second)
	f.act("p2", engine.Command{Type: engine.ActSubmitAnswers, Answers: []string{"a", "b", "c", "d", "e"}})
	waitPhase(t, f.out["p1"], engine.PhaseValidation)

	f.act("p3", engine.Command{Type: engine.ActToggleValid, Index: 4})
	f.act("p1", engine.Command{Type: engine.ActFinalizeRound})
	st := waitPhase(t, f.out["p1"], engine.PhaseNomination)
	assert.Equal(t, types.Pair[int]{A: 0, B: 1}, st.Scores)
	assert.Equal(t, 2, st.CurrentRound)

	rounds := f.rec.all()
	require.Len(t, rounds, 1)
	r := rounds[0]
	assert.Equal(t, "ABCD", r.RoomCode)
	assert.Equal(t, 1, r.Round)
	assert.Equal(t, "A", r.ActiveTeam)
	assert.Equal(t, "B", r.Winner)
	assert.Equal(t, 4, r.ValidCount)
	assert.Equal(t, int64(12000), r.PerformanceMS)
}

func TestRoom_DisconnectingBoyAbortsRound(t *testing.T) {
	f := newFixture(t, nil)
	f.toPerformance()

	f.room.Inbox() <- Leave{ConnID: "conn-p2"}
	st := waitPhase(t, f.out["p1"], engine.PhaseLobby)
	require.NotNil(t, st.AbortReason)
	assert.Equal(t, "Round Aborted! p2 disconnected.", *st.AbortReason)
	assert.Equal(t, types.Pair[int]{}, st.Scores)
	assert.Zero(t, st.RemainingMS)

	// the cancelled round timer must not fire into the lobby
	version := f.view().Version
	f.clock.Advance(time.Minute)
	assert.Equal(t, version, f.view().Version)
}

func TestRoom_ReconnectRestoresPlayer(t *testing.T) {
	f := newFixture(t, nil)
	f.joinAll()

	f.room.Inbox() <- Leave{ConnID: "conn-p3"}
	waitFor(t, f.out["p1"], func(s *types.RoomState) bool { return !s.Teams.B[0].Connected })

	again := make(chan types.ServerMessage, 8)
	f.room.Inbox() <- Join{ConnID: "conn-p3-b", PlayerID: "p3", Outbox: again}
	st := waitFor(t, again, func(s *types.RoomState) bool { return s.Teams.B[0].Connected })
	assert.Equal(t, "p3", st.Teams.B[0].ID)
}

func TestRoom_EndRoomClosesEveryone(t *testing.T) {
	f := newFixture(t, nil)
	f.joinAll()
	f.act("p1", engine.Command{Type: engine.ActEndRoom})

	for _, pid := range []string{"p1", "p4"} {
		st := waitPhase(t, f.out[pid], engine.PhaseClosed)
		assert.Equal(t, "CLOSED", st.Status)
		for range f.out[pid] {
		}
	}
	select {
	case code := <-f.closed:
		assert.Equal(t, "ABCD", code)
	case <-time.After(time.Second):
		t.Fatalf("OnClose not called")
	}
	<-f.room.Done()
	assert.ErrorIs(t, f.room.Send(context.Background(), GetState{Reply: make(chan View, 1)}), ErrClosed)
}

func TestRoom_IdleRoomCloses(t *testing.T) {
	f := newFixture(t, nil)
	f.connect("p1", 4)
	f.room.Inbox() <- Leave{ConnID: "conn-p1"}
	f.view() // Leave processed, idle timer armed

	f.clock.Advance(time.Minute)
	select {
	case <-f.room.Done():
	case <-time.After(time.Second):
		t.Fatalf("idle room still running")
	}
	assert.Equal(t, "ABCD", <-f.closed)
}

func TestRoom_JoinCancelsIdleClose(t *testing.T) {
	f := newFixture(t, nil)
	f.connect("p1", 4) // cancels the idle timer armed at creation

	f.clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, f.view().NumClients)
	select {
	case <-f.room.Done():
		t.Fatalf("room closed while a client was connected")
	default:
	}
}

func TestRoom_PanicClosesOnlyThatRoom(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Machine = engine.NewMachine(nil, panickyPolicy{})
	})
	other := newFixture(t, nil)
	other.connect("x", 4)

	f.joinAll()
	f.act("p1", engine.Command{Type: engine.ActStartGame})
	for _, v := range [][2]string{{"p1", "p2"}, {"p2", "p2"}, {"p3", "p4"}, {"p4", "p4"}} {
		f.act(v[0], engine.Command{Type: engine.ActCastVote, TargetID: v[1]})
	}

	waitPhase(t, f.out["p1"], engine.PhaseClosed)
	select {
	case <-f.room.Done():
	case <-time.After(time.Second):
		t.Fatalf("panicking room still running")
	}
	assert.Equal(t, 1, other.view().NumClients)
}
