package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Team string

const (
	TeamA Team = "A"
	TeamB Team = "B"
)

func (t Team) Other() Team {
	if t == TeamA {
		return TeamB
	}
	return TeamA
}

func (t Team) Valid() bool { return t == TeamA || t == TeamB }

func ParseTeam(s string) (Team, bool) {
	switch Team(strings.ToUpper(strings.TrimSpace(s))) {
	case TeamA:
		return TeamA, true
	case TeamB:
		return TeamB, true
	default:
		return "", false
	}
}

type Phase string

const (
	PhaseLobby       Phase = "LOBBY"
	PhaseNomination  Phase = "NOMINATION"
	PhaseAuction     Phase = "AUCTION"
	PhasePerformance Phase = "PERFORMANCE"
	PhaseValidation  Phase = "VALIDATION"
	PhaseGameOver    Phase = "GAME_OVER"
	PhaseClosed      Phase = "CLOSED"
)

// InRound reports whether a disconnect in this phase aborts the round.
func (p Phase) InRound() bool {
	return p == PhaseAuction || p == PhasePerformance || p == PhaseValidation
}

// ByTeam holds one value per team.
type ByTeam[T any] struct {
	A T
	B T
}

func (b ByTeam[T]) Get(t Team) T {
	if t == TeamB {
		return b.B
	}
	return b.A
}

func (b *ByTeam[T]) Set(t Team, v T) {
	if t == TeamB {
		b.B = v
		return
	}
	b.A = v
}

type Player struct {
	ID        string
	Name      string
	Avatar    json.RawMessage
	Team      Team
	Connected bool
}

type Settings struct {
	TimerSeconds int
	MaxRounds    int
}

type Vote struct {
	Target string
	Seq    int
}

type Auction struct {
	Turn        Team
	CurrentBid  int
	HoldingTeam Team // empty until the first bid
}

type Answer struct {
	Word  string
	Valid bool
}

type RoundResult struct {
	Target        int
	ActiveTeam    Team
	Answers       []Answer
	LiveBubbles   []string
	AutoSubmitted bool
}

type State struct {
	Code         string
	HostID       string
	Phase        Phase
	Settings     Settings
	Players      []Player // join order
	Scores       ByTeam[int]
	CurrentRound int
	CurrentTask  string
	PendingTask  string
	AbortReason  string
	LastMessage  string

	// Round-scoped; reset by startRound and clearRound.
	// Participants is the roster fixed when nomination opens; later joiners
	// sit the round out.
	Participants map[string]bool
	Votes        map[string]Vote
	VoteSeq      int
	Boys         ByTeam[string]
	Backers      ByTeam[string]
	Auction      Auction
	Round        RoundResult
}

type ActionType string

const (
	ActJoinGame      ActionType = "JOIN_GAME"
	ActStartGame     ActionType = "START_GAME"
	ActUpdateSetting ActionType = "UPDATE_SETTINGS"
	ActSwitchTeam    ActionType = "SWITCH_TEAM"
	ActCastVote      ActionType = "CAST_VOTE"
	ActChangeTask    ActionType = "CHANGE_TASK"
	ActSetCustomTask ActionType = "SET_CUSTOM_TASK"
	ActPlaceBid      ActionType = "PLACE_BID"
	ActCallBullshit  ActionType = "CALL_BULLSHIT"
	ActLiveTyping    ActionType = "LIVE_TYPING"
	ActSubmitAnswers ActionType = "SUBMIT_ANSWERS"
	ActGiveUp        ActionType = "GIVE_UP"
	ActToggleValid   ActionType = "TOGGLE_VALIDITY"
	ActFinalizeRound ActionType = "FINALIZE_ROUND"
	ActPlayAgain     ActionType = "PLAY_AGAIN"
	ActEndRoom       ActionType = "END_ROOM"

	// Synthetic actions, produced by the room actor and never accepted from a socket.
	ActConnect    ActionType = "CONNECT"
	ActDisconnect ActionType = "DISCONNECT"
	ActTimeout    ActionType = "TIMEOUT"
)

// Synthetic reports whether the action may only originate inside the server.
func (a ActionType) Synthetic() bool {
	return a == ActConnect || a == ActDisconnect || a == ActTimeout
}

// Command is an action already bound to its sender. Index is -1 when absent.
type Command struct {
	Type     ActionType
	PlayerID string

	Name     string
	Avatar   json.RawMessage
	TargetID string
	Team     string
	NewTeam  string
	Timer    int
	Rounds   int
	Task     string
	Amount   int
	Index    int
	Bubbles  []string
	Answers  []string
}

type EventType string

const (
	EvtPhaseChanged  EventType = "PhaseChanged"
	EvtRolesAssigned EventType = "RolesAssigned"
	EvtRoundResolved EventType = "RoundResolved"
	EvtRoundAborted  EventType = "RoundAborted"
	EvtHostChanged   EventType = "HostChanged"
	EvtRoomClosed    EventType = "RoomClosed"
)

type Event struct {
	Type     EventType
	From     Phase
	To       Phase
	PlayerID string
	Outcome  *Outcome
}

// Outcome describes one resolved round.
type Outcome struct {
	Round       int
	Task        string
	ActiveTeam  Team
	Target      int
	ValidCount  int
	AnswerCount int
	Winner      Team
	GaveUp      bool
	TimedOut    bool
}

// Machine applies validated commands. It holds no room state of its own.
type Machine struct {
	Tasks TaskPicker
	Roles RolePolicy
}

func NewMachine(tasks TaskPicker, roles RolePolicy) *Machine {
	if tasks == nil {
		tasks = DefaultTaskPool()
	}
	if roles == nil {
		roles = PluralityPolicy{}
	}
	return &Machine{Tasks: tasks, Roles: roles}
}

// Apply validates cmd against s and returns the events and the next state.
// On error s is returned untouched.
func (m *Machine) Apply(s State, cmd Command) ([]Event, State, error) {
	if err := m.Validate(s, cmd); err != nil {
		return nil, s, err
	}

	next := s.Clone()
	var events []Event

	switch cmd.Type {
	case ActJoinGame:
		events = m.join(&next, cmd)

	case ActConnect:
		p := next.player(cmd.PlayerID)
		p.Connected = true
		events = claimHost(&next, cmd.PlayerID)

	case ActStartGame:
		next.AbortReason = ""
		next.LastMessage = ""
		next.Scores = ByTeam[int]{}
		next.CurrentRound = 1
		task := next.PendingTask
		if task == "" {
			task = m.Tasks.Pick("")
		}
		next.PendingTask = ""
		events = append(events, startRound(&next, task))

	case ActUpdateSetting:
		next.Settings = Settings{TimerSeconds: cmd.Timer, MaxRounds: cmd.Rounds}

	case ActSwitchTeam:
		team, _ := ParseTeam(cmd.NewTeam)
		next.player(cmd.TargetID).Team = team

	case ActCastVote:
		next.VoteSeq++
		next.Votes[cmd.PlayerID] = Vote{Target: cmd.TargetID, Seq: next.VoteSeq}
		events = append(events, m.maybeOpenAuction(&next)...)

	case ActChangeTask:
		next.CurrentTask = m.Tasks.Pick(next.CurrentTask)
		next.Votes = map[string]Vote{}

	case ActSetCustomTask:
		task := strings.TrimSpace(cmd.Task)
		if next.Phase == PhaseLobby {
			next.PendingTask = task
			break
		}
		next.CurrentTask = task
		next.Votes = map[string]Vote{}

	case ActPlaceBid:
		team := next.player(cmd.PlayerID).Team
		next.Auction.CurrentBid = cmd.Amount
		next.Auction.HoldingTeam = team
		next.Auction.Turn = team.Other()

	case ActCallBullshit:
		active := next.Auction.HoldingTeam
		next.Round = RoundResult{
			Target:      next.Auction.CurrentBid,
			ActiveTeam:  active,
			LiveBubbles: []string{},
		}
		events = append(events, setPhase(&next, PhasePerformance))

	case ActLiveTyping:
		next.Round.LiveBubbles = clipBubbles(cmd.Bubbles)

	case ActSubmitAnswers:
		events = append(events, toValidation(&next, cmd.Answers, false))

	case ActTimeout:
		events = append(events, toValidation(&next, next.Round.LiveBubbles, true))

	case ActGiveUp:
		active := next.Round.ActiveTeam
		out := next.outcome()
		out.Winner = active.Other()
		out.GaveUp = true
		next.LastMessage = fmt.Sprintf("Team %s Gave Up!", active)
		events = append(events, m.resolve(&next, out)...)

	case ActToggleValid:
		a := &next.Round.Answers[cmd.Index]
		a.Valid = !a.Valid

	case ActFinalizeRound:
		out := next.outcome()
		active := out.ActiveTeam
		if out.ValidCount >= out.Target {
			out.Winner = active
			next.LastMessage = fmt.Sprintf("Team %s Won the Round!", active)
		} else {
			out.Winner = active.Other()
			next.LastMessage = fmt.Sprintf("Team %s Failed! Point to %s.", active, active.Other())
		}
		events = append(events, m.resolve(&next, out)...)

	case ActPlayAgain:
		next.Scores = ByTeam[int]{}
		next.CurrentRound = 0
		next.AbortReason = ""
		next.LastMessage = ""
		clearRound(&next)
		events = append(events, setPhase(&next, PhaseLobby))

	case ActEndRoom:
		events = append(events, setPhase(&next, PhaseClosed), Event{Type: EvtRoomClosed})

	case ActDisconnect:
		events = m.disconnect(&next, cmd.PlayerID)

	default:
		return nil, s, ErrUnsupportedAction
	}

	return events, next, nil
}

func (m *Machine) join(s *State, cmd Command) []Event {
	name := strings.TrimSpace(cmd.Name)
	if p := s.player(cmd.PlayerID); p != nil {
		p.Name = name
		if len(cmd.Avatar) > 0 {
			p.Avatar = cmd.Avatar
		}
		p.Connected = true
		return claimHost(s, cmd.PlayerID)
	}

	team := TeamA
	if len(s.members(TeamA, false)) > len(s.members(TeamB, false)) {
		team = TeamB
	}
	s.Players = append(s.Players, Player{
		ID:        cmd.PlayerID,
		Name:      name,
		Avatar:    cmd.Avatar,
		Team:      team,
		Connected: true,
	})
	return claimHost(s, cmd.PlayerID)
}

// claimHost hands the room to id when nobody connected holds it.
func claimHost(s *State, id string) []Event {
	if s.HostID != "" {
		if h := s.player(s.HostID); h != nil && h.Connected {
			return nil
		}
	}
	if s.HostID == id {
		return nil
	}
	s.HostID = id
	return []Event{{Type: EvtHostChanged, PlayerID: id}}
}

func (m *Machine) maybeOpenAuction(s *State) []Event {
	if !s.allVoted() {
		return nil
	}
	for _, team := range []Team{TeamA, TeamB} {
		boy, backer := m.Roles.Assign(s.roster(team), s.ballots(team))
		s.Boys.Set(team, boy)
		s.Backers.Set(team, backer)
	}
	s.Auction = Auction{Turn: TeamA}
	return []Event{{Type: EvtRolesAssigned}, setPhase(s, PhaseAuction)}
}

func (m *Machine) resolve(s *State, out Outcome) []Event {
	s.Scores.Set(out.Winner, s.Scores.Get(out.Winner)+1)
	events := []Event{{Type: EvtRoundResolved, Outcome: &out}}

	if s.CurrentRound < s.Settings.MaxRounds {
		s.CurrentRound++
		return append(events, startRound(s, m.Tasks.Pick(s.CurrentTask)))
	}
	clearRound(s)
	return append(events, setPhase(s, PhaseGameOver))
}

func (m *Machine) disconnect(s *State, id string) []Event {
	p := s.player(id)
	p.Connected = false
	name := p.Name

	var events []Event
	if s.HostID == id {
		for _, other := range s.Players {
			if other.Connected {
				s.HostID = other.ID
				events = append(events, Event{Type: EvtHostChanged, PlayerID: other.ID})
				break
			}
		}
	}

	switch {
	case s.Phase.InRound():
		events = append(events, abort(s, name)...)

	case s.Phase == PhaseNomination:
		delete(s.Votes, id)
		for voter, v := range s.Votes {
			if v.Target == id {
				delete(s.Votes, voter)
			}
		}
		if len(s.roster(TeamA)) < MinTeamSize || len(s.roster(TeamB)) < MinTeamSize {
			events = append(events, abort(s, name)...)
			break
		}
		events = append(events, m.maybeOpenAuction(s)...)
	}
	return events
}

func abort(s *State, name string) []Event {
	s.AbortReason = fmt.Sprintf("Round Aborted! %s disconnected.", name)
	clearRound(s)
	return []Event{{Type: EvtRoundAborted}, setPhase(s, PhaseLobby)}
}

func startRound(s *State, task string) Event {
	clearRound(s)
	for _, p := range s.Players {
		if p.Connected {
			s.Participants[p.ID] = true
		}
	}
	s.CurrentTask = task
	return setPhase(s, PhaseNomination)
}

func clearRound(s *State) {
	s.Participants = map[string]bool{}
	s.Votes = map[string]Vote{}
	s.VoteSeq = 0
	s.Boys = ByTeam[string]{}
	s.Backers = ByTeam[string]{}
	s.Auction = Auction{}
	s.Round = RoundResult{}
}

func setPhase(s *State, to Phase) Event {
	from := s.Phase
	s.Phase = to
	return Event{Type: EvtPhaseChanged, From: from, To: to}
}

func toValidation(s *State, words []string, auto bool) Event {
	seen := make(map[string]bool, len(words))
	answers := make([]Answer, 0, len(words))
	for _, w := range clipBubbles(words) {
		key := strings.ToLower(w)
		if seen[key] {
			continue
		}
		seen[key] = true
		answers = append(answers, Answer{Word: w, Valid: true})
	}
	s.Round.Answers = answers
	s.Round.AutoSubmitted = auto
	return setPhase(s, PhaseValidation)
}

func (s *State) outcome() Outcome {
	valid := 0
	for _, a := range s.Round.Answers {
		if a.Valid {
			valid++
		}
	}
	return Outcome{
		Round:       s.CurrentRound,
		Task:        s.CurrentTask,
		ActiveTeam:  s.Round.ActiveTeam,
		Target:      s.Round.Target,
		ValidCount:  valid,
		AnswerCount: len(s.Round.Answers),
		TimedOut:    s.Round.AutoSubmitted,
	}
}
