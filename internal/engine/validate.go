package engine

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

type rule struct {
	phases []Phase // nil means every phase but CLOSED
	check  func(s State, cmd Command) error
}

var rules = map[ActionType]rule{
	ActJoinGame:   {check: checkJoin},
	ActConnect:    {check: checkKnownPlayer},
	ActDisconnect: {check: checkKnownPlayer},

	ActStartGame:     {phases: []Phase{PhaseLobby}, check: checkStart},
	ActUpdateSetting: {phases: []Phase{PhaseLobby}, check: all(hostOnly, checkSettings)},
	ActSwitchTeam:    {phases: []Phase{PhaseLobby, PhaseGameOver}, check: all(hostOnly, checkSwitch)},

	ActCastVote:      {phases: []Phase{PhaseNomination}, check: checkVote},
	ActChangeTask:    {phases: []Phase{PhaseNomination}, check: hostOnly},
	ActSetCustomTask: {phases: []Phase{PhaseLobby, PhaseNomination}, check: all(hostOnly, checkTask)},

	ActPlaceBid:     {phases: []Phase{PhaseAuction}, check: checkBid},
	ActCallBullshit: {phases: []Phase{PhaseAuction}, check: checkBullshit},

	ActLiveTyping:    {phases: []Phase{PhasePerformance}, check: activeBoy},
	ActSubmitAnswers: {phases: []Phase{PhasePerformance}, check: all(activeBoy, checkAnswers)},
	ActGiveUp:        {phases: []Phase{PhasePerformance}, check: activeBoy},
	ActTimeout:       {phases: []Phase{PhasePerformance}},

	ActToggleValid:   {phases: []Phase{PhaseValidation}, check: checkToggle},
	ActFinalizeRound: {phases: []Phase{PhaseValidation}, check: hostOnly},

	ActPlayAgain: {phases: []Phase{PhaseGameOver}, check: hostOnly},
	ActEndRoom:   {phases: []Phase{PhaseLobby, PhaseGameOver}, check: hostOnly},
}

// Validate checks cmd against the current phase, the sender's role and the
// payload, in that order. It never mutates s.
func (m *Machine) Validate(s State, cmd Command) error {
	r, ok := rules[cmd.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedAction, cmd.Type)
	}
	if s.Phase == PhaseClosed {
		return fmt.Errorf("%w: room is closed", ErrInvalidPhase)
	}
	if r.phases != nil && !slices.Contains(r.phases, s.Phase) {
		return fmt.Errorf("%w: %s during %s", ErrInvalidPhase, cmd.Type, s.Phase)
	}
	if r.check == nil {
		return nil
	}
	return r.check(s, cmd)
}

func all(checks ...func(State, Command) error) func(State, Command) error {
	return func(s State, cmd Command) error {
		for _, c := range checks {
			if err := c(s, cmd); err != nil {
				return err
			}
		}
		return nil
	}
}

func hostOnly(s State, cmd Command) error {
	if cmd.PlayerID == "" || cmd.PlayerID != s.HostID {
		return fmt.Errorf("%w: host only", ErrPermission)
	}
	return nil
}

func checkKnownPlayer(s State, cmd Command) error {
	if s.player(cmd.PlayerID) == nil {
		return fmt.Errorf("%w: unknown player %q", ErrInvalidPayload, cmd.PlayerID)
	}
	return nil
}

func checkJoin(s State, cmd Command) error {
	if cmd.PlayerID == "" {
		return fmt.Errorf("%w: missing player id", ErrInvalidPayload)
	}
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPayload)
	}
	if utf8.RuneCountInString(name) > MaxNameLen {
		return fmt.Errorf("%w: name longer than %d characters", ErrInvalidPayload, MaxNameLen)
	}
	return nil
}

func checkStart(s State, cmd Command) error {
	if err := hostOnly(s, cmd); err != nil {
		return err
	}
	if s.ConnectedCount(TeamA) < MinTeamSize || s.ConnectedCount(TeamB) < MinTeamSize {
		return fmt.Errorf("%w: Cannot Start! Each team needs at least %d players.", ErrInvalidPhase, MinTeamSize)
	}
	return nil
}

func checkSettings(_ State, cmd Command) error {
	if cmd.Timer < MinTimerSeconds || cmd.Timer > MaxTimerSeconds {
		return fmt.Errorf("%w: timer must be %d-%d seconds", ErrInvalidPayload, MinTimerSeconds, MaxTimerSeconds)
	}
	if cmd.Rounds < MinRounds || cmd.Rounds > MaxRounds {
		return fmt.Errorf("%w: rounds must be %d-%d", ErrInvalidPayload, MinRounds, MaxRounds)
	}
	return nil
}

func checkSwitch(s State, cmd Command) error {
	if s.player(cmd.TargetID) == nil {
		return fmt.Errorf("%w: unknown player %q", ErrInvalidPayload, cmd.TargetID)
	}
	if _, ok := ParseTeam(cmd.NewTeam); !ok {
		return fmt.Errorf("%w: unknown team %q", ErrInvalidPayload, cmd.NewTeam)
	}
	return nil
}

// senderTeam resolves the sender and, when the payload names a team, checks
// it is the sender's own.
func senderTeam(s State, cmd Command) (Team, error) {
	p := s.player(cmd.PlayerID)
	if p == nil || !p.Connected {
		return "", fmt.Errorf("%w: not a connected player", ErrPermission)
	}
	if cmd.Team != "" {
		t, ok := ParseTeam(cmd.Team)
		if !ok {
			return "", fmt.Errorf("%w: unknown team %q", ErrInvalidPayload, cmd.Team)
		}
		if t != p.Team {
			return "", fmt.Errorf("%w: not on team %s", ErrPermission, t)
		}
	}
	return p.Team, nil
}

func checkVote(s State, cmd Command) error {
	team, err := senderTeam(s, cmd)
	if err != nil {
		return err
	}
	if !s.Participants[cmd.PlayerID] {
		return fmt.Errorf("%w: joined after this round started", ErrPermission)
	}
	target := s.player(cmd.TargetID)
	if target == nil || !target.Connected || !s.Participants[cmd.TargetID] {
		return fmt.Errorf("%w: unknown player %q", ErrInvalidPayload, cmd.TargetID)
	}
	if target.Team != team {
		return fmt.Errorf("%w: can only vote for a teammate", ErrPermission)
	}
	return nil
}

func checkTask(_ State, cmd Command) error {
	task := strings.TrimSpace(cmd.Task)
	if task == "" {
		return fmt.Errorf("%w: task text is empty", ErrInvalidPayload)
	}
	if utf8.RuneCountInString(task) > MaxTaskLen {
		return fmt.Errorf("%w: task longer than %d characters", ErrInvalidPayload, MaxTaskLen)
	}
	return nil
}

func checkBid(s State, cmd Command) error {
	if _, err := senderTeam(s, cmd); err != nil {
		return err
	}
	if cmd.PlayerID != s.Backers.Get(s.Auction.Turn) {
		return fmt.Errorf("%w: only team %s's backer may bid now", ErrPermission, s.Auction.Turn)
	}
	if cmd.Amount <= s.Auction.CurrentBid {
		return fmt.Errorf("%w: bid must be greater than %d", ErrInvalidPayload, s.Auction.CurrentBid)
	}
	if cmd.Amount > MaxBid {
		return fmt.Errorf("%w: bid cannot exceed %d", ErrInvalidPayload, MaxBid)
	}
	return nil
}

func checkBullshit(s State, cmd Command) error {
	if _, err := senderTeam(s, cmd); err != nil {
		return err
	}
	if s.Auction.CurrentBid == 0 || s.Auction.HoldingTeam == "" {
		return fmt.Errorf("%w: no bid to challenge", ErrInvalidPhase)
	}
	if cmd.PlayerID != s.Backers.Get(s.Auction.HoldingTeam.Other()) {
		return fmt.Errorf("%w: only the challenging backer may call bullshit", ErrPermission)
	}
	return nil
}

func activeBoy(s State, cmd Command) error {
	if cmd.PlayerID == "" || cmd.PlayerID != s.Boys.Get(s.Round.ActiveTeam) {
		return fmt.Errorf("%w: only the performing boy may do that", ErrPermission)
	}
	return nil
}

func checkAnswers(_ State, cmd Command) error {
	if len(cmd.Answers) > MaxAnswers {
		return fmt.Errorf("%w: at most %d answers", ErrInvalidPayload, MaxAnswers)
	}
	for _, a := range cmd.Answers {
		if utf8.RuneCountInString(strings.TrimSpace(a)) > MaxAnswerLen {
			return fmt.Errorf("%w: answer longer than %d characters", ErrInvalidPayload, MaxAnswerLen)
		}
	}
	return nil
}

func checkToggle(s State, cmd Command) error {
	p := s.player(cmd.PlayerID)
	if p == nil || p.Team != s.Round.ActiveTeam.Other() {
		return fmt.Errorf("%w: only the opposing team validates", ErrPermission)
	}
	if cmd.Index < 0 || cmd.Index >= len(s.Round.Answers) {
		return fmt.Errorf("%w: index %d out of range", ErrInvalidPayload, cmd.Index)
	}
	return nil
}
