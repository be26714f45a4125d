package engine

import (
	"slices"
	"strings"
	"unicode/utf8"
)

const (
	MinTeamSize = 2

	MinTimerSeconds = 10
	MaxTimerSeconds = 300
	MinRounds       = 1
	MaxRounds       = 20

	MaxBid = 99

	MaxNameLen    = 24
	MaxTaskLen    = 140
	MaxAnswers    = 100
	MaxAnswerLen  = 64
	DefaultTimer  = 60
	DefaultRounds = 3
)

func NewEmptyState(code string, settings Settings) State {
	if settings.TimerSeconds == 0 {
		settings.TimerSeconds = DefaultTimer
	}
	if settings.MaxRounds == 0 {
		settings.MaxRounds = DefaultRounds
	}
	s := State{
		Code:     code,
		Phase:    PhaseLobby,
		Settings: settings,
		Players:  []Player{},
	}
	clearRound(&s)
	return s
}

// Clone returns a deep copy; Apply never mutates the state it was given.
func (s State) Clone() State {
	c := s
	c.Players = slices.Clone(s.Players)
	c.Participants = make(map[string]bool, len(s.Participants))
	for k, v := range s.Participants {
		c.Participants[k] = v
	}
	c.Votes = make(map[string]Vote, len(s.Votes))
	for k, v := range s.Votes {
		c.Votes[k] = v
	}
	c.Round.Answers = slices.Clone(s.Round.Answers)
	c.Round.LiveBubbles = slices.Clone(s.Round.LiveBubbles)
	return c
}

func (s *State) player(id string) *Player {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return &s.Players[i]
		}
	}
	return nil
}

// Player returns a copy of the player with id.
func (s State) Player(id string) (Player, bool) {
	p := s.player(id)
	if p == nil {
		return Player{}, false
	}
	return *p, true
}

// members lists team player ids in join order.
func (s *State) members(team Team, connectedOnly bool) []string {
	var ids []string
	for _, p := range s.Players {
		if p.Team != team || (connectedOnly && !p.Connected) {
			continue
		}
		ids = append(ids, p.ID)
	}
	return ids
}

// roster lists the connected round participants of team in join order.
func (s *State) roster(team Team) []string {
	var ids []string
	for _, p := range s.Players {
		if p.Team == team && p.Connected && s.Participants[p.ID] {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// ConnectedCount returns the number of connected players on team.
func (s State) ConnectedCount(team Team) int {
	return len(s.members(team, true))
}

func (s *State) ballots(team Team) []Ballot {
	var out []Ballot
	for voter, v := range s.Votes {
		p := s.player(voter)
		if p == nil || p.Team != team || !p.Connected || !s.Participants[voter] {
			continue
		}
		out = append(out, Ballot{Voter: voter, Target: v.Target, Seq: v.Seq})
	}
	slices.SortFunc(out, func(a, b Ballot) int { return a.Seq - b.Seq })
	return out
}

func (s *State) allVoted() bool {
	connected := 0
	for _, p := range s.Players {
		if !p.Connected || !s.Participants[p.ID] {
			continue
		}
		connected++
		if _, ok := s.Votes[p.ID]; !ok {
			return false
		}
	}
	return connected > 0
}

// clipBubbles trims words, drops empties and applies the answer limits.
func clipBubbles(words []string) []string {
	out := make([]string, 0, min(len(words), MaxAnswers))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		if utf8.RuneCountInString(w) > MaxAnswerLen {
			w = string([]rune(w)[:MaxAnswerLen])
		}
		out = append(out, w)
		if len(out) == MaxAnswers {
			break
		}
	}
	return out
}
