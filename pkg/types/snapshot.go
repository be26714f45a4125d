package types

import (
	"encoding/json"
	"time"

	"github.com/DoyleJ11/back-your-boy-backend/internal/engine"
)

// RoomState is the full room snapshot every client renders from.
// Optional values encode as null, matching what the web client checks for.
type RoomState struct {
	RoomCode     string            `json:"room_code"`
	HostID       *string           `json:"host_id"`
	Status       string            `json:"status"`
	Settings     Settings          `json:"settings"`
	CurrentRound int               `json:"current_round"`
	Players      []Player          `json:"players"`
	Teams        Pair[[]Player]    `json:"teams"`
	Scores       Pair[int]         `json:"scores"`
	Votes        map[string]string `json:"votes"` // voter -> target
	Boys         Pair[*string]     `json:"boys"`
	Backers      Pair[*string]     `json:"backers"`
	Auction      Auction           `json:"auction"`
	RoundResult  RoundResult       `json:"round_result"`
	CurrentTask  *string           `json:"current_task"`
	PendingTask  *string           `json:"pending_task"`
	LastMessage  *string           `json:"last_message"`
	AbortReason  *string           `json:"abort_reason"`
	RemainingMS  int64             `json:"remaining_ms"`
}

type Pair[T any] struct {
	A T `json:"A"`
	B T `json:"B"`
}

type Settings struct {
	Timer     int `json:"timer"`
	MaxRounds int `json:"max_rounds"`
}

type Player struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Avatar    json.RawMessage `json:"avatar,omitempty"`
	Team      string          `json:"team"`
	Connected bool            `json:"connected"`
}

type Auction struct {
	CurrentBid  int     `json:"current_bid"`
	HoldingTeam *string `json:"holding_team"`
	Turn        *string `json:"turn"`
}

type Answer struct {
	Word  string `json:"word"`
	Valid bool   `json:"valid"`
}

type RoundResult struct {
	Target        int      `json:"target"`
	ActiveTeam    *string  `json:"active_team"`
	Answers       []Answer `json:"answers"`
	LiveBubbles   []string `json:"live_bubbles"`
	AutoSubmitted bool     `json:"auto_submitted"`
}

// NewRoomState renders s for the wire. remaining is the time left on the
// performance timer, zero outside PERFORMANCE.
func NewRoomState(s engine.State, remaining time.Duration) RoomState {
	out := RoomState{
		RoomCode:     s.Code,
		HostID:       nullable(s.HostID),
		Status:       string(s.Phase),
		Settings:     Settings{Timer: s.Settings.TimerSeconds, MaxRounds: s.Settings.MaxRounds},
		CurrentRound: s.CurrentRound,
		Players:      make([]Player, 0, len(s.Players)),
		Teams:        Pair[[]Player]{A: []Player{}, B: []Player{}},
		Scores:       Pair[int]{A: s.Scores.A, B: s.Scores.B},
		Votes:        make(map[string]string, len(s.Votes)),
		Boys:         Pair[*string]{A: nullable(s.Boys.A), B: nullable(s.Boys.B)},
		Backers:      Pair[*string]{A: nullable(s.Backers.A), B: nullable(s.Backers.B)},
		Auction: Auction{
			CurrentBid:  s.Auction.CurrentBid,
			HoldingTeam: nullable(string(s.Auction.HoldingTeam)),
			Turn:        nullable(string(s.Auction.Turn)),
		},
		RoundResult: RoundResult{
			Target:        s.Round.Target,
			ActiveTeam:    nullable(string(s.Round.ActiveTeam)),
			Answers:       make([]Answer, 0, len(s.Round.Answers)),
			LiveBubbles:   append([]string{}, s.Round.LiveBubbles...),
			AutoSubmitted: s.Round.AutoSubmitted,
		},
		CurrentTask: nullable(s.CurrentTask),
		PendingTask: nullable(s.PendingTask),
		LastMessage: nullable(s.LastMessage),
		AbortReason: nullable(s.AbortReason),
	}

	for _, p := range s.Players {
		wp := Player{ID: p.ID, Name: p.Name, Avatar: p.Avatar, Team: string(p.Team), Connected: p.Connected}
		out.Players = append(out.Players, wp)
		if p.Team == engine.TeamB {
			out.Teams.B = append(out.Teams.B, wp)
		} else {
			out.Teams.A = append(out.Teams.A, wp)
		}
	}
	for voter, v := range s.Votes {
		out.Votes[voter] = v.Target
	}
	for _, a := range s.Round.Answers {
		out.RoundResult.Answers = append(out.RoundResult.Answers, Answer{Word: a.Word, Valid: a.Valid})
	}
	if s.Phase == engine.PhasePerformance && remaining > 0 {
		out.RemainingMS = remaining.Milliseconds()
	}
	return out
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
