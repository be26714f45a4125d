package history

import (
	"context"
	"time"
)

// Round is one resolved round, as written to the game_history store.
type Round struct {
	RoomCode       string    `json:"room_code" bson:"room_code"`
	Round          int       `json:"round" bson:"round"`
	Task           string    `json:"task" bson:"task"`
	ActiveTeam     string    `json:"active_team" bson:"active_team"`
	Target         int       `json:"target" bson:"target"`
	ValidCount     int       `json:"valid_count" bson:"valid_count"`
	AnswerCount    int       `json:"answer_count" bson:"answer_count"`
	Winner         string    `json:"winner" bson:"winner"`
	GaveUp         bool      `json:"gave_up" bson:"gave_up"`
	TimedOut       bool      `json:"timed_out" bson:"timed_out"`
	VoteDurationMS int64     `json:"vote_duration_ms" bson:"vote_duration_ms"`
	PerformanceMS  int64     `json:"performance_ms" bson:"performance_ms"`
	ResolvedAt     time.Time `json:"resolved_at" bson:"resolved_at"`
}

// Store persists rounds. ListByRoom returns rounds oldest first; limit <= 0
// means no limit.
type Store interface {
	Save(ctx context.Context, r Round) error
	ListByRoom(ctx context.Context, code string, limit int) ([]Round, error)
	Close(ctx context.Context) error
}
