package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/DoyleJ11/back-your-boy-backend/internal/engine"
)

const (
	TypeUpdateState = "UPDATE_STATE"
	TypeError       = "ERROR"
)

// ClientMessage is the inbound envelope: {"action": ..., "player_id": ..., fields}.
// JOIN_GAME carries the joining id in "id" rather than "player_id".
type ClientMessage struct {
	Action   string          `json:"action"`
	PlayerID string          `json:"player_id,omitempty"`
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Avatar   json.RawMessage `json:"avatar,omitempty"`
	TargetID string          `json:"target_id,omitempty"`
	NewTeam  string          `json:"new_team,omitempty"`
	Team     string          `json:"team,omitempty"`
	Task     string          `json:"task,omitempty"`
	Timer    *FlexInt        `json:"timer,omitempty"`
	Rounds   *FlexInt        `json:"rounds,omitempty"`
	Amount   *FlexInt        `json:"amount,omitempty"`
	Index    *FlexInt        `json:"index,omitempty"`
	Bubbles  []string        `json:"bubbles,omitempty"`
	Answers  []string        `json:"answers,omitempty"`
}

type ServerMessage struct {
	Type    string     `json:"type"` // "UPDATE_STATE" | "ERROR"
	Version int        `json:"version,omitempty"`
	State   *RoomState `json:"state,omitempty"`
	Code    string     `json:"code,omitempty"`
	Message string     `json:"message,omitempty"`
	Action  string     `json:"action,omitempty"`
}

func StateUpdate(version int, st RoomState) ServerMessage {
	return ServerMessage{Type: TypeUpdateState, Version: version, State: &st}
}

func ErrorMessage(code, message, action string) ServerMessage {
	return ServerMessage{Type: TypeError, Code: code, Message: message, Action: action}
}

// FlexInt accepts a JSON integer or a string holding one ("5").
// Fractions and anything else are rejected.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	raw := string(b)
	if strings.HasPrefix(raw, `"`) {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("%w: %q is not a number", engine.ErrInvalidPayload, raw)
	}
	if n != math.Trunc(n) || math.Abs(n) > math.MaxInt32 {
		return fmt.Errorf("%w: %q is not a whole number", engine.ErrInvalidPayload, raw)
	}
	*f = FlexInt(n)
	return nil
}

func (f *FlexInt) value(absent int) int {
	if f == nil {
		return absent
	}
	return int(*f)
}

// DecodeClientMessage parses one inbound frame.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: %v", engine.ErrInvalidPayload, err)
	}
	if msg.Action == "" {
		return ClientMessage{}, fmt.Errorf("%w: missing action", engine.ErrInvalidPayload)
	}
	return msg, nil
}

// ToCommand binds the message to the player id of the socket it arrived on.
// Ids in the payload must agree with it.
func (m ClientMessage) ToCommand(boundID string) (engine.Command, error) {
	action := engine.ActionType(m.Action)
	if action.Synthetic() {
		return engine.Command{}, fmt.Errorf("%w: %q", engine.ErrUnsupportedAction, m.Action)
	}
	for _, id := range []string{m.PlayerID, m.ID} {
		if id != "" && id != boundID {
			return engine.Command{}, fmt.Errorf("%w: player id does not match connection", engine.ErrPermission)
		}
	}
	return engine.Command{
		Type:     action,
		PlayerID: boundID,
		Name:     m.Name,
		Avatar:   m.Avatar,
		TargetID: m.TargetID,
		Team:     m.Team,
		NewTeam:  m.NewTeam,
		Timer:    m.Timer.value(0),
		Rounds:   m.Rounds.value(0),
		Task:     m.Task,
		Amount:   m.Amount.value(0),
		Index:    m.Index.value(-1),
		Bubbles:  m.Bubbles,
		Answers:  m.Answers,
	}, nil
}
