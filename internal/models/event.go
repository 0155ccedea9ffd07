package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// InvalidTimestamp marks a timestamp that never parsed. Entries carrying it
// sort last in the visible list; every numeric timestamp, zero included, is a
// valid ordering key.
const InvalidTimestamp int64 = math.MinInt64

// FlexTimestamp unmarshals a millisecond timestamp that the server may send as
// a number, a numeric string, or garbage. Anything unparseable decodes to
// InvalidTimestamp instead of failing the whole frame.
type FlexTimestamp int64

func (t *FlexTimestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*t = FlexTimestamp(InvalidTimestamp)
		return nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		*t = FlexTimestamp(v)
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		*t = FlexTimestamp(int64(f))
		return nil
	}
	*t = FlexTimestamp(InvalidTimestamp)
	return nil
}

// Envelope is the raw inbound frame. It covers both the single-event shape and
// the history-batch shape; Type discriminates.
type Envelope struct {
	Type            MessageType     `json:"type"`
	ID              string          `json:"id"`
	RoomID          string          `json:"roomId"`
	UserID          string          `json:"userId"`
	Content         string          `json:"content"`
	Timestamp       FlexTimestamp   `json:"timestamp"`
	FileMeta        *FileMeta       `json:"fileMeta,omitempty"`
	MessageID       string          `json:"messageId,omitempty"`
	TempID          string          `json:"tempId,omitempty"`
	OriginalContent string          `json:"originalContent,omitempty"`
	Messages        []Envelope      `json:"messages,omitempty"`
	MediaUID        int64           `json:"agoraUid,omitempty"`
	Action          string          `json:"action,omitempty"`
	DisplayName     string          `json:"displayName,omitempty"`
	Raw             json.RawMessage `json:"-"`
}

// UnmarshalJSON seeds the timestamp with InvalidTimestamp so a frame that
// omits the field sorts with the unparseable ones rather than at epoch zero.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	type envelope Envelope
	aux := envelope{Timestamp: FlexTimestamp(InvalidTimestamp)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*e = Envelope(aux)
	return nil
}

func (e Envelope) toRoomMessage() RoomMessage {
	return RoomMessage{
		ID:        e.ID,
		Type:      e.Type,
		RoomID:    e.RoomID,
		UserID:    e.UserID,
		Content:   e.Content,
		Timestamp: int64(e.Timestamp),
		FileMeta:  e.FileMeta,
	}
}

// Event is an inbound event decoded once at the transport boundary. The
// engine's dispatch switches over the concrete variants, so every wire shape
// has exactly one place that knows how to parse it.
type Event interface {
	event()
}

// NewMessage is a regular chat message. MessageID carries the server-assigned
// id on echoes of the client's own optimistic sends.
type NewMessage struct {
	Msg       RoomMessage
	MessageID string
}

// SystemNotice is a system message whose content is plain displayable text
// rather than a recognized action envelope.
type SystemNotice struct {
	Msg RoomMessage
}

// ErrorNotice is a server-reported error surfaced as a list entry.
type ErrorNotice struct {
	Msg RoomMessage
}

// EditAction replaces the content of an existing message.
type EditAction struct {
	MessageID    string
	NewContent   string
	NewTimestamp int64
	NewUserID    string
}

// DeleteAction removes a single message.
type DeleteAction struct {
	MessageID string
}

// DeleteAllAction removes every message from one user.
type DeleteAllAction struct {
	UserID string
	Count  int
}

// RosterUpdate replaces the set of online users. Msg carries the room and
// timestamp for the materialized summary entry.
type RosterUpdate struct {
	Users []string
	Msg   RoomMessage
}

// Presence is a join or leave announcement.
type Presence struct {
	Msg  RoomMessage
	Join bool
}

// VoiceState is a voice-channel membership change, consumed by the voice
// roster reducer rather than the message engine.
type VoiceState struct {
	RoomID      string
	UserID      string
	MediaUID    int64
	Action      string
	DisplayName string
	Timestamp   int64
}

func (NewMessage) event()      {}
func (SystemNotice) event()    {}
func (ErrorNotice) event()     {}
func (EditAction) event()      {}
func (DeleteAction) event()    {}
func (DeleteAllAction) event() {}
func (RosterUpdate) event()    {}
func (Presence) event()        {}
func (VoiceState) event()      {}

// Voice-channel state actions the server emits.
const (
	VoiceUserJoined  = "user-joined-voice"
	VoiceUserLeft    = "user-left-voice"
	VoiceUserMuted   = "user-muted-audio"
	VoiceUserUnmuted = "user-unmuted-audio"
)

// Voice-channel actions the client announces.
const (
	VoiceNotifyJoined  = "notify-joined"
	VoiceNotifyLeft    = "notify-left"
	VoiceNotifyMuted   = "notify-muted"
	VoiceNotifyUnmuted = "notify-unmuted"
)

// VoiceActionMessage is the payload the client sends when its own voice state
// changes; it travels JSON-encoded as the content of a voice-channel-action
// frame.
type VoiceActionMessage struct {
	Type     MessageType `json:"type"`
	RoomID   string      `json:"roomId"`
	UserID   string      `json:"userId"`
	MediaUID int64       `json:"agoraUid"`
	Action   string      `json:"action"`
}

// systemAction is the instruction nested JSON-encoded inside a system
// envelope's content.
type systemAction struct {
	Action     string `json:"action"`
	MessageID  string `json:"messageId"`
	UserID     string `json:"userId"`
	Count      int    `json:"count"`
	NewMessage *struct {
		Content   string        `json:"content"`
		Timestamp FlexTimestamp `json:"timestamp"`
		UserID    string        `json:"userId"`
	} `json:"newMessage"`
}

// DecodeFrame parses one raw socket frame. A history frame yields the decoded
// events of every replayed record and isHistory=true; items that fail to
// decode are skipped so one bad record cannot abort the batch.
func DecodeFrame(raw []byte) (events []Event, isHistory bool, err error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false, fmt.Errorf("decode frame: %w", err)
	}
	if env.Type == TypeHistory {
		events := make([]Event, 0, len(env.Messages))
		for _, item := range env.Messages {
			ev, err := DecodeEnvelope(item)
			if err != nil {
				continue
			}
			events = append(events, ev)
		}
		return events, true, nil
	}
	ev, err := DecodeEnvelope(env)
	if err != nil {
		return nil, false, err
	}
	return []Event{ev}, false, nil
}

// DecodeEnvelope maps one envelope to its event variant.
func DecodeEnvelope(env Envelope) (Event, error) {
	msg := env.toRoomMessage()

	switch env.Type {
	case TypeMessage:
		return NewMessage{Msg: msg, MessageID: env.MessageID}, nil

	case TypeSystem:
		if act, ok := decodeSystemAction(env.Content); ok {
			return act, nil
		}
		// Unrecognized content renders as plain system text.
		return SystemNotice{Msg: msg}, nil

	case TypeEdit:
		if env.MessageID == "" {
			return nil, fmt.Errorf("edit event without messageId")
		}
		return EditAction{
			MessageID:    env.MessageID,
			NewContent:   env.Content,
			NewTimestamp: int64(env.Timestamp),
			NewUserID:    env.UserID,
		}, nil

	case TypeDelete:
		if env.MessageID == "" {
			return nil, fmt.Errorf("delete event without messageId")
		}
		return DeleteAction{MessageID: env.MessageID}, nil

	case TypeDeleteAll:
		return DeleteAllAction{UserID: env.UserID}, nil

	case TypeOnlineList:
		if env.UserID != SystemUserID {
			return nil, fmt.Errorf("onlineList event from non-system user %q", env.UserID)
		}
		var users []string
		if err := json.Unmarshal([]byte(env.Content), &users); err != nil {
			return nil, fmt.Errorf("decode online roster: %w", err)
		}
		return RosterUpdate{Users: users, Msg: msg}, nil

	case TypeJoin:
		return Presence{Msg: msg, Join: true}, nil

	case TypeLeave:
		return Presence{Msg: msg, Join: false}, nil

	case TypeError:
		return ErrorNotice{Msg: msg}, nil

	case TypeVoiceState:
		return VoiceState{
			RoomID:      env.RoomID,
			UserID:      env.UserID,
			MediaUID:    env.MediaUID,
			Action:      env.Action,
			DisplayName: env.DisplayName,
			Timestamp:   int64(env.Timestamp),
		}, nil
	}

	return nil, fmt.Errorf("unknown event type %q", env.Type)
}

// decodeSystemAction tries to read a system envelope's content as a nested
// action instruction.
func decodeSystemAction(content string) (Event, bool) {
	var act systemAction
	if err := json.Unmarshal([]byte(content), &act); err != nil {
		return nil, false
	}
	switch act.Action {
	case "delete":
		if act.MessageID == "" {
			return nil, false
		}
		return DeleteAction{MessageID: act.MessageID}, true
	case "edit":
		if act.MessageID == "" || act.NewMessage == nil {
			return nil, false
		}
		return EditAction{
			MessageID:    act.MessageID,
			NewContent:   act.NewMessage.Content,
			NewTimestamp: int64(act.NewMessage.Timestamp),
			NewUserID:    act.NewMessage.UserID,
		}, true
	case "deleteAll":
		if act.UserID == "" {
			return nil, false
		}
		return DeleteAllAction{UserID: act.UserID, Count: act.Count}, true
	}
	return nil, false
}
