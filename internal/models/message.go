package models

import (
	"strings"

	"github.com/google/uuid"
)

// MessageType distinguishes the frames carried over the room socket.
type MessageType string

const (
	TypeMessage     MessageType = "message"
	TypeSystem      MessageType = "system"
	TypeJoin        MessageType = "join"
	TypeLeave       MessageType = "leave"
	TypeError       MessageType = "error"
	TypeEdit        MessageType = "edit"
	TypeDelete      MessageType = "delete"
	TypeDeleteAll   MessageType = "deleteAll"
	TypeOnlineList  MessageType = "onlineList"
	TypeHistory     MessageType = "history"
	TypeVoiceState  MessageType = "voice-channel-state"
	TypeVoiceAction MessageType = "voice-channel-action"
)

// SystemUserID marks messages originated by the server rather than a person.
const SystemUserID = "system"

// FileMeta describes a file attached to a message. The upload service fills it
// in; the engine carries it through untouched.
type FileMeta struct {
	FileName   string `json:"fileName"`
	FileSize   int64  `json:"fileSize"`
	MimeType   string `json:"mimeType"`
	URL        string `json:"url"`
	Encryption string `json:"encryption,omitempty"`
	EmojiID    string `json:"emoji_id,omitempty"`
}

// RoomMessage is one entry in a room's visible message list.
//
// The last block of fields is local rendering state. It never goes over the
// wire and never participates in equality checks.
type RoomMessage struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	RoomID    string      `json:"roomId"`
	UserID    string      `json:"userId"`
	Content   string      `json:"content"`
	Timestamp int64       `json:"timestamp"`
	FileMeta  *FileMeta   `json:"fileMeta,omitempty"`
	Edited    bool        `json:"edited,omitempty"`

	IsNew     bool `json:"-"`
	Deleting  bool `json:"-"`
	Editing   bool `json:"-"`
	Collapsed bool `json:"-"`
}

// SendMessage is the outbound frame shape.
type SendMessage struct {
	Type            MessageType `json:"type"`
	Content         string      `json:"content,omitempty"`
	FileMeta        *FileMeta   `json:"fileMeta,omitempty"`
	MessageID       string      `json:"messageId,omitempty"`
	OriginalContent string      `json:"originalContent,omitempty"`
	TempID          string      `json:"tempId,omitempty"`
}

const tempIDPrefix = "temp-"

// NewTempID generates a placeholder id for an optimistically created message.
// The server echoes the durable id back and the engine swaps it in.
func NewTempID() string {
	return tempIDPrefix + uuid.New().String()
}

// IsTempID reports whether id is a locally generated placeholder.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// NewSystemMessageID generates a unique id for a locally materialized system
// message.
func NewSystemMessageID() string {
	return "system-" + uuid.New().String()
}

// NewFallbackMessageID generates an id for an inbound message that arrived
// without one.
func NewFallbackMessageID() string {
	return "msg-" + uuid.New().String()
}

// NewRosterMessageID generates a unique id for an online-roster summary entry.
// Every roster update gets a fresh id so consecutive identical rosters each
// produce their own entry.
func NewRosterMessageID() string {
	return "online-list-" + uuid.New().String()
}
