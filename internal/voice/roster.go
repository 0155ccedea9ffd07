// Package voice folds voice-channel-state events into the small set of
// current voice participants. The server is the single origin of these
// events, so the fold is last-event-wins with no timestamp ordering.
package voice

import (
	"encoding/json"
	"log"
	"sync"

	"roomchat/client/internal/models"
)

// Transport carries the client's own voice announcements; the websocket
// connector satisfies it.
type Transport interface {
	Send(msg models.SendMessage)
}

// Roster tracks the voice channel's participants, keyed by user id.
type Roster struct {
	mu sync.Mutex

	roomID string
	tx     Transport

	participants map[string]models.VoiceParticipant
	order        []string

	localUserID string
	localMuted  bool
}

// NewRoster builds an empty roster for roomID announcing over tx.
func NewRoster(roomID string, tx Transport) *Roster {
	return &Roster{
		roomID:       roomID,
		tx:           tx,
		participants: make(map[string]models.VoiceParticipant),
	}
}

// Fold applies one voice-channel-state event. A mute or unmute for an unknown
// participant is a no-op; the fold never synthesizes membership from a mute.
func (r *Roster) Fold(ev models.VoiceState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Action {
	case models.VoiceUserJoined:
		name := ev.DisplayName
		if name == "" {
			name = ev.UserID
		}
		if _, ok := r.participants[ev.UserID]; !ok {
			r.order = append(r.order, ev.UserID)
		}
		p := r.participants[ev.UserID]
		p.UserID = ev.UserID
		p.MediaUID = ev.MediaUID
		p.DisplayName = name
		p.IsLocal = ev.UserID == r.localUserID
		r.participants[ev.UserID] = p

	case models.VoiceUserLeft:
		r.removeLocked(ev.UserID)

	case models.VoiceUserMuted:
		r.setMutedLocked(ev.UserID, true)

	case models.VoiceUserUnmuted:
		r.setMutedLocked(ev.UserID, false)

	default:
		log.Printf("voice: ignoring unknown action %q", ev.Action)
	}
}

func (r *Roster) removeLocked(userID string) {
	if _, ok := r.participants[userID]; !ok {
		return
	}
	delete(r.participants, userID)
	for i, id := range r.order {
		if id == userID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Roster) setMutedLocked(userID string, muted bool) {
	p, ok := r.participants[userID]
	if !ok {
		return
	}
	p.IsMuted = muted
	r.participants[userID] = p
}

// JoinLocal registers the local user as a participant and announces the join.
func (r *Roster) JoinLocal(userID string, mediaUID int64) {
	r.mu.Lock()
	r.localUserID = userID
	r.localMuted = false
	if _, ok := r.participants[userID]; !ok {
		r.order = append(r.order, userID)
	}
	r.participants[userID] = models.VoiceParticipant{
		UserID:      userID,
		MediaUID:    mediaUID,
		DisplayName: userID,
		IsLocal:     true,
	}
	r.mu.Unlock()

	r.announce(userID, mediaUID, models.VoiceNotifyJoined)
}

// LeaveLocal removes the local user and announces the leave.
func (r *Roster) LeaveLocal() {
	r.mu.Lock()
	userID := r.localUserID
	if userID == "" {
		r.mu.Unlock()
		return
	}
	mediaUID := r.participants[userID].MediaUID
	r.removeLocked(userID)
	r.localUserID = ""
	r.mu.Unlock()

	r.announce(userID, mediaUID, models.VoiceNotifyLeft)
}

// ToggleLocalMute flips the local mute state and announces it. Returns the
// new state; false with no announcement when not in the channel.
func (r *Roster) ToggleLocalMute() bool {
	r.mu.Lock()
	userID := r.localUserID
	if userID == "" {
		r.mu.Unlock()
		return false
	}
	r.localMuted = !r.localMuted
	muted := r.localMuted
	r.setMutedLocked(userID, muted)
	mediaUID := r.participants[userID].MediaUID
	r.mu.Unlock()

	action := models.VoiceNotifyUnmuted
	if muted {
		action = models.VoiceNotifyMuted
	}
	r.announce(userID, mediaUID, action)
	return muted
}

func (r *Roster) announce(userID string, mediaUID int64, action string) {
	if r.tx == nil {
		return
	}
	payload, err := json.Marshal(models.VoiceActionMessage{
		Type:     models.TypeVoiceAction,
		RoomID:   r.roomID,
		UserID:   userID,
		MediaUID: mediaUID,
		Action:   action,
	})
	if err != nil {
		log.Printf("voice: encode %s announcement: %v", action, err)
		return
	}
	r.tx.Send(models.SendMessage{Type: models.TypeVoiceAction, Content: string(payload)})
}

// Participants returns the current set in join order.
func (r *Roster) Participants() []models.VoiceParticipant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.VoiceParticipant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.participants[id])
	}
	return out
}
