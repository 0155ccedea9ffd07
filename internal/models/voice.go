package models

// VoiceParticipant is one member of a room's voice channel, tracked purely by
// folding voice-channel-state events.
type VoiceParticipant struct {
	UserID      string `json:"userId"`
	MediaUID    int64  `json:"agoraUid"`
	DisplayName string `json:"displayName,omitempty"`
	IsMuted     bool   `json:"isMuted"`
	IsLocal     bool   `json:"isLocal"`
}
