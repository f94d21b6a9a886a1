package domain

import (
	"encoding/json"
	"errors"
)

// Command type strings as they appear on the commands stream.
const (
	CmdInitSession       = "INIT_SESSION"
	CmdLogout            = "LOGOUT"
	CmdDisconnectSession = "DISCONNECT_SESSION"
	CmdRestartSession    = "RESTART_SESSION"
	CmdSendText          = "SEND_TEXT"
	CmdSendImage         = "SEND_IMAGE"
	CmdSendVideo         = "SEND_VIDEO"
	CmdSendAudio         = "SEND_AUDIO"
	CmdUpdateSettings    = "UPDATE_SETTINGS"
	CmdGetStatus         = "GET_STATUS"
)

// AllCommands lists every command type the router must have a handler for.
// The router asserts this set at construction time.
func AllCommands() []string {
	return []string{
		CmdInitSession,
		CmdLogout,
		CmdDisconnectSession,
		CmdRestartSession,
		CmdSendText,
		CmdSendImage,
		CmdSendVideo,
		CmdSendAudio,
		CmdUpdateSettings,
		CmdGetStatus,
	}
}

// ErrInvalidEnvelope is returned when an envelope is missing required fields.
var ErrInvalidEnvelope = errors.New("invalid envelope: id, type and payload are required")

// CommandEnvelope is the unit of work pulled from the commands stream.
type CommandEnvelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Version   string          `json:"version"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Validate checks that the required fields are present. Envelopes failing
// validation are rejected before dispatch.
func (e CommandEnvelope) Validate() error {
	if e.ID == "" || e.Type == "" || len(e.Payload) == 0 || string(e.Payload) == "null" {
		return ErrInvalidEnvelope
	}
	return nil
}
