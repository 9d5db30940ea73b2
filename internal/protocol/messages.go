// Package protocol defines the JSON commands exchanged on /stream.
package protocol

import "github.com/saker-ai/denoise-bridge/pkg/denoise"

// Command types accepted from clients.
const (
	TypeSetParams   = "set-params"
	TypeGetParams   = "get-params"
	TypeGetStats    = "get-stats"
	TypeApplyPreset = "apply-preset"
	TypeStreamMode  = "stream-mode"
	TypeHeartbeat   = "heartbeat"
)

// Reply types sent by the server.
const (
	TypeSession       = "session"
	TypeParams        = "params"
	TypeStats         = "stats"
	TypePresetApplied = "preset-applied"
	TypeError         = "error"
)

// ClientCommand is a command sent by a stream client.
type ClientCommand struct {
	Type      string               `json:"type"`
	RequestID string               `json:"request_id,omitempty"`
	Params    *denoise.ParamsPatch `json:"params,omitempty"`
	Preset    string               `json:"preset,omitempty"`
	Mode      string               `json:"mode,omitempty"`
}

// ServerMessage is a reply or event sent to a stream client.
type ServerMessage struct {
	Type      string                     `json:"type"`
	RequestID string                     `json:"request_id,omitempty"`
	SessionID string                     `json:"session_id,omitempty"`
	Revision  uint64                     `json:"revision,omitempty"`
	Params    *denoise.SuppressionParams `json:"params,omitempty"`
	Stats     *denoise.AdapterStats      `json:"stats,omitempty"`
	Preset    string                     `json:"preset,omitempty"`
	Mode      string                     `json:"mode,omitempty"`
	MixRate   int                        `json:"mix_rate,omitempty"`
	MaxFrames int                        `json:"max_frames,omitempty"`
	Message   string                     `json:"message,omitempty"`
}
