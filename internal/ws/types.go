package ws

import (
	"time"

	"github.com/saker-ai/denoise-bridge/pkg/denoise"
)

// SessionStats describes one live stream session.
type SessionStats struct {
	ID         string               `json:"id"`
	RemoteAddr string               `json:"remote_addr"`
	StartedAt  time.Time            `json:"started_at"`
	State      string               `json:"state"`
	Mode       string               `json:"mode"`
	Segments   int                  `json:"segments"`
	Stats      denoise.AdapterStats `json:"stats"`
}
