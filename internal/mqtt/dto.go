package mqtt

import (
	"time"

	"github.com/tphakala/ondepi-go/internal/audiocore"
	"github.com/tphakala/ondepi-go/internal/conf"
	"github.com/tphakala/ondepi-go/internal/metadata"
	"github.com/tphakala/ondepi-go/internal/status"
)

// StatusDTO is published to {topic}/status. Field names are the payload
// contract for dashboards and the discovery value templates.
type StatusDTO struct {
	Streaming       bool    `json:"streaming"`
	SessionID       string  `json:"session_id,omitempty"`
	RetryCount      int     `json:"retry_count"`
	LastError       string  `json:"last_error,omitempty"`
	LastErrorSource string  `json:"last_error_source,omitempty"`
	Device          string  `json:"device"`
	DeviceStatus    string  `json:"device_status"`
	RMS             float64 `json:"rms"`
	Peak            float64 `json:"peak"`
	GainDB          float64 `json:"gain_db"`
	Timestamp       string  `json:"timestamp"` // RFC3339
}

// NewStatusDTO flattens a status snapshot and the device status.
func NewStatusDTO(snap *status.Snapshot, dev *audiocore.DeviceStatus, now time.Time) *StatusDTO {
	dto := &StatusDTO{
		Streaming:       snap.Streaming,
		SessionID:       snap.SessionID,
		RetryCount:      snap.RetryCount,
		LastErrorSource: string(snap.LastErrorSource),
		Device:          dev.Device,
		DeviceStatus:    string(dev.Status),
		RMS:             snap.Levels.RMS,
		Peak:            snap.Levels.Peak,
		GainDB:          snap.GainDB,
		Timestamp:       now.UTC().Format(time.RFC3339),
	}
	if snap.LastError != nil {
		dto.LastError = *snap.LastError
	}
	return dto
}

// NowPlayingDTO is published retained to {topic}/now_playing when the title
// changes.
type NowPlayingDTO struct {
	Song    string `json:"song"`
	Artist  string `json:"artist"`
	Track   string `json:"track"`
	Station string `json:"station"`
}

// NewNowPlayingDTO derives the payload from the metadata section.
func NewNowPlayingDTO(md *conf.MetadataSettings) NowPlayingDTO {
	return NowPlayingDTO{
		Song:    metadata.FormatSong(md.Artist, md.Track),
		Artist:  md.Artist,
		Track:   md.Track,
		Station: md.Name,
	}
}
