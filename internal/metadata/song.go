// Package metadata formats now-playing information and publishes it to the
// station's AzuraCast streamer metadata endpoint.
package metadata

import "strings"

// DefaultSong is announced when neither artist nor track is set.
const DefaultSong = "Live"

// FormatSong returns "Artist - Track", whichever one is set, or DefaultSong.
func FormatSong(artist, track string) string {
	artist = strings.TrimSpace(artist)
	track = strings.TrimSpace(track)
	switch {
	case artist != "" && track != "":
		return artist + " - " + track
	case artist != "":
		return artist
	case track != "":
		return track
	default:
		return DefaultSong
	}
}
