package streamer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tphakala/ondepi-go/internal/conf"
	"github.com/tphakala/ondepi-go/internal/logger"
)

// Input modes reported by Status.
const (
	InputAudioEngine = "audio-engine"
	InputALSA        = "alsa"
)

// CodecForFormat maps a stream format to the ffmpeg encoder name. Unknown
// formats are passed through.
func CodecForFormat(format string) string {
	switch strings.ToLower(format) {
	case "mp3":
		return "libmp3lame"
	case "aac":
		return "aac"
	case "opus":
		return "libopus"
	default:
		return strings.ToLower(format)
	}
}

// ContentTypeForFormat maps a stream format to the MIME type announced to the server.
func ContentTypeForFormat(format string) string {
	switch strings.ToLower(format) {
	case "mp3":
		return "audio/mpeg"
	case "aac":
		return "audio/aac"
	case "opus":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

// IngestURL returns the icecast:// destination with percent-encoded credentials.
func IngestURL(s *conf.StreamSettings) string {
	return fmt.Sprintf("icecast://%s:%s@%s:%d/%s",
		quote(s.Username), quote(s.Password), s.Server, s.Port, strings.TrimLeft(s.Mount, "/"))
}

// BuildCommand returns the encoder argv for settings. When bridged, ffmpeg
// reads interleaved float32 from stdin; otherwise it opens the ALSA device
// itself.
func BuildCommand(settings *conf.Settings, ffmpeg string, bridged bool) ([]string, error) {
	st := &settings.Stream
	if st.Server == "" || st.Mount == "" {
		return nil, configError(ErrStreamTargetMissing)
	}
	if ffmpeg == "" {
		ffmpeg = conf.GetFfmpegBinaryName()
	}

	in := &settings.Input
	md := &settings.Metadata

	cmd := []string{ffmpeg, "-hide_banner", "-loglevel", "warning"}
	if bridged {
		cmd = append(cmd, "-f", "f32le",
			"-ac", strconv.Itoa(in.Channels),
			"-ar", strconv.Itoa(in.SampleRate),
			"-i", "pipe:0")
	} else {
		cmd = append(cmd, "-f", "alsa",
			"-ac", strconv.Itoa(in.Channels),
			"-ar", strconv.Itoa(in.SampleRate),
			"-i", "alsa:"+in.ALSADevice)
	}

	cmd = append(cmd, "-vn",
		"-acodec", CodecForFormat(st.Format),
		"-b:a", strconv.Itoa(st.BitrateKbps)+"k",
		"-f", st.Format,
		"-content_type", ContentTypeForFormat(st.Format),
		"-metadata", "title="+md.Track,
		"-metadata", "artist="+md.Artist)

	if st.ICY {
		public := "0"
		if md.Public {
			public = "1"
		}
		cmd = append(cmd,
			"-ice_name", md.Name,
			"-ice_description", md.Description,
			"-ice_genre", md.Genre,
			"-ice_public", public)
	}

	return append(cmd, IngestURL(st)), nil
}

// RedactCommand returns argv with credentials masked, suitable for logs and status.
func RedactCommand(argv []string) []string {
	return logger.RedactArgs(argv)
}

const upperhex = "0123456789ABCDEF"

// quote percent-encodes s, leaving unreserved characters and '/' as is.
func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) || c == '/' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' ||
		c == '-' || c == '.' || c == '_' || c == '~'
}
