package notification

import (
	"io"
	"log"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/tphakala/ondepi-go/internal/errors"
	"github.com/tphakala/ondepi-go/internal/privacy"
)

// DefaultSendTimeout bounds a single delivery to all configured services.
const DefaultSendTimeout = 10 * time.Second

// Sender delivers one alert.
type Sender interface {
	Send(title, body string) error
}

// ShoutrrrSender sends through every configured shoutrrr URL with a single
// router.
type ShoutrrrSender struct {
	urls   []string
	sender *router.ServiceRouter
}

// NewShoutrrrSender parses urls and builds the router. Errors never contain
// the URLs, which usually embed tokens.
func NewShoutrrrSender(urls []string, timeout time.Duration) (*ShoutrrrSender, error) {
	if len(urls) == 0 {
		return nil, errors.Newf("at least one notification URL is required").
			Component(componentNotification).
			Category(errors.CategoryConfiguration).
			Build()
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, errors.New(privacy.WrapError(err)).
			Component(componentNotification).
			Category(errors.CategoryConfiguration).
			Context("operation", "create_sender").
			Build()
	}
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	sender.Timeout = timeout
	sender.SetLogger(log.New(io.Discard, "", 0))

	return &ShoutrrrSender{urls: slices.Clone(urls), sender: sender}, nil
}

// Services lists the service names, e.g. "ntfy", for logging.
func (s *ShoutrrrSender) Services() []string {
	names := make([]string, 0, len(s.urls))
	for _, u := range s.urls {
		names = append(names, privacy.ServiceName(u))
	}
	return names
}

// Send implements Sender. Failures of individual services are joined.
func (s *ShoutrrrSender) Send(title, body string) error {
	params := stypes.Params{}
	if title != "" {
		params.SetTitle(title)
	}

	var failed []error
	for _, e := range s.sender.Send(body, &params) {
		if e != nil {
			failed = append(failed, privacy.WrapError(e))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return errors.New(errors.Join(failed...)).
		Component(componentNotification).
		Category(errors.CategoryNetwork).
		Context("operation", "send").
		Build()
}
