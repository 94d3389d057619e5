package metadata

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/ondepi-go/internal/conf"
	"github.com/tphakala/ondepi-go/internal/errors"
	"github.com/tphakala/ondepi-go/internal/httpclient"
	"github.com/tphakala/ondepi-go/internal/logger"
)

// RequestTimeout bounds a single metadata update.
const RequestTimeout = 5 * time.Second

const componentMetadata = "metadata"

// ErrAzuraCastConfig is returned when AzuraCast is enabled but incomplete.
var ErrAzuraCastConfig = errors.NewStd("AzuraCast config missing api_url, station_id, or access_token")

// AzuraCast pushes the current song to an AzuraCast station.
type AzuraCast struct {
	mu     sync.RWMutex
	cfg    conf.AzuraCastSettings
	client *httpclient.Client
	log    logger.Logger
}

// NewAzuraCast returns a publisher for cfg using client.
func NewAzuraCast(cfg conf.AzuraCastSettings, client *httpclient.Client) *AzuraCast {
	return &AzuraCast{cfg: cfg, client: client, log: GetLogger()}
}

// Configure replaces the station settings used by later pushes.
func (a *AzuraCast) Configure(cfg conf.AzuraCastSettings) {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
}

func (a *AzuraCast) settings() conf.AzuraCastSettings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Name implements streamer.Publisher.
func (a *AzuraCast) Name() string { return "azuracast" }

// Endpoint returns the streamer metadata URL for the configured station.
func (a *AzuraCast) Endpoint() string {
	return endpoint(a.settings())
}

func endpoint(cfg conf.AzuraCastSettings) string {
	return fmt.Sprintf("%s/station/%d/streamer-metadata", strings.TrimRight(cfg.APIURL, "/"), cfg.StationID)
}

type songPayload struct {
	Song string `json:"song"`
}

// Publish posts the formatted song. It does nothing when AzuraCast is
// disabled.
func (a *AzuraCast) Publish(ctx context.Context, md conf.MetadataSettings) error {
	cfg := a.settings()
	if !cfg.Enabled {
		return nil
	}
	if cfg.APIURL == "" || cfg.StationID == 0 || cfg.AccessToken == "" {
		return errors.New(ErrAzuraCastConfig).
			Component(componentMetadata).
			Category(errors.CategoryConfiguration).
			Build()
	}

	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	song := FormatSong(md.Artist, md.Track)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.AccessToken)

	resp, err := a.client.PostJSON(ctx, endpoint(cfg), header, songPayload{Song: song})
	if err != nil {
		return err
	}
	defer httpclient.DrainAndClose(resp)

	if err := httpclient.CheckStatus(resp); err != nil {
		return errors.New(err).
			Component(componentMetadata).
			Category(errors.CategoryIntegration).
			Context("station_id", cfg.StationID).
			Context("status_code", resp.StatusCode).
			Build()
	}

	a.log.Debug("streamer metadata updated",
		logger.String("song", song),
		logger.Int("station_id", cfg.StationID))
	return nil
}
