package encoder

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"livecast/internal/domain"
	"livecast/internal/ports"
)

const (
	defaultProbeTimeout = 5 * time.Second
	defaultStartProbe   = 250 * time.Millisecond
	stopGrace           = 1200 * time.Millisecond
)

// Config controls the compositing process shared by every handle.
type Config struct {
	Command        string
	Profile        domain.EncoderProfile
	ProbeTimeout   time.Duration
	StartProbe     time.Duration
	RecomposeDelay time.Duration
	// SkipProbe disables the RTMP handshake before going live.
	SkipProbe bool
}

// DefaultProfile is 720p30 at a bitrate most ingest services accept.
func DefaultProfile() domain.EncoderProfile {
	return domain.EncoderProfile{
		Width:            1280,
		Height:           720,
		FrameRate:        30,
		VideoBitrateKbps: 2500,
		AudioBitrateKbps: 160,
		KeyframeSeconds:  2,
		Preset:           "veryfast",
	}
}

// Client creates encoder handles; at most one is alive at a time.
type Client struct {
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	active *Handle
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if strings.TrimSpace(cfg.Command) == "" {
		cfg.Command = "ffmpeg"
	}
	cfg.Profile = mergeProfile(cfg.Profile, DefaultProfile())
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.StartProbe <= 0 {
		cfg.StartProbe = defaultStartProbe
	}
	if cfg.RecomposeDelay < 0 {
		cfg.RecomposeDelay = 0
	}
	return &Client{cfg: cfg, logger: logger.With().Str("module", "encoder").Logger()}
}

var _ ports.Encoder = (*Client)(nil)

// Create validates the ingest endpoint and returns a new handle.
func (c *Client) Create(ctx context.Context, cfg domain.EncoderConfig) (ports.EncoderHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	endpoint, err := parseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return nil, domain.ErrEncoderInUse
	}

	h := newHandle(c, endpoint, mergeProfile(cfg.Profile, c.cfg.Profile))
	c.active = h
	c.logger.Debug().Str("ingest", endpoint.Host).Msg("encoder handle created")
	return h, nil
}

func (c *Client) release(h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == h {
		c.active = nil
	}
}

// parseEndpoint accepts an RTMP(S) URL or a bare ingest host, which is
// published to as rtmps://host:443/app/.
func parseEndpoint(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("ingest endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "rtmps://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid ingest endpoint: %w", err)
	}
	switch u.Scheme {
	case "rtmp", "rtmps":
	default:
		return nil, fmt.Errorf("unsupported ingest scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("ingest endpoint has no host")
	}
	if u.Port() == "" {
		port := "1935"
		if u.Scheme == "rtmps" {
			port = "443"
		}
		u.Host = u.Hostname() + ":" + port
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/app/"
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// publishURL joins the endpoint and the stream key.
func publishURL(endpoint *url.URL, streamKey string) string {
	return endpoint.String() + url.PathEscape(streamKey)
}

func mergeProfile(p, defaults domain.EncoderProfile) domain.EncoderProfile {
	if p.Width <= 0 || p.Height <= 0 {
		p.Width, p.Height = defaults.Width, defaults.Height
	}
	if p.FrameRate <= 0 {
		p.FrameRate = defaults.FrameRate
	}
	if p.VideoBitrateKbps <= 0 {
		p.VideoBitrateKbps = defaults.VideoBitrateKbps
	}
	if p.AudioBitrateKbps <= 0 {
		p.AudioBitrateKbps = defaults.AudioBitrateKbps
	}
	if p.KeyframeSeconds <= 0 {
		p.KeyframeSeconds = defaults.KeyframeSeconds
	}
	if strings.TrimSpace(p.Preset) == "" {
		p.Preset = defaults.Preset
	}
	p.Width = (p.Width + 1) &^ 1
	p.Height = (p.Height + 1) &^ 1
	return p
}

// PreviewSink is a preview surface backed by an ffmpeg output URL, such as
// udp://127.0.0.1:5000 for a local player.
type PreviewSink string

func (p PreviewSink) PreviewURL() string { return string(p) }
