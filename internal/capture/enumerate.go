package capture

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"livecast/internal/domain"
)

var sourceLine = regexp.MustCompile(`^\s*(\*)?\s*(\S+)\s+\[(.*)\]\s*$`)

// EnumerateDevices lists cameras and microphones using `ffmpeg -sources`.
// A format that cannot be listed contributes nothing rather than failing
// the whole enumeration.
func (c *Capturer) EnumerateDevices(ctx context.Context) ([]domain.DeviceInfo, error) {
	var (
		devices []domain.DeviceInfo
		lastErr error
	)

	for _, probe := range []struct {
		format string
		kind   domain.DeviceKind
	}{
		{c.cfg.Camera.InputFormat, domain.DeviceKindVideoInput},
		{c.cfg.Microphone.InputFormat, domain.DeviceKindAudioInput},
	} {
		found, err := c.listSources(ctx, probe.format, probe.kind)
		if err != nil {
			lastErr = err
			c.logger.Debug().Err(err).Str("format", probe.format).Msg("device enumeration failed")
			continue
		}
		devices = append(devices, found...)
	}

	if len(devices) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return devices, nil
}

func (c *Capturer) listSources(ctx context.Context, format string, kind domain.DeviceKind) ([]domain.DeviceInfo, error) {
	cmd := exec.CommandContext(ctx, c.cfg.Command, "-hide_banner", "-sources", format)
	output, err := cmd.CombinedOutput()
	devices := parseSources(string(output), kind)
	if len(devices) == 0 && err != nil {
		return nil, fmt.Errorf("list %s sources: %w: %s", format, err, trimOutput(string(output)))
	}
	return devices, nil
}

func parseSources(output string, kind domain.DeviceKind) []domain.DeviceInfo {
	var devices []domain.DeviceInfo
	for _, line := range strings.Split(output, "\n") {
		match := sourceLine.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		devices = append(devices, domain.DeviceInfo{
			DeviceID: match[2],
			Kind:     kind,
			Label:    strings.TrimSpace(match[3]),
			Default:  match[1] == "*",
		})
	}
	return devices
}
