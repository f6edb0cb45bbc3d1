package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"livecast/internal/domain"
)

type screenRegion struct {
	Width  int
	Height int
	X      int
	Y      int
}

func (r screenRegion) empty() bool { return r.Width <= 0 || r.Height <= 0 }

func (r screenRegion) String() string {
	if r.empty() {
		return "full"
	}
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.X, r.Y)
}

// runPicker asks the user for a capture region. With no picker configured
// the whole display is captured.
func runPicker(ctx context.Context, command []string) (screenRegion, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return screenRegion{}, nil
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return screenRegion{}, domain.NewDeviceError("screen", domain.ErrNoDeviceFound, err)
		}
		if ctx.Err() != nil {
			return screenRegion{}, domain.NewDeviceError("screen", domain.ErrDeviceFailure, ctx.Err())
		}
		return screenRegion{}, domain.NewDeviceError("screen", domain.ErrUserCancelled, err)
	}

	output := strings.TrimSpace(stdout.String())
	if output == "" {
		return screenRegion{}, domain.NewDeviceError("screen", domain.ErrUserCancelled, errors.New("picker returned no selection"))
	}

	region, err := parseRegion(output)
	if err != nil {
		return screenRegion{}, domain.NewDeviceError("screen", domain.ErrConstraintsUnsatisfiable, err)
	}
	return region, nil
}

// parseRegion accepts "WxH+X+Y" as printed by slurp -f "%wx%h+%x+%y".
func parseRegion(value string) (screenRegion, error) {
	var r screenRegion
	if _, err := fmt.Sscanf(value, "%dx%d+%d+%d", &r.Width, &r.Height, &r.X, &r.Y); err != nil {
		return screenRegion{}, fmt.Errorf("invalid region %q: %w", value, err)
	}
	if r.empty() {
		return screenRegion{}, fmt.Errorf("invalid region %q: empty area", value)
	}
	return r, nil
}
