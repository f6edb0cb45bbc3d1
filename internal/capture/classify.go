package capture

import (
	"context"
	"errors"
	"os/exec"
	"strings"

	"livecast/internal/domain"
)

var (
	permissionMarkers = []string{
		"permission denied",
		"operation not permitted",
		"not authorized",
		"access denied",
	}
	missingMarkers = []string{
		"no such file or directory",
		"no such device",
		"cannot open display",
		"can't open display",
		"connection refused",
		"no such entity",
		"could not find video device",
		"could not find audio device",
		"cannot open audio device",
	}
	constraintMarkers = []string{
		"invalid argument",
		"not supported",
		"does not support",
		"invalid video size",
		"invalid frame rate",
		"invalid sample rate",
		"unsupported pixel format",
		"could not set video options",
	}
)

// classify maps an acquisition failure onto the device error taxonomy.
func classify(device string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewDeviceError(device, domain.ErrDeviceFailure, err)
	}
	if errors.Is(err, exec.ErrNotFound) {
		return domain.NewDeviceError(device, domain.ErrNoDeviceFound, err)
	}

	detail := err.Error()
	var se *startError
	if errors.As(err, &se) && se.stderr != "" {
		detail = se.stderr
	}

	return domain.NewDeviceError(device, classifyDetail(detail), err)
}

func classifyDetail(detail string) error {
	lower := strings.ToLower(detail)
	switch {
	case containsAny(lower, permissionMarkers):
		return domain.ErrPermissionDenied
	case containsAny(lower, missingMarkers):
		return domain.ErrNoDeviceFound
	case containsAny(lower, constraintMarkers):
		return domain.ErrConstraintsUnsatisfiable
	default:
		return domain.ErrDeviceFailure
	}
}

func containsAny(haystack string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}
