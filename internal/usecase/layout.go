package usecase

import "livecast/internal/domain"

const (
	cameraIndex = 0
	screenIndex = 1
)

// Side by side when both sources are on: the screen takes the left two
// thirds, the camera the right third.
var (
	sharedScreenRect = domain.Rect{X: 0, Y: 0, W: 2.0 / 3.0, H: 1}
	sharedCameraRect = domain.Rect{X: 2.0 / 3.0, Y: 0, W: 1.0 / 3.0, H: 1}
)

func cameraPlacement(mode domain.SourceMode) domain.InputOptions {
	if mode == domain.SourceModeBoth {
		return domain.InputOptions{Index: cameraIndex, Position: sharedCameraRect}
	}
	return domain.InputOptions{Index: cameraIndex, Position: domain.FullCanvas}
}

// screenPlacement is used while going live: index 1 in both mode, 0 when
// the screen is the only source.
func screenPlacement(mode domain.SourceMode) domain.InputOptions {
	if mode == domain.SourceModeBoth {
		return domain.InputOptions{Index: screenIndex, Position: sharedScreenRect}
	}
	return domain.InputOptions{Index: 0, Position: domain.FullCanvas}
}

// toggledScreenPlacement is used when screen share is turned on while live.
// It always takes the secondary index.
func toggledScreenPlacement(cameraActive bool) domain.InputOptions {
	if cameraActive {
		return domain.InputOptions{Index: screenIndex, Position: sharedScreenRect}
	}
	return domain.InputOptions{Index: screenIndex, Position: domain.FullCanvas}
}
