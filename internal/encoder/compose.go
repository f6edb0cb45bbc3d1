package encoder

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"livecast/internal/domain"
)

// composition is the input set one compositing process is built from.
type composition struct {
	profile    domain.EncoderProfile
	videos     []*input
	audios     []*input
	publishURL string
	previewURL string
}

// newComposition orders video inputs by ascending index, so later inputs
// draw on top, and audio inputs by slot name.
func newComposition(profile domain.EncoderProfile, inputs map[domain.Slot]*input, publish, preview string) composition {
	c := composition{profile: profile, publishURL: publish, previewURL: preview}
	for _, in := range inputs {
		if in.kind == domain.TrackKindVideo {
			c.videos = append(c.videos, in)
		} else {
			c.audios = append(c.audios, in)
		}
	}
	sort.SliceStable(c.videos, func(i, j int) bool {
		if c.videos[i].opts.Index != c.videos[j].opts.Index {
			return c.videos[i].opts.Index < c.videos[j].opts.Index
		}
		return c.videos[i].slot < c.videos[j].slot
	})
	sort.Slice(c.audios, func(i, j int) bool { return c.audios[i].slot < c.audios[j].slot })
	return c
}

// ordered returns inputs in the order their pipes are passed as extra files.
func (c composition) ordered() []*input {
	out := make([]*input, 0, len(c.videos)+len(c.audios))
	out = append(out, c.videos...)
	return append(out, c.audios...)
}

// args builds the ffmpeg command line. Input 0 is the canvas, input 1 the
// silent audio bed, and the pipes follow as fd 3 onwards.
func (c composition) args() []string {
	p := c.profile
	args := []string{
		"-nostdin", "-hide_banner", "-loglevel", "warning",
		"-f", "lavfi", "-i", fmt.Sprintf("color=c=black:s=%dx%d:r=%d", p.Width, p.Height, p.FrameRate),
		"-f", "lavfi", "-i", "anullsrc=channel_layout=stereo:sample_rate=48000",
	}

	for i, in := range c.ordered() {
		fd := 3 + i
		args = append(args, "-thread_queue_size", "512")
		if in.kind == domain.TrackKindVideo {
			args = append(args,
				"-f", "rawvideo",
				"-pix_fmt", "yuv420p",
				"-s", fmt.Sprintf("%dx%d", in.format.Width, in.format.Height),
				"-r", strconv.Itoa(in.format.FrameRate),
			)
		} else {
			args = append(args,
				"-f", "s16le",
				"-ar", strconv.Itoa(in.format.SampleRate),
				"-ac", strconv.Itoa(in.format.Channels),
			)
		}
		args = append(args, "-i", fmt.Sprintf("pipe:%d", fd))
	}

	keyint := strconv.Itoa(p.FrameRate * p.KeyframeSeconds)
	args = append(args,
		"-filter_complex", c.filterGraph(),
		"-map", "[vout]",
		"-map", "[aout]",
		"-c:v", "libx264",
		"-preset", p.Preset,
		"-tune", "zerolatency",
		"-pix_fmt", "yuv420p",
		"-b:v", fmt.Sprintf("%dk", p.VideoBitrateKbps),
		"-maxrate", fmt.Sprintf("%dk", p.VideoBitrateKbps),
		"-bufsize", fmt.Sprintf("%dk", p.VideoBitrateKbps*2),
		"-g", keyint,
		"-keyint_min", keyint,
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", p.AudioBitrateKbps),
		"-ar", "48000",
	)

	if c.previewURL == "" {
		return append(args, "-f", "flv", c.publishURL)
	}
	return append(args,
		"-f", "tee",
		fmt.Sprintf("[f=flv:onfail=abort]%s|[f=mpegts:onfail=ignore]%s", c.publishURL, c.previewURL),
	)
}

func (c composition) filterGraph() string {
	p := c.profile
	var parts []string

	base := "0:v"
	for i, in := range c.videos {
		idx := 2 + i
		box := pixelRect(in.opts.Position, p.Width, p.Height)
		scaled := fmt.Sprintf("v%d", i)
		out := fmt.Sprintf("c%d", i)
		if i == len(c.videos)-1 {
			out = "vbase"
		}
		parts = append(parts,
			fmt.Sprintf("[%d:v]scale=%d:%d:force_original_aspect_ratio=decrease,setsar=1[%s]", idx, box.w, box.h, scaled),
			fmt.Sprintf("[%s][%s]overlay=x=%d+(%d-overlay_w)/2:y=%d+(%d-overlay_h)/2:eof_action=pass[%s]",
				base, scaled, box.x, box.w, box.y, box.h, out),
		)
		base = out
	}
	parts = append(parts, fmt.Sprintf("[%s]format=yuv420p[vout]", base))

	if len(c.audios) == 0 {
		parts = append(parts, "[1:a]anull[aout]")
	} else {
		var labels strings.Builder
		labels.WriteString("[1:a]")
		for i := range c.audios {
			fmt.Fprintf(&labels, "[%d:a]", 2+len(c.videos)+i)
		}
		parts = append(parts, fmt.Sprintf("%samix=inputs=%d:duration=first:dropout_transition=0:normalize=0[aout]", labels.String(), len(c.audios)+1))
	}

	return strings.Join(parts, ";")
}

type pixelBox struct{ x, y, w, h int }

func pixelRect(r domain.Rect, width, height int) pixelBox {
	if r.W <= 0 || r.H <= 0 {
		r = domain.FullCanvas
	}
	box := pixelBox{
		x: int(r.X * float64(width)),
		y: int(r.Y * float64(height)),
		w: int(r.W*float64(width)) &^ 1,
		h: int(r.H*float64(height)) &^ 1,
	}
	if box.w < 2 {
		box.w = 2
	}
	if box.h < 2 {
		box.h = 2
	}
	return box
}
