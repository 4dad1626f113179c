package media

import "fmt"

// QualitySpec describes one target rendition in the encoding ladder. The
// H264 profile and encoder preset trade speed for compression efficiency at
// each rung, mirroring the settings the delivery tier was tuned against.
type QualitySpec struct {
	Quality string
	Width   int
	Height  int
	Bitrate int // kbps
	FPS     int
	Codec   string
	Profile string
	Preset  string
}

// Resolution renders the target dimensions as "WxH".
func (s QualitySpec) Resolution() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// qualityPresets is the static encoding ladder, ordered lowest to highest.
// Loaded once, never mutated at runtime.
var qualityPresets = []QualitySpec{
	{Quality: "144p", Width: 256, Height: 144, Bitrate: 100, FPS: 15, Codec: "h264", Profile: "baseline", Preset: "fast"},
	{Quality: "240p", Width: 426, Height: 240, Bitrate: 300, FPS: 24, Codec: "h264", Profile: "baseline", Preset: "fast"},
	{Quality: "360p", Width: 640, Height: 360, Bitrate: 700, FPS: 30, Codec: "h264", Profile: "main", Preset: "medium"},
	{Quality: "480p", Width: 854, Height: 480, Bitrate: 1500, FPS: 30, Codec: "h264", Profile: "main", Preset: "medium"},
	{Quality: "720p", Width: 1280, Height: 720, Bitrate: 3000, FPS: 30, Codec: "h264", Profile: "high", Preset: "slow"},
	{Quality: "1080p", Width: 1920, Height: 1080, Bitrate: 6000, FPS: 30, Codec: "h264", Profile: "high", Preset: "slow"},
	{Quality: "1440p", Width: 2560, Height: 1440, Bitrate: 12000, FPS: 30, Codec: "h264", Profile: "high", Preset: "slower"},
	{Quality: "2160p", Width: 3840, Height: 2160, Bitrate: 25000, FPS: 30, Codec: "h264", Profile: "high", Preset: "slower"},
}

// Presets returns a copy of the full encoding ladder, lowest quality first.
func Presets() []QualitySpec {
	out := make([]QualitySpec, len(qualityPresets))
	copy(out, qualityPresets)
	return out
}

// PresetByQuality looks up a ladder rung by its label.
func PresetByQuality(quality string) (QualitySpec, bool) {
	for _, spec := range qualityPresets {
		if spec.Quality == quality {
			return spec, true
		}
	}
	return QualitySpec{}, false
}

// PlanLadder selects the target renditions for a source of the given
// dimensions. A rung is included when its pixel count does not exceed the
// source's, so content is never upscaled; when nothing qualifies the lowest
// rung is still returned so every video has at least one playable rendition.
// The result is deterministic and ordered lowest quality first.
func PlanLadder(width, height int) []QualitySpec {
	sourcePixels := width * height
	var ladder []QualitySpec
	for _, spec := range qualityPresets {
		if spec.Width*spec.Height <= sourcePixels {
			ladder = append(ladder, spec)
		}
	}
	if len(ladder) == 0 {
		ladder = append(ladder, qualityPresets[0])
	}
	return ladder
}

// QualityForBandwidth maps a client bandwidth estimate in kbps to the
// highest ladder rung it can sustain. Used as the manifest default-quality
// hint; callers clamp the result to the renditions actually ready.
func QualityForBandwidth(kbps int) string {
	for i := len(qualityPresets) - 1; i >= 0; i-- {
		if kbps >= qualityPresets[i].Bitrate {
			return qualityPresets[i].Quality
		}
	}
	return qualityPresets[0].Quality
}
