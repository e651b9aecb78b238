// Package settings reconciles the server's broadcast settings map against a
// persisted client store, enforcing range/enum/lock constraints declared in
// a schema file, and produces the delta the client must report back.
package settings

// Descriptor is one entry of the settings map the server broadcasts and the
// client persists. Only one of Min/Max/Allowed/Locked combinations is
// meaningful per key, matching the server's declared kind for that key.
//
// Locked is a pointer, like Min/Max, so a server message that explicitly
// unlocks a key (Locked: false) is distinguishable from one that simply
// omits the field — a plain bool's zero value can't tell those apart.
type Descriptor struct {
	Value   any      `json:"value"`
	Default any      `json:"default"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Allowed []string `json:"allowed,omitempty"`
	Locked  *bool    `json:"locked,omitempty"`
}

// IsLocked reports whether this descriptor is locked, treating an absent
// Locked field as unlocked.
func (d Descriptor) IsLocked() bool {
	return d.Locked != nil && *d.Locked
}

// Map is the full settings map as broadcast by the server and reconciled
// against the persisted store.
type Map map[string]Descriptor

// Known settings keys recognised by the core.
const (
	KeyFramerate               = "framerate"
	KeyVideoBitrate            = "video_bitrate"
	KeyAudioBitrate            = "audio_bitrate"
	KeyEncoderRTC              = "encoder_rtc"
	KeyScalingDPI              = "scaling_dpi"
	KeyIsManualResolutionMode  = "is_manual_resolution_mode"
	KeyManualWidth             = "manual_width"
	KeyManualHeight            = "manual_height"
	KeyEnableBinaryClipboard   = "enable_binary_clipboard"
	KeyTurnSwitch              = "turn_switch"
	KeyResizeRemote            = "resize_remote"
	KeyUseCSSScaling           = "use_css_scaling"
	KeyDebug                   = "debug"
	KeyGamepadEnabled          = "gamepad_enabled"
)
