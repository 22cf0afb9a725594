package call

// DeviceSource captures local camera and microphone.
type DeviceSource struct {
	VideoBitRate int
	MaxWidth     int
	MaxHeight    int
}

// NewDeviceSource returns a source capturing VP8 video up to 640x480 at
// 1.5 Mbps plus Opus audio.
func NewDeviceSource() *DeviceSource {
	return &DeviceSource{
		VideoBitRate: 1_500_000,
		MaxWidth:     640,
		MaxHeight:    480,
	}
}
