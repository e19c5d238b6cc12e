// pkg/core/device.go
package core

// DeviceConfig is the server-side device configuration pushed with
// update_config. Sensitivity is on the server scale, 0 to 1.
type DeviceConfig struct {
	FallDetection FallDetectionConfig `json:"fall_detection"`
	Radar         RadarConfig         `json:"radar"`
	Server        ServerConfig        `json:"server"`
}

// FallDetectionConfig controls the sensor's fall classifier.
type FallDetectionConfig struct {
	Enabled     bool    `json:"enabled"`
	Sensitivity float64 `json:"sensitivity"`
}

// RadarConfig controls the sensor frame cadence.
type RadarConfig struct {
	FrameTime int `json:"frame_time"` // milliseconds
}

// ServerConfig is the endpoint the client talks to.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}
