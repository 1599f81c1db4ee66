package model

// DeviceKey identifies one physical connection: a serial port name or a
// host:port network address. A key is unique among live connections and may
// be reused once the previous connection under it has been dropped.
type DeviceKey string

// ConnectionStatus is the lifecycle state of a connected device.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota // Zero value; terminal for a key
	StatusConnecting                           // Transport open, handshake not started
	StatusConfiguring                          // Handshake sent, waiting for ConfigComplete
	StatusConfigured                           // ConfigComplete received
	StatusConnected                            // Configuration success observed and published
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConfiguring:
		return "configuring"
	case StatusConfigured:
		return "configured"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ConfigurationStatus is emitted once per connection attempt, either when the
// device finishes configuring or when the configuration timeout expires.
type ConfigurationStatus struct {
	DeviceKey  DeviceKey `json:"device_key"`
	AttemptID  string    `json:"attempt_id,omitempty"`
	Successful bool      `json:"successful"`
	Message    *string   `json:"message,omitempty"`
}

// NotificationConfig describes an OS-level notification requested by a
// packet, e.g. an incoming text message.
type NotificationConfig struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}
