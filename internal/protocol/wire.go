package protocol

const (
	// DefaultPort is the NT4 server port for unencrypted websocket clients.
	DefaultPort = 5810
	// SubProtocol is the application sub-protocol token offered on connect.
	SubProtocol = "networktables.first.wpi.edu"
	// TimeSyncID is the reserved binary-channel id for clock probes.
	TimeSyncID int64 = -1
)
