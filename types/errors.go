package types

import "fmt"

// ConnectionError indicates a transport-level failure: refusal, auth
// failure or timeout while reaching the device.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError indicates an unexpected or unparseable reply from a device
// that was otherwise reachable.
type ProtocolError struct {
	Op     string
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Detail)
}

// ConfigError indicates the device record cannot be polled at all, e.g.
// neither protocol is enabled or the vendor is unknown.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return e.Reason }
