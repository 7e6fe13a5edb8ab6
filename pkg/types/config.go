package types

import "errors"

// Config holds transport selection and parameters for Connector.Attach.
type Config struct {
	// Transport selects how the client reaches the master.
	Transport string `json:"transport" yaml:"transport"`
	// Address is the host:port of a remote master (tcp transport).
	Address string `json:"address" yaml:"address"`
	// DataDir is the master data directory (local transport).
	DataDir string `json:"data_dir" yaml:"data_dir"`
	// ProtocolVersion pins the requested wire version; empty means current.
	ProtocolVersion string `json:"protocol_version" yaml:"protocol_version"`
}

// Supported transport names.
const (
	TransportLocal = "local"
	TransportTCP   = "tcp"
)

// Config validation errors.
var (
	ErrTransportEmpty   = errors.New("transport must not be empty")
	ErrTransportUnknown = errors.New("unknown transport")
	ErrAddressEmpty     = errors.New("address must not be empty for tcp transport")
	ErrDataDirEmpty     = errors.New("data dir must not be empty for local transport")
)

// knownTransports lists the transports that Validate accepts.
var knownTransports = map[string]bool{
	TransportLocal: true,
	TransportTCP:   true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Transport == "" {
		return ErrTransportEmpty
	}
	if !knownTransports[c.Transport] {
		return ErrTransportUnknown
	}
	if c.Transport == TransportTCP && c.Address == "" {
		return ErrAddressEmpty
	}
	if c.Transport == TransportLocal && c.DataDir == "" {
		return ErrDataDirEmpty
	}
	return nil
}
