package config

// ServerConfig groups the HTTP/WebSocket control-plane settings.
type ServerConfig struct {
	// ListenAddr is the host:port the daemon binds.
	ListenAddr string `yaml:"listen_addr"`

	// AuthToken enables bearer authentication when non-empty. Usually set
	// via {{.LOOM_AUTH_TOKEN}} so the token never lives in the file.
	AuthToken string `yaml:"auth_token"`

	// AllowedWSOrigins lists additional WebSocket origin patterns accepted
	// besides the daemon's own host.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr: "127.0.0.1:8787",
	}
}
