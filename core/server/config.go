package server

// Config holds configuration for the status HTTP server.
type Config struct {
	// Enabled starts the HTTP server alongside the sync service.
	Enabled bool `mapstructure:"enabled" default:"true"`
	// Port is the port where the server will listen.
	Port string `mapstructure:"port" default:"8080"`
	// ApiKey protects the status API when set. /health and /metrics stay public.
	ApiKey string `mapstructure:"api_key" default:""`
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return ":" + c.Port
}
