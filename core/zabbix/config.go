package zabbix

import "time"

// Config holds configuration for the Zabbix JSON-RPC API.
type Config struct {
	// URL is the API endpoint, usually ending in api_jsonrpc.php.
	URL string `mapstructure:"url" default:"http://localhost/api_jsonrpc.php"`
	// Username and Password are used with user.login when no APIToken is set.
	Username string `mapstructure:"username" default:"Admin"`
	Password string `mapstructure:"password" default:""`
	// APIToken authenticates without a login session.
	APIToken string `mapstructure:"api_token" default:""`
	// HostGroupID is the group new hosts are placed in.
	HostGroupID string `mapstructure:"host_group_id" default:""`
	// TemplateIDs are linked to every created host (comma separated in env).
	TemplateIDs []string `mapstructure:"template_ids" default:""`
	// HostPrefix forms the technical host name together with the device ID.
	HostPrefix string `mapstructure:"host_prefix" default:"device-"`
	// InterfacePort is the agent port of created interfaces.
	InterfacePort string `mapstructure:"interface_port" default:"10050"`
	// TimeoutSeconds bounds a single API request.
	TimeoutSeconds int `mapstructure:"timeout_seconds" default:"10"`
}

// Timeout returns the per-request timeout.
func (c Config) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// HasCredentials reports whether the config can authenticate.
func (c Config) HasCredentials() bool {
	return c.APIToken != "" || (c.Username != "" && c.Password != "")
}
