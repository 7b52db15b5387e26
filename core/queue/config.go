package queue

import (
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds configuration for the RabbitMQ connection.
type Config struct {
	// Host is the broker host.
	Host string `mapstructure:"host" default:"localhost"`
	// Port is the AMQP port.
	Port int `mapstructure:"port" default:"5672"`
	// Username is the broker user.
	Username string `mapstructure:"username" default:""`
	// Password is the broker password.
	Password string `mapstructure:"password" default:""`
	// VHost is the virtual host.
	VHost string `mapstructure:"vhost" default:"/"`
	// Queue is the durable queue the LMS triggers publish to.
	Queue string `mapstructure:"queue" default:"zabbix"`
	// Prefetch limits unacknowledged deliveries. Zero derives it from the worker count.
	Prefetch int `mapstructure:"prefetch" default:"0"`
	// ReconnectDelay is the pause between reconnect attempts.
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" default:"5s"`
}

// URL returns the AMQP connection URL. The default vhost "/" maps to an
// empty path segment.
func (c Config) URL() string {
	u := url.URL{
		Scheme: "amqp",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + strings.TrimPrefix(c.VHost, "/"),
	}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	return u.String()
}

// Redacted returns the connection URL without the password, for logs.
func (c Config) Redacted() string {
	u, err := url.Parse(c.URL())
	if err != nil {
		return c.Host
	}
	return u.Redacted()
}
