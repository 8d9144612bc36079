package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/drblury/apibridge/internal/runtime/config"
)

// ProtocolConfig is the raw "config" object of a protocol section.
type ProtocolConfig map[string]any

// AMQPConfig is the typed view of an AMQP section config.
type AMQPConfig struct {
	Address     string
	Port        string
	Username    string
	Password    string
	Exchange    string
	Queue       string
	VirtualHost string
	Timeout     time.Duration
}

// HTTPConfig is the typed view of an HTTP section config.
type HTTPConfig struct {
	Address  string
	Port     string
	Auth     bool
	SSL      bool
	Method   string
	Endpoint string
	Username string
	Password string
	Timeout  time.Duration
	// Format is "json" for JSON bodies; anything else means form encoding.
	Format string
}

// AMQP decodes the config as an AMQP section. The legacy key "quenue" is
// accepted alongside "queue".
func (c ProtocolConfig) AMQP() AMQPConfig {
	queue := c.str("queue")
	if queue == "" {
		queue = c.str("quenue")
	}
	return AMQPConfig{
		Address:     c.str("address"),
		Port:        c.str("port"),
		Username:    c.str("username"),
		Password:    c.str("password"),
		Exchange:    c.str("exchange"),
		Queue:       queue,
		VirtualHost: c.str("virtualhost"),
		Timeout:     c.millis("timeout"),
	}
}

// HTTP decodes the config as an HTTP section. "connstring" is accepted as an
// alias of "endpoint".
func (c ProtocolConfig) HTTP() HTTPConfig {
	endpoint := c.str("endpoint")
	if endpoint == "" {
		endpoint = c.str("connstring")
	}
	method := strings.ToUpper(c.str("type"))
	if method == "" {
		method = "POST"
	}
	return HTTPConfig{
		Address:  c.str("address"),
		Port:     c.str("port"),
		Auth:     c.boolean("auth"),
		SSL:      c.boolean("ssl"),
		Method:   method,
		Endpoint: endpoint,
		Username: c.str("username"),
		Password: c.str("password"),
		Timeout:  c.millis("timeout"),
		Format:   strings.ToLower(c.str("format")),
	}
}

// RoutingKey wraps the queue name as #queue#.
func (a AMQPConfig) RoutingKey() string {
	return RoutingKey(a.Queue)
}

// Endpoint converts the connection part into a broker endpoint.
func (a AMQPConfig) Endpoint() config.BrokerEndpoint {
	return config.BrokerEndpoint{
		Address:     a.Address,
		Port:        a.Port,
		Username:    a.Username,
		Password:    a.Password,
		VirtualHost: a.VirtualHost,
	}
}

// RoutingKey wraps a queue name as #queue#.
func RoutingKey(queue string) string {
	return "#" + queue + "#"
}

// URL builds scheme://address:port{endpoint}{method}.
func (h HTTPConfig) URL(method string) string {
	scheme := "http"
	if h.SSL {
		scheme = "https"
	}
	host := h.Address
	if h.Port != "" {
		host += ":" + h.Port
	}
	return scheme + "://" + host + h.Endpoint + method
}

// JSONBody reports whether request bodies are JSON encoded.
func (h HTTPConfig) JSONBody() bool {
	return h.Format == "json"
}

func (c ProtocolConfig) str(key string) string {
	switch v := c[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func (c ProtocolConfig) boolean(key string) bool {
	switch v := c[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	case json.Number:
		n, _ := v.Int64()
		return n != 0
	default:
		return false
	}
}

func (c ProtocolConfig) millis(key string) time.Duration {
	raw := c.str(key)
	if raw == "" {
		return 0
	}
	ms, err := strconv.ParseFloat(raw, 64)
	if err != nil || ms < 0 {
		return 0
	}
	return time.Duration(ms * float64(time.Millisecond))
}
