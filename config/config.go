// Package config loads process settings from a YAML file and the environment.
package config

import (
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/juju/errors"

	"user-rpc/userservice"
)

type Config struct {
	Env      string `yaml:"env" env:"USER_RPC_ENV" env-default:"development"`
	Server   `yaml:"server"`
	Client   `yaml:"client"`
	Registry `yaml:"registry"`
	Metrics  `yaml:"metrics"`
}

type Server struct {
	Listen          string        `yaml:"listen" env:"SERVER_LISTEN" env-default:"127.0.0.1:50051"`
	Advertise       string        `yaml:"advertise" env:"SERVER_ADVERTISE" env-default:""`
	Service         string        `yaml:"service" env:"SERVER_SERVICE" env-default:"org.apache.dubbo.samples.serialization.automatic"`
	RequestTimeout  time.Duration `yaml:"request_timeout" env:"SERVER_REQUEST_TIMEOUT" env-default:"5s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"5s"`
	RateLimit       float64       `yaml:"rate_limit" env:"SERVER_RATE_LIMIT" env-default:"0"`
	RateBurst       int           `yaml:"rate_burst" env:"SERVER_RATE_BURST" env-default:"100"`
	Gops            bool          `yaml:"gops" env:"SERVER_GOPS" env-default:"false"`
}

type Client struct {
	URL         string        `yaml:"url" env:"CLIENT_URL" env-default:"tri://127.0.0.1:50051/org.apache.dubbo.samples.serialization.automatic"`
	Method      string        `yaml:"method" env:"CLIENT_METHOD" env-default:"unary"`
	Codec       string        `yaml:"codec" env:"CLIENT_CODEC" env-default:"json"`
	Balancer    string        `yaml:"balancer" env:"CLIENT_BALANCER" env-default:"round_robin"`
	PoolSize    int           `yaml:"pool_size" env:"CLIENT_POOL_SIZE" env-default:"4"`
	CallTimeout time.Duration `yaml:"call_timeout" env:"CLIENT_CALL_TIMEOUT" env-default:"10s"`
	Retries     int           `yaml:"retries" env:"CLIENT_RETRIES" env-default:"0"`
	Heartbeat   time.Duration `yaml:"heartbeat" env:"CLIENT_HEARTBEAT" env-default:"30s"`
	// Request sent by the client command
	Name string `yaml:"name" env:"CLIENT_NAME" env-default:"dubbo-python"`
	Age  int    `yaml:"age" env:"CLIENT_AGE" env-default:"18"`
}

// Registry selects etcd discovery. With no endpoints, services are reached
// directly through their URL.
type Registry struct {
	Endpoints   []string      `yaml:"endpoints" env:"REGISTRY_ENDPOINTS" env-separator:"," env-default:""`
	DialTimeout time.Duration `yaml:"dial_timeout" env:"REGISTRY_DIAL_TIMEOUT" env-default:"5s"`
	TTL         int64         `yaml:"ttl" env:"REGISTRY_TTL" env-default:"10"`
}

type Metrics struct {
	Addr string `yaml:"addr" env:"METRICS_ADDR" env-default:""`
}

// Load reads path, if given, and then the environment. An empty path falls
// back to $CONFIG_PATH; when both are empty only the environment is read.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	var cfg Config
	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, errors.Annotate(err, "reading environment")
		}
	} else if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, errors.Annotatef(err, "reading config %s", path)
	}
	cfg.Registry.Endpoints = compact(cfg.Registry.Endpoints)
	return &cfg, nil
}

func compact(items []string) []string {
	var out []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Reference is a parsed service URL such as
// "tri://127.0.0.1:50051/org.apache.dubbo.samples.serialization.automatic".
type Reference struct {
	Scheme  string
	Addr    string
	Service string
}

func (r Reference) String() string {
	return r.Scheme + "://" + r.Addr + "/" + r.Service
}

// ParseServiceURL parses a tri:// or tcp:// service reference. A missing
// service path means the default list-users service.
func ParseServiceURL(raw string) (Reference, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Reference{}, errors.NotValidf("service url %q: %v", raw, err)
	}
	switch u.Scheme {
	case "tri", "tcp":
	default:
		return Reference{}, errors.NotSupportedf("scheme %q in %q", u.Scheme, raw)
	}
	if _, port, err := net.SplitHostPort(u.Host); err != nil || port == "" {
		return Reference{}, errors.NotValidf("address %q in %q", u.Host, raw)
	}
	service := strings.Trim(u.Path, "/")
	if service == "" {
		service = userservice.DefaultServiceName
	}
	return Reference{Scheme: u.Scheme, Addr: u.Host, Service: service}, nil
}
