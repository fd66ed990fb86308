package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/starford/blackhole/internal/transform"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Store     StoreConfig       `yaml:"store"`
	Transpile TranspileConfig   `yaml:"transpile"`
	Documents DocumentsConfig   `yaml:"documents"`
	Proxy     ProxyConfig       `yaml:"proxy"`
	Catalog   CatalogConfig     `yaml:"catalog"`
	Auth      AuthConfig        `yaml:"auth"`
	Telemetry TelemetryConfig   `yaml:"telemetry"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{
		&c.App, &c.Store, &c.Transpile, &c.Proxy, &c.Catalog, &c.Auth,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
	// StaticDir is served before requests fall through to the proxy.
	StaticDir string `yaml:"static_dir"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig points at the artifact tree.
type StoreConfig struct {
	Path     string `yaml:"path"`
	Encoding string `yaml:"encoding"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Encoding, validation.Required, validation.By(knownEncoding)),
	)
}

func knownEncoding(value any) error {
	label, _ := value.(string)
	if _, err := htmlindex.Get(label); err != nil {
		return fmt.Errorf("unknown encoding %q", label)
	}
	return nil
}

// TranspileConfig controls script transpilation. es5 runs the full lowering
// pipeline; later targets only go through esbuild.
type TranspileConfig struct {
	Target string `yaml:"target"`
}

// Validate validates the transpile configuration.
func (c *TranspileConfig) Validate() error {
	targets := make([]any, 0, len(transform.Targets()))
	for _, t := range transform.Targets() {
		targets = append(targets, t)
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Target, validation.Required, validation.In(targets...)),
	)
}

// DocumentsConfig controls document parsing.
type DocumentsConfig struct {
	// AllowComments accepts JSONC (comments, trailing commas) in documents.
	AllowComments bool `yaml:"allow_comments"`
}

// ProxyConfig describes the fallback upstream. An empty Target disables it.
type ProxyConfig struct {
	Target  string        `yaml:"target"`
	CAFile  string        `yaml:"ca_file"`
	Timeout time.Duration `yaml:"timeout"`
}

// Validate validates the proxy configuration.
func (c *ProxyConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Target, validation.By(upstreamURL)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// Enabled reports whether unmatched requests are forwarded.
func (c *ProxyConfig) Enabled() bool {
	return c.Target != ""
}

// URL returns the parsed target.
func (c *ProxyConfig) URL() (*url.URL, error) {
	return url.Parse(c.Target)
}

func upstreamURL(value any) error {
	raw, _ := value.(string)
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return errors.New("must be an http or https URL")
	}
	if u.Host == "" {
		return errors.New("must include a host")
	}
	return nil
}

// CatalogConfig holds the SQLite artifact catalog configuration.
type CatalogConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// Validate validates the catalog configuration.
func (c *CatalogConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration for the catalog API.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// TelemetryConfig configures OTLP export. An empty endpoint disables it.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
			StaticDir: "./static",
		},
		Store: StoreConfig{
			Path:     "./project",
			Encoding: "utf-8",
		},
		Transpile: TranspileConfig{
			Target: "es5",
		},
		Proxy: ProxyConfig{
			Timeout: 30 * time.Second,
		},
		Catalog: CatalogConfig{
			Path:  "./blackhole.db",
			Watch: true,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "blackhole",
		},
	}
}
