// Package config provides YAML configuration parsing for the httppool CLI.
//
// Example configuration:
//
//	capacity: 5
//	tick_interval: 50ms
//	listen: ":8080"
//
//	requests:
//	  - name: homepage
//	    url: https://example.com/
//	    timeout: 30s
//
//	grids:
//	  - name: release
//	    url_template: "https://{{.mirror}}.example.com/{{.arch}}.tar.gz"
//	    output_template: "release-{{.mirror}}-{{.arch}}.tar.gz"
//	    dimensions:
//	      mirror: [eu, us]
//	      arch: [amd64, arm64]
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultCapacity     = 5
	defaultTickInterval = 50 * time.Millisecond
	defaultDialTimeout  = 10 * time.Second
	defaultListen       = ":8080"
	defaultLogLevel     = "info"
	defaultLogFormat    = "json"

	// minTickInterval keeps the driver from spinning a core.
	minTickInterval = time.Millisecond
)

var validMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true, "DELETE": true,
}

// Config is the root configuration structure for the CLI.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Title is the monitor page title. Defaults to "httppool" at render time.
	Title string `yaml:"title"`

	// Capacity is the number of pool slots. Defaults to 5.
	Capacity int `yaml:"capacity"`

	// TickInterval is the driver period. Defaults to 50ms.
	TickInterval Duration `yaml:"tick_interval"`

	// DialTimeout bounds connect plus TLS handshake. Defaults to 10s.
	DialTimeout Duration `yaml:"dial_timeout"`

	// DialRate limits new connections per second. 0 means unlimited.
	DialRate float64 `yaml:"dial_rate"`

	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level"`

	// LogFormat is json or text. Defaults to json.
	LogFormat string `yaml:"log_format"`

	// Listen is the API server address for serve. Defaults to ":8080".
	Listen string `yaml:"listen"`

	// OutputDir is where API submissions may write bodies. Empty disables
	// output files for submissions.
	OutputDir string `yaml:"output_dir"`

	// RecordLimit caps the stored request records. 0 keeps the default.
	RecordLimit int `yaml:"record_limit"`

	// Requests are run by fetch, and submitted at startup by serve.
	Requests []RequestConfig `yaml:"requests"`

	// Grids define requests that expand via cartesian product.
	Grids []GridConfig `yaml:"grids"`
}

// RequestConfig defines a single request.
type RequestConfig struct {
	// Name labels the request in logs and records.
	Name string `yaml:"name"`

	// URL is the absolute http or https URL.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	URL string `yaml:"url"`

	// Method is the HTTP method (GET, HEAD, POST, PUT, DELETE). Defaults to GET.
	Method string `yaml:"method"`

	// Headers are sent with the request. Values support environment
	// variable substitution.
	Headers map[string]string `yaml:"headers"`

	// Body is sent after the header.
	Body string `yaml:"body"`

	// Output is a file path for the body. Empty keeps the body in memory.
	Output string `yaml:"output"`

	// Timeout bounds the whole request. Zero means no limit.
	Timeout Duration `yaml:"timeout"`
}

// GridConfig defines requests that expand via cartesian product.
//
// For example, with dimensions {mirror: [eu, us], arch: [amd64, arm64]},
// the grid expands to 4 requests: eu/amd64, eu/arm64, us/amd64, us/arm64.
type GridConfig struct {
	// Name is the base name for generated requests.
	Name string `yaml:"name"`

	// URLTemplate is a Go template for generating request URLs.
	// Dimension keys are available as template variables: {{.mirror}}
	// Supports environment variable substitution in the template.
	URLTemplate string `yaml:"url_template"`

	// OutputTemplate is an optional Go template for each request's output
	// file. Empty keeps bodies in memory.
	OutputTemplate string `yaml:"output_template"`

	// Dimensions maps dimension names to their possible values.
	Dimensions map[string][]string `yaml:"dimensions"`

	// Method is the HTTP method for all generated requests.
	Method string `yaml:"method"`

	// Headers are sent with all generated requests.
	Headers map[string]string `yaml:"headers"`

	// Timeout bounds each generated request.
	Timeout Duration `yaml:"timeout"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in URL, URLTemplate, and Header values.
// Defaults are applied for every pool, driver and logging setting.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Capacity == 0 {
		c.Capacity = defaultCapacity
	}
	if c.TickInterval == 0 {
		c.TickInterval = Duration(defaultTickInterval)
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = Duration(defaultDialTimeout)
	}
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = defaultLogFormat
	}
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.Capacity < 1 {
		return fmt.Errorf("capacity must be at least 1, got %d", c.Capacity)
	}
	if c.TickInterval.Duration() < minTickInterval {
		return fmt.Errorf("tick_interval must be at least %s, got %s", minTickInterval, c.TickInterval.Duration())
	}
	if c.DialTimeout.Duration() < 0 {
		return fmt.Errorf("dial_timeout cannot be negative, got %s", c.DialTimeout.Duration())
	}
	if c.DialRate < 0 {
		return fmt.Errorf("dial_rate cannot be negative, got %g", c.DialRate)
	}
	if c.RecordLimit < 0 {
		return fmt.Errorf("record_limit cannot be negative, got %d", c.RecordLimit)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("log_format must be json or text, got %q", c.LogFormat)
	}

	seen := make(map[string]bool, len(c.Requests))
	for i := range c.Requests {
		rc := &c.Requests[i]

		if rc.Name == "" {
			return fmt.Errorf("requests[%d]: name is required", i)
		}
		if seen[rc.Name] {
			return fmt.Errorf("requests[%d] (%s): duplicate name", i, rc.Name)
		}
		seen[rc.Name] = true

		ctx := fmt.Sprintf("requests[%d] (%s)", i, rc.Name)

		if rc.URL == "" {
			return fmt.Errorf("%s: url is required", ctx)
		}
		expanded, err := expandEnvVars(rc.URL)
		if err != nil {
			return fmt.Errorf("%s: url: %w", ctx, err)
		}
		rc.URL = expanded
		if err := validateURL(rc.URL); err != nil {
			return fmt.Errorf("%s: %w", ctx, err)
		}

		if err := expandHeaders(rc.Headers, ctx); err != nil {
			return err
		}
		if err := validateMethod(&rc.Method, ctx); err != nil {
			return err
		}
		if rc.Timeout.Duration() < 0 {
			return fmt.Errorf("%s: timeout cannot be negative, got %s", ctx, rc.Timeout.Duration())
		}
	}

	for i := range c.Grids {
		g := &c.Grids[i]

		if g.Name == "" {
			return fmt.Errorf("grids[%d]: name is required", i)
		}
		ctx := fmt.Sprintf("grids[%d] (%s)", i, g.Name)

		if g.URLTemplate == "" {
			return fmt.Errorf("%s: url_template is required", ctx)
		}
		expanded, err := expandEnvVars(g.URLTemplate)
		if err != nil {
			return fmt.Errorf("%s: url_template: %w", ctx, err)
		}
		g.URLTemplate = expanded

		// fail fast before requests are built from an invalid template
		if _, err := template.New("").Parse(g.URLTemplate); err != nil {
			return fmt.Errorf("%s: invalid url_template: %w", ctx, err)
		}
		if g.OutputTemplate != "" {
			if _, err := template.New("").Parse(g.OutputTemplate); err != nil {
				return fmt.Errorf("%s: invalid output_template: %w", ctx, err)
			}
		}

		if len(g.Dimensions) == 0 {
			return fmt.Errorf("%s: at least one dimension is required", ctx)
		}
		for dimName, dimValues := range g.Dimensions {
			if len(dimValues) == 0 {
				return fmt.Errorf("%s: dimension %q has no values", ctx, dimName)
			}
			values := make(map[string]struct{}, len(dimValues))
			for _, v := range dimValues {
				if _, exists := values[v]; exists {
					return fmt.Errorf("%s: dimension %q has duplicate value %q", ctx, dimName, v)
				}
				values[v] = struct{}{}
			}
		}

		if err := expandHeaders(g.Headers, ctx); err != nil {
			return err
		}
		if err := validateMethod(&g.Method, ctx); err != nil {
			return err
		}
		if g.Timeout.Duration() < 0 {
			return fmt.Errorf("%s: timeout cannot be negative, got %s", ctx, g.Timeout.Duration())
		}
	}

	return nil
}

func validateURL(raw string) error {
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsedURL.Scheme == "" {
		return errors.New("url must have a scheme (http:// or https://)")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return errors.New("url must have a host")
	}
	return nil
}

// validateMethod upper-cases *method in place and checks it.
func validateMethod(method *string, ctx string) error {
	if *method == "" {
		return nil
	}
	*method = strings.ToUpper(*method)
	if !validMethods[*method] {
		return fmt.Errorf("%s: method must be GET, HEAD, POST, PUT, or DELETE", ctx)
	}
	return nil
}

func expandHeaders(headers map[string]string, ctx string) error {
	for k, v := range headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("%s: headers[%s]: %w", ctx, k, err)
		}
		headers[k] = expanded
	}
	return nil
}
