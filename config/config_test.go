package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_MinimalConfig(t *testing.T) {
	cfg, err := Parse([]byte(`{}`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// check defaults applied
	if cfg.Capacity != 5 {
		t.Errorf("Capacity = %d, want 5", cfg.Capacity)
	}
	if cfg.TickInterval.Duration() != 50*time.Millisecond {
		t.Errorf("TickInterval = %v, want 50ms", cfg.TickInterval.Duration())
	}
	if cfg.DialTimeout.Duration() != 10*time.Second {
		t.Errorf("DialTimeout = %v, want 10s", cfg.DialTimeout.Duration())
	}
	if cfg.Listen != ":8080" {
		t.Errorf("Listen = %q, want :8080", cfg.Listen)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Errorf("logging = %s/%s, want info/json", cfg.LogLevel, cfg.LogFormat)
	}
	if len(cfg.Requests) != 0 {
		t.Errorf("len(Requests) = %d, want 0", len(cfg.Requests))
	}
}

func TestParse_FullConfig(t *testing.T) {
	yaml := `
title: Mirror check
capacity: 8
tick_interval: 10ms
dial_timeout: 3s
dial_rate: 20
log_level: debug
log_format: text
listen: 127.0.0.1:9090
output_dir: /tmp/out
record_limit: 50

requests:
  - name: upload
    url: https://api.example.com/items
    method: post
    timeout: 5s
    headers:
      Authorization: Bearer token123
      Content-Type: application/json
    body: '{"a":1}'
    output: /tmp/out/upload.json
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Title != "Mirror check" {
		t.Errorf("Title = %q, want %q", cfg.Title, "Mirror check")
	}
	if cfg.Capacity != 8 {
		t.Errorf("Capacity = %d, want 8", cfg.Capacity)
	}
	if cfg.TickInterval.Duration() != 10*time.Millisecond {
		t.Errorf("TickInterval = %v, want 10ms", cfg.TickInterval.Duration())
	}
	if cfg.DialTimeout.Duration() != 3*time.Second {
		t.Errorf("DialTimeout = %v, want 3s", cfg.DialTimeout.Duration())
	}
	if cfg.DialRate != 20 {
		t.Errorf("DialRate = %g, want 20", cfg.DialRate)
	}
	if cfg.Listen != "127.0.0.1:9090" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.OutputDir != "/tmp/out" || cfg.RecordLimit != 50 {
		t.Errorf("OutputDir/RecordLimit = %q/%d", cfg.OutputDir, cfg.RecordLimit)
	}

	rc := cfg.Requests[0]
	if rc.Method != "POST" {
		t.Errorf("Method = %q, want POST (upper-cased)", rc.Method)
	}
	if rc.Timeout.Duration() != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", rc.Timeout.Duration())
	}
	if rc.Headers["Authorization"] != "Bearer token123" {
		t.Errorf("Headers[Authorization] = %q", rc.Headers["Authorization"])
	}
	if rc.Body != `{"a":1}` {
		t.Errorf("Body = %q", rc.Body)
	}
	if rc.Output != "/tmp/out/upload.json" {
		t.Errorf("Output = %q", rc.Output)
	}
}

func TestParse_GridConfig(t *testing.T) {
	yaml := `
grids:
  - name: release
    url_template: "https://{{.mirror}}.example.com/{{.arch}}.tar.gz"
    output_template: "{{.mirror}}-{{.arch}}.tar.gz"
    dimensions:
      mirror: [eu, us]
      arch: [amd64, arm64]
    method: HEAD
    timeout: 2s
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if len(cfg.Grids) != 1 {
		t.Fatalf("len(Grids) = %d, want 1", len(cfg.Grids))
	}
	g := cfg.Grids[0]
	if len(g.Dimensions["mirror"]) != 2 || len(g.Dimensions["arch"]) != 2 {
		t.Errorf("Dimensions = %v", g.Dimensions)
	}
	if g.OutputTemplate != "{{.mirror}}-{{.arch}}.tar.gz" {
		t.Errorf("OutputTemplate = %q", g.OutputTemplate)
	}
}

func TestParse_EnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_HOST", "files.example.com")
	t.Setenv("TEST_TOKEN", "secret")

	yaml := `
requests:
  - name: env
    url: https://${TEST_HOST}/a
    headers:
      Authorization: Bearer ${TEST_TOKEN}
grids:
  - name: grid
    url_template: "https://${TEST_HOST}/{{.n}}"
    dimensions:
      n: ["1"]
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Requests[0].URL != "https://files.example.com/a" {
		t.Errorf("URL = %q", cfg.Requests[0].URL)
	}
	if cfg.Requests[0].Headers["Authorization"] != "Bearer secret" {
		t.Errorf("Authorization = %q", cfg.Requests[0].Headers["Authorization"])
	}
	if cfg.Grids[0].URLTemplate != "https://files.example.com/{{.n}}" {
		t.Errorf("URLTemplate = %q", cfg.Grids[0].URLTemplate)
	}
}

func TestParse_EnvVarMissing(t *testing.T) {
	yaml := `
requests:
  - name: env
    url: https://${HTTPPOOL_SURELY_UNSET}/a
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("Parse() expected error for missing env var")
	}
	if !strings.Contains(err.Error(), "HTTPPOOL_SURELY_UNSET") {
		t.Errorf("error = %v, want mention of variable", err)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "negative capacity",
			yaml:    "capacity: -1",
			wantErr: "capacity must be at least 1",
		},
		{
			name:    "tick interval too small",
			yaml:    "tick_interval: 1us",
			wantErr: "tick_interval must be at least",
		},
		{
			name:    "negative dial timeout",
			yaml:    "dial_timeout: -1s",
			wantErr: "dial_timeout cannot be negative",
		},
		{
			name:    "negative dial rate",
			yaml:    "dial_rate: -2",
			wantErr: "dial_rate cannot be negative",
		},
		{
			name:    "bad log level",
			yaml:    "log_level: verbose",
			wantErr: "log_level must be",
		},
		{
			name:    "bad log format",
			yaml:    "log_format: xml",
			wantErr: "log_format must be",
		},
		{
			name: "missing name",
			yaml: `
requests:
  - url: https://example.com
`,
			wantErr: "requests[0]: name is required",
		},
		{
			name: "duplicate name",
			yaml: `
requests:
  - name: a
    url: https://example.com
  - name: a
    url: https://example.org
`,
			wantErr: "requests[1] (a): duplicate name",
		},
		{
			name: "missing url",
			yaml: `
requests:
  - name: a
`,
			wantErr: "requests[0] (a): url is required",
		},
		{
			name: "missing scheme",
			yaml: `
requests:
  - name: a
    url: example.com/path
`,
			wantErr: "url must have a scheme",
		},
		{
			name: "unsupported scheme",
			yaml: `
requests:
  - name: a
    url: ftp://example.com
`,
			wantErr: "url scheme must be http or https",
		},
		{
			name: "bad method",
			yaml: `
requests:
  - name: a
    url: https://example.com
    method: TRACE
`,
			wantErr: "method must be GET, HEAD, POST, PUT, or DELETE",
		},
		{
			name: "negative timeout",
			yaml: `
requests:
  - name: a
    url: https://example.com
    timeout: -5s
`,
			wantErr: "timeout cannot be negative",
		},
		{
			name: "grid without dimensions",
			yaml: `
grids:
  - name: g
    url_template: https://example.com/{{.x}}
`,
			wantErr: "at least one dimension is required",
		},
		{
			name: "grid duplicate value",
			yaml: `
grids:
  - name: g
    url_template: https://example.com/{{.x}}
    dimensions:
      x: [a, a]
`,
			wantErr: `dimension "x" has duplicate value "a"`,
		},
		{
			name: "grid invalid template",
			yaml: `
grids:
  - name: g
    url_template: https://example.com/{{.x
    dimensions:
      x: [a]
`,
			wantErr: "invalid url_template",
		},
		{
			name: "grid invalid output template",
			yaml: `
grids:
  - name: g
    url_template: https://example.com/{{.x}}
    output_template: "{{"
    dimensions:
      x: [a]
`,
			wantErr: "invalid output_template",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("Parse() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want containing %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("requests: [unclosed"))
	if err == nil {
		t.Fatal("Parse() expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "failed to parse YAML") {
		t.Errorf("error = %v", err)
	}
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"tick_interval: 250ms", 250 * time.Millisecond, false},
		{"tick_interval: 1m", time.Minute, false},
		{"tick_interval: soon", 0, true},
		{"tick_interval: [1]", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatal("Parse() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if cfg.TickInterval.Duration() != tt.want {
				t.Errorf("TickInterval = %v, want %v", cfg.TickInterval.Duration(), tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "httppool.yaml")
	content := "capacity: 3\nrequests:\n  - name: a\n    url: http://localhost:1/\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Capacity != 3 || len(cfg.Requests) != 1 {
		t.Errorf("cfg = %+v", cfg)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "value")
	t.Setenv("EMPTY_VAR", "") // set but empty

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"no vars", "plain text", "plain text", false},
		{"simple var", "${TEST_VAR}", "value", false},
		{"var in text", "prefix ${TEST_VAR} suffix", "prefix value suffix", false},
		{"multiple vars", "${TEST_VAR}-${TEST_VAR}", "value-value", false},
		{"with default (var set)", "${TEST_VAR:-default}", "value", false},
		{"with default (var unset)", "${UNSET:-default}", "default", false},
		{"missing required", "${MISSING}", "", true},
		{"empty default (var unset)", "${UNSET:-}", "", false},
		{"set but empty var", "${EMPTY_VAR}", "", false},
		{"set but empty with default", "${EMPTY_VAR:-fallback}", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expandEnvVars(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expandEnvVars() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("expandEnvVars() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("expandEnvVars() = %q, want %q", got, tt.want)
			}
		})
	}
}
