package config

import (
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jpalmerr/httppool"
)

func TestBuildRequests_SingleRequest(t *testing.T) {
	cfg := &Config{
		Requests: []RequestConfig{{
			Name:    "upload",
			URL:     "https://example.com/items",
			Method:  "POST",
			Headers: map[string]string{"X-B": "2", "X-A": "1"},
			Body:    "payload",
			Output:  "/tmp/items.json",
			Timeout: Duration(5 * time.Second),
		}},
	}

	jobs, err := BuildRequests(cfg)
	if err != nil {
		t.Fatalf("BuildRequests() error = %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("len(jobs) = %d, want 1", len(jobs))
	}

	job := jobs[0]
	if job.Name != "upload" {
		t.Errorf("Name = %q", job.Name)
	}
	req := job.Request
	if req.Method != "POST" || req.URL != "https://example.com/items" {
		t.Errorf("Request = %s %s", req.Method, req.URL)
	}
	if string(req.Body) != "payload" {
		t.Errorf("Body = %q", req.Body)
	}
	if req.OutputPath != "/tmp/items.json" {
		t.Errorf("OutputPath = %q", req.OutputPath)
	}
	if req.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v", req.Timeout)
	}
	// headers are sorted by key for a deterministic wire order
	if got := req.Header.Keys(); !reflect.DeepEqual(got, []string{"X-A", "X-B"}) {
		t.Errorf("Header keys = %v", got)
	}
}

func TestBuildRequests_NoHeadersOrBody(t *testing.T) {
	jobs, err := BuildRequests(&Config{Requests: []RequestConfig{{Name: "a", URL: "http://example.com"}}})
	if err != nil {
		t.Fatalf("BuildRequests() error = %v", err)
	}
	if jobs[0].Request.Header != nil || jobs[0].Request.Body != nil {
		t.Errorf("expected nil header and body, got %+v", jobs[0].Request)
	}
}

func TestBuildRequests_Grid(t *testing.T) {
	cfg := &Config{
		Grids: []GridConfig{{
			Name:           "release",
			URLTemplate:    "https://{{.mirror}}.example.com/{{.arch}}",
			OutputTemplate: "out/{{.mirror}}-{{.arch}}",
			Dimensions: map[string][]string{
				"mirror": {"eu", "us"},
				"arch":   {"amd64", "arm64"},
			},
			Method: "HEAD",
		}},
	}

	jobs, err := BuildRequests(cfg)
	if err != nil {
		t.Fatalf("BuildRequests() error = %v", err)
	}

	// dimensions are expanded in sorted key order: arch, then mirror
	want := []struct{ name, url, output string }{
		{"release amd64 eu", "https://eu.example.com/amd64", "out/eu-amd64"},
		{"release amd64 us", "https://us.example.com/amd64", "out/us-amd64"},
		{"release arm64 eu", "https://eu.example.com/arm64", "out/eu-arm64"},
		{"release arm64 us", "https://us.example.com/arm64", "out/us-arm64"},
	}
	if len(jobs) != len(want) {
		t.Fatalf("len(jobs) = %d, want %d", len(jobs), len(want))
	}
	for i, w := range want {
		if jobs[i].Name != w.name || jobs[i].Request.URL != w.url || jobs[i].Request.OutputPath != w.output {
			t.Errorf("jobs[%d] = %q %q %q, want %q %q %q", i,
				jobs[i].Name, jobs[i].Request.URL, jobs[i].Request.OutputPath, w.name, w.url, w.output)
		}
		if jobs[i].Request.Method != "HEAD" {
			t.Errorf("jobs[%d].Method = %q", i, jobs[i].Request.Method)
		}
	}
}

func TestBuildRequests_MixedRequestsAndGrids(t *testing.T) {
	cfg := &Config{
		Requests: []RequestConfig{{Name: "direct", URL: "https://example.com"}},
		Grids: []GridConfig{{
			Name:        "grid",
			URLTemplate: "https://example.com/{{.n}}",
			Dimensions:  map[string][]string{"n": {"1", "2"}},
		}},
	}

	jobs, err := BuildRequests(cfg)
	if err != nil {
		t.Fatalf("BuildRequests() error = %v", err)
	}
	if len(jobs) != 3 || jobs[0].Name != "direct" || jobs[2].Name != "grid 2" {
		t.Errorf("unexpected jobs: %+v", jobs)
	}
}

func TestBuildRequests_GridErrors(t *testing.T) {
	tests := []struct {
		name    string
		grid    GridConfig
		wantErr string
	}{
		{
			name: "missing template key",
			grid: GridConfig{
				Name:        "g",
				URLTemplate: "https://example.com/{{.missing}}",
				Dimensions:  map[string][]string{"n": {"1"}},
			},
			wantErr: "template execution failed",
		},
		{
			name: "expanded url without scheme",
			grid: GridConfig{
				Name:        "g",
				URLTemplate: "{{.host}}/path",
				Dimensions:  map[string][]string{"host": {"example.com"}},
			},
			wantErr: "url must have a scheme",
		},
		{
			name: "missing output key",
			grid: GridConfig{
				Name:           "g",
				URLTemplate:    "https://example.com/{{.n}}",
				OutputTemplate: "{{.other}}",
				Dimensions:     map[string][]string{"n": {"1"}},
			},
			wantErr: "output template execution failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildRequests(&Config{Grids: []GridConfig{tt.grid}})
			if err == nil {
				t.Fatalf("BuildRequests() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want containing %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestPoolOptionsAndServiceConfig(t *testing.T) {
	cfg, err := Parse([]byte("capacity: 7\ntick_interval: 5ms\ntitle: T\noutput_dir: /srv\nrecord_limit: 9"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if got := len(PoolOptions(cfg, slog.Default())); got != 3 {
		t.Errorf("len(PoolOptions) = %d, want 3", got)
	}
	pool, err := httppool.New(PoolOptions(cfg, nil)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if pool.Capacity() != 7 {
		t.Errorf("Capacity() = %d, want 7", pool.Capacity())
	}

	sc := ServiceConfig(cfg)
	if sc.TickInterval != 5*time.Millisecond || sc.Title != "T" || sc.OutputDir != "/srv" || sc.RecordLimit != 9 {
		t.Errorf("ServiceConfig = %+v", sc)
	}
}

func TestCartesianProduct_DeterministicOrder(t *testing.T) {
	dims := map[string][]string{
		"b": {"1", "2"},
		"a": {"x"},
	}

	for i := 0; i < 10; i++ {
		got := cartesianProduct(dims)
		want := []map[string]string{
			{"a": "x", "b": "1"},
			{"a": "x", "b": "2"},
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("cartesianProduct() = %v, want %v", got, want)
		}
	}

	if cartesianProduct(nil) != nil {
		t.Error("cartesianProduct(nil) should be nil")
	}
}
