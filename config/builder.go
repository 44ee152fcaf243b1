package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"sort"
	"text/template"

	"github.com/jpalmerr/httppool"
)

// Job is a named request built from configuration.
type Job struct {
	Name    string
	Request httppool.Request
}

// BuildRequests converts parsed configuration into pool requests.
//
// It processes both direct requests and grids, returning a combined slice.
// Grid dimensions are expanded via cartesian product.
func BuildRequests(cfg *Config) ([]Job, error) {
	var jobs []Job

	for _, rc := range cfg.Requests {
		jobs = append(jobs, buildJob(rc))
	}

	for _, gc := range cfg.Grids {
		gridJobs, err := buildGridJobs(gc)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, gridJobs...)
	}

	return jobs, nil
}

// PoolOptions returns the pool options described by cfg.
func PoolOptions(cfg *Config, logger *slog.Logger) []httppool.Option {
	opts := []httppool.Option{
		httppool.WithCapacity(cfg.Capacity),
		httppool.WithConnectionFactory(httppool.NetConnectionFactory(httppool.DialOptions{
			DialTimeout: cfg.DialTimeout.Duration(),
			DialRate:    cfg.DialRate,
		})),
	}
	if logger != nil {
		opts = append(opts, httppool.WithLogger(logger))
	}
	return opts
}

// ServiceConfig returns the service settings described by cfg.
func ServiceConfig(cfg *Config) httppool.ServiceConfig {
	return httppool.ServiceConfig{
		TickInterval: cfg.TickInterval.Duration(),
		RecordLimit:  cfg.RecordLimit,
		OutputDir:    cfg.OutputDir,
		Title:        cfg.Title,
	}
}

// buildJob converts a single RequestConfig to a Job.
func buildJob(rc RequestConfig) Job {
	req := httppool.Request{
		Method:     rc.Method,
		URL:        rc.URL,
		OutputPath: rc.Output,
		Timeout:    rc.Timeout.Duration(),
	}
	if rc.Body != "" {
		req.Body = []byte(rc.Body)
	}
	if len(rc.Headers) > 0 {
		req.Header = httppool.HeaderFromMap(rc.Headers)
	}
	return Job{Name: rc.Name, Request: req}
}

// buildGridJobs expands a GridConfig into multiple jobs via cartesian product.
func buildGridJobs(gc GridConfig) ([]Job, error) {
	// use missingkey=error to fail fast on missing template variables
	urlTmpl, err := template.New("url").Option("missingkey=error").Parse(gc.URLTemplate)
	if err != nil {
		return nil, err
	}
	var outTmpl *template.Template
	if gc.OutputTemplate != "" {
		outTmpl, err = template.New("output").Option("missingkey=error").Parse(gc.OutputTemplate)
		if err != nil {
			return nil, err
		}
	}

	var jobs []Job
	for _, combo := range cartesianProduct(gc.Dimensions) {
		url, err := execute(urlTmpl, combo)
		if err != nil {
			return nil, fmt.Errorf("grid (%s) with dimensions %v: template execution failed: %w", gc.Name, combo, err)
		}
		if err := validateURL(url); err != nil {
			return nil, fmt.Errorf("grid (%s) with dimensions %v: %w", gc.Name, combo, err)
		}

		var output string
		if outTmpl != nil {
			if output, err = execute(outTmpl, combo); err != nil {
				return nil, fmt.Errorf("grid (%s) with dimensions %v: output template execution failed: %w", gc.Name, combo, err)
			}
		}

		jobs = append(jobs, buildJob(RequestConfig{
			Name:    buildGridName(gc.Name, combo),
			URL:     url,
			Method:  gc.Method,
			Headers: gc.Headers,
			Output:  output,
			Timeout: gc.Timeout,
		}))
	}

	return jobs, nil
}

func execute(tmpl *template.Template, data map[string]string) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// buildGridName creates a display name for a grid request.
func buildGridName(baseName string, combo map[string]string) string {
	keys := make([]string, 0, len(combo))
	for k := range combo {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	name := baseName
	for _, k := range keys {
		name += " " + combo[k]
	}
	return name
}

// cartesianProduct generates all combinations of dimension values.
func cartesianProduct(dimensions map[string][]string) []map[string]string {
	if len(dimensions) == 0 {
		return nil
	}

	// sort dimension keys for deterministic ordering
	keys := make([]string, 0, len(dimensions))
	for k := range dimensions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := []map[string]string{{}}
	for _, key := range keys {
		var next []map[string]string
		for _, combo := range result {
			for _, val := range dimensions[key] {
				extended := make(map[string]string, len(combo)+1)
				for k, v := range combo {
					extended[k] = v
				}
				extended[key] = val
				next = append(next, extended)
			}
		}
		result = next
	}

	return result
}
