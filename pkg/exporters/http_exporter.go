package exporters

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/buildsandbox/sandbox-agent/pkg/accessevent"
)

type HTTPExporterConfig struct {
	// URL is the endpoint to send report batches to.
	URL string `json:"url" mapstructure:"url"`
	// Headers is a map of headers to set on every request.
	Headers map[string]string `json:"headers" mapstructure:"headers"`
	// TimeoutSeconds is the per-request timeout.
	TimeoutSeconds int `json:"timeoutSeconds" mapstructure:"timeoutSeconds"`
	// Method is POST or PUT.
	Method string `json:"method" mapstructure:"method"`
}

var _ Exporter = (*HTTPExporter)(nil)

// HTTPExporter posts report batches as JSON to the orchestrator endpoint.
type HTTPExporter struct {
	config     HTTPExporterConfig
	Host       string `json:"host"`
	httpClient *http.Client
}

// HTTPAccessBatch is the wire format of one forwarded batch. Reports keep
// the dequeue order.
type HTTPAccessBatch struct {
	Kind    string                     `json:"kind"`
	BatchID string                     `json:"batchId"`
	Host    string                     `json:"host"`
	Reports []accessevent.AccessReport `json:"reports"`
}

func (config *HTTPExporterConfig) Validate() error {
	if config.Method == "" {
		config.Method = "POST"
	} else if config.Method != "POST" && config.Method != "PUT" {
		return fmt.Errorf("method must be POST or PUT")
	}
	if config.TimeoutSeconds == 0 {
		config.TimeoutSeconds = 5
	}
	if config.Headers == nil {
		config.Headers = make(map[string]string)
	}
	if config.URL == "" {
		return fmt.Errorf("URL is required")
	}
	return nil
}

func InitHTTPExporter(config HTTPExporterConfig, host string) (*HTTPExporter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &HTTPExporter{
		config: config,
		Host:   host,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
	}, nil
}

func (exporter *HTTPExporter) SendAccessReports(batch []accessevent.AccessReport) error {
	payload := HTTPAccessBatch{
		Kind:    "AccessReportBatch",
		BatchID: uuid.NewString(),
		Host:    exporter.Host,
		Reports: batch,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequest(exporter.config.Method, exporter.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range exporter.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := exporter.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, exporter.config.URL)
	}
	return nil
}
