package exporters

import (
	"os"

	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"go.uber.org/multierr"

	"github.com/buildsandbox/sandbox-agent/pkg/accessevent"
)

type ExportersConfig struct {
	StdoutExporter     *bool               `mapstructure:"stdoutExporter"`
	HTTPExporterConfig *HTTPExporterConfig `mapstructure:"httpExporterConfig"`
	SyslogExporter     string              `mapstructure:"syslogExporterURL"`
}

// ExporterBus is the single point of contact for all exporters: the
// dispatcher hands a batch to the bus, the bus fans it out sequentially to
// every configured destination so per-destination order is kept.
type ExporterBus struct {
	exporters []Exporter
}

var _ Exporter = (*ExporterBus)(nil)

// InitExporters initializes all configured exporters.
func InitExporters(config ExportersConfig, host string) *ExporterBus {
	var exporters []Exporter
	if stdoutExp := InitStdoutExporter(config.StdoutExporter); stdoutExp != nil {
		exporters = append(exporters, stdoutExp)
	}
	if syslogExp := InitSyslogExporter(config.SyslogExporter); syslogExp != nil {
		exporters = append(exporters, syslogExp)
	}
	if config.HTTPExporterConfig == nil {
		if httpURL := os.Getenv("HTTP_ENDPOINT_URL"); httpURL != "" {
			config.HTTPExporterConfig = &HTTPExporterConfig{URL: httpURL}
		}
	}
	if config.HTTPExporterConfig != nil {
		httpExp, err := InitHTTPExporter(*config.HTTPExporterConfig, host)
		if err != nil {
			logger.L().Error("failed to initialize http exporter", helpers.Error(err))
		} else {
			exporters = append(exporters, httpExp)
		}
	}
	if len(exporters) == 0 {
		logger.L().Warning("no exporters configured, reports will be discarded after dequeue")
	}
	return &ExporterBus{exporters: exporters}
}

// NewExporterBus wraps explicit exporters, for tests and embedding.
func NewExporterBus(exporters ...Exporter) *ExporterBus {
	return &ExporterBus{exporters: exporters}
}

func (bus *ExporterBus) SendAccessReports(batch []accessevent.AccessReport) error {
	var err error
	for _, exporter := range bus.exporters {
		err = multierr.Append(err, exporter.SendAccessReports(batch))
	}
	return err
}
