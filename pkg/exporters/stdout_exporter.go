package exporters

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/buildsandbox/sandbox-agent/pkg/accessevent"
)

var _ Exporter = (*StdoutExporter)(nil)

// StdoutExporter writes each report as a JSON line, mainly for local runs
// and debugging of the pipeline.
type StdoutExporter struct {
	logger *log.Logger
}

func InitStdoutExporter(enabled *bool) *StdoutExporter {
	if enabled == nil {
		enabled = new(bool)
		*enabled = os.Getenv("STDOUT_ENABLED") != "false"
	}
	if !*enabled {
		return nil
	}

	logger := log.New()
	logger.SetFormatter(&log.JSONFormatter{})
	logger.SetOutput(os.Stderr)

	return &StdoutExporter{logger: logger}
}

func (exporter *StdoutExporter) SendAccessReports(batch []accessevent.AccessReport) error {
	for _, report := range batch {
		exporter.logger.WithFields(log.Fields{
			"buildStepId": report.BuildStepID,
			"pid":         report.PID,
			"operation":   report.Operation.String(),
			"path":        report.Path,
			"resultCode":  report.ResultCode,
			"finalExists": report.FinalExists,
			"timestamp":   report.Timestamp,
		}).Info("file access")
	}
	return nil
}
