package exporters

import (
	"fmt"
	"log/syslog"
	"os"

	"github.com/crewjam/rfc5424"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"

	"github.com/buildsandbox/sandbox-agent/pkg/accessevent"
)

var _ Exporter = (*SyslogExporter)(nil)

// SyslogExporter sends each access report as an RFC 5424 message.
type SyslogExporter struct {
	writer *syslog.Writer
}

// InitSyslogExporter returns nil when no syslog host is configured.
func InitSyslogExporter(syslogHost string) *SyslogExporter {
	if syslogHost == "" {
		syslogHost = os.Getenv("SYSLOG_HOST")
		if syslogHost == "" {
			return nil
		}
	}

	protocol := os.Getenv("SYSLOG_PROTOCOL")
	if protocol == "" {
		protocol = "udp"
	}

	writer, err := syslog.Dial(protocol, syslogHost, syslog.LOG_INFO, "sandbox-agent")
	if err != nil {
		logger.L().Error("failed to initialize syslog exporter", helpers.Error(err))
		return nil
	}

	return &SyslogExporter{writer: writer}
}

func (se *SyslogExporter) SendAccessReports(batch []accessevent.AccessReport) error {
	for _, report := range batch {
		message := rfc5424.Message{
			Priority:  rfc5424.Info,
			Timestamp: report.Timestamp,
			AppName:   "sandbox-agent",
			ProcessID: fmt.Sprintf("%d", report.PID),
			StructuredData: []rfc5424.StructuredData{
				{
					ID: fmt.Sprintf("access@%d", report.BuildStepID),
					Parameters: []rfc5424.SDParam{
						{Name: "buildStep", Value: fmt.Sprintf("%d", report.BuildStepID)},
						{Name: "operation", Value: report.Operation.String()},
						{Name: "path", Value: report.Path},
						{Name: "resultCode", Value: fmt.Sprintf("%d", report.ResultCode)},
						{Name: "finalExists", Value: fmt.Sprintf("%t", report.FinalExists)},
					},
				},
			},
			Message: []byte(report.Operation.String() + " " + report.Path),
		}
		if _, err := message.WriteTo(se.writer); err != nil {
			return fmt.Errorf("write syslog message: %w", err)
		}
	}
	return nil
}
