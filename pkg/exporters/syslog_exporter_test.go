package exporters

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	syslogsrv "gopkg.in/mcuadros/go-syslog.v2"

	"github.com/buildsandbox/sandbox-agent/pkg/accessevent"
)

func setupSyslogServer(t *testing.T, addr string) (*syslogsrv.Server, syslogsrv.LogPartsChannel) {
	t.Helper()
	channel := make(syslogsrv.LogPartsChannel, 100)
	handler := syslogsrv.NewChannelHandler(channel)

	server := syslogsrv.NewServer()
	server.SetFormat(syslogsrv.Automatic)
	server.SetHandler(handler)
	require.NoError(t, server.ListenUDP(addr))
	require.NoError(t, server.Boot())
	go server.Wait()
	return server, channel
}

func TestSyslogExporter_SendAccessReports(t *testing.T) {
	server, channel := setupSyslogServer(t, "127.0.0.1:40001")
	defer server.Kill()

	exporter := InitSyslogExporter("127.0.0.1:40001")
	require.NotNil(t, exporter)

	batch := []accessevent.AccessReport{
		{BuildStepID: 7, PID: 100, Operation: accessevent.OpRead, Path: "/a/b", Timestamp: time.Now()},
	}
	require.NoError(t, exporter.SendAccessReports(batch))

	select {
	case logParts := <-channel:
		require.NotNil(t, logParts)
	case <-time.After(5 * time.Second):
		t.Fatal("no syslog message received")
	}
}

func TestSyslogExporter_NoHostConfigured(t *testing.T) {
	t.Setenv("SYSLOG_HOST", "")
	assert.Nil(t, InitSyslogExporter(""))
}
