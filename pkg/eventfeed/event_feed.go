// Package eventfeed receives raw access events from the interception layer
// over a unix domain socket, one JSON object per line. Parsing sits on the
// event hot path, so it uses fastjson instead of encoding/json.
package eventfeed

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"github.com/valyala/fastjson"
	"golang.org/x/sys/unix"

	"github.com/buildsandbox/sandbox-agent/pkg/accessevent"
	"github.com/buildsandbox/sandbox-agent/pkg/accessmanager"
)

// maxLineSize bounds one serialized event. Paths are capped at PATH_MAX, so
// 64k leaves ample room for the envelope.
const maxLineSize = 64 * 1024

type EventFeed struct {
	socketPath string
	manager    accessmanager.AccessManager

	listener net.Listener
	wg       sync.WaitGroup
	parsers  fastjson.ParserPool

	connMutex sync.Mutex
	conns     map[net.Conn]struct{}
}

func NewEventFeed(socketPath string, manager accessmanager.AccessManager) *EventFeed {
	return &EventFeed{
		socketPath: socketPath,
		manager:    manager,
		conns:      make(map[net.Conn]struct{}),
	}
}

func (ef *EventFeed) Start(ctx context.Context) error {
	if ef.listener != nil {
		return fmt.Errorf("event feed already started")
	}
	// A stale socket from a previous run blocks the bind.
	if err := os.Remove(ef.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale socket %s: %w", ef.socketPath, err)
	}
	listener, err := net.Listen("unix", ef.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", ef.socketPath, err)
	}
	ef.listener = listener

	ef.wg.Add(1)
	go ef.acceptLoop(ctx)
	logger.L().Info("event feed listening", helpers.String("socket", ef.socketPath))
	return nil
}

func (ef *EventFeed) Stop() {
	if ef.listener == nil {
		return
	}
	_ = ef.listener.Close()
	ef.connMutex.Lock()
	for conn := range ef.conns {
		_ = conn.Close()
	}
	ef.connMutex.Unlock()
	ef.wg.Wait()
	_ = os.Remove(ef.socketPath)
}

func (ef *EventFeed) acceptLoop(ctx context.Context) {
	defer ef.wg.Done()
	for {
		conn, err := ef.listener.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				logger.L().Error("event feed accept failed", helpers.Error(err))
			}
			return
		}
		ef.connMutex.Lock()
		ef.conns[conn] = struct{}{}
		ef.connMutex.Unlock()
		ef.wg.Add(1)
		go ef.readLoop(conn)
	}
}

func (ef *EventFeed) readLoop(conn net.Conn) {
	defer ef.wg.Done()
	defer func() {
		ef.connMutex.Lock()
		delete(ef.conns, conn)
		ef.connMutex.Unlock()
		_ = conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), maxLineSize)
	parser := ef.parsers.Get()
	defer ef.parsers.Put(parser)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		event, err := parseEvent(parser, line)
		if err != nil {
			logger.L().Warning("dropping malformed event", helpers.Error(err))
			continue
		}
		ef.manager.ReportEvent(event)
	}
}

// parseEvent decodes one wire event. Wire fields: pid, ppid, path, cwd, op
// (operation kind string), ret (errno), ts (unix nanoseconds, 0 means now).
func parseEvent(parser *fastjson.Parser, line []byte) (accessevent.RawEvent, error) {
	v, err := parser.ParseBytes(line)
	if err != nil {
		return accessevent.RawEvent{}, fmt.Errorf("parse event: %w", err)
	}
	path := v.GetStringBytes("path")
	if len(path) == 0 {
		return accessevent.RawEvent{}, fmt.Errorf("event without path")
	}
	timestamp := time.Now()
	if ts := v.GetInt64("ts"); ts != 0 {
		timestamp = time.Unix(0, ts)
	}
	event := accessevent.RawEvent{
		PID:        uint32(v.GetUint("pid")),
		PPID:       uint32(v.GetUint("ppid")),
		RawPath:    string(path),
		WorkingDir: string(v.GetStringBytes("cwd")),
		Operation:  accessevent.ParseOperationKind(string(v.GetStringBytes("op"))),
		ResultCode: unix.Errno(v.GetUint("ret")),
		Timestamp:  timestamp,
	}
	if event.PID == 0 {
		return accessevent.RawEvent{}, fmt.Errorf("event without pid")
	}
	return event, nil
}
