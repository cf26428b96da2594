package backtest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"hfttools/internal/domain/models"
	"hfttools/internal/domain/repository"
	"hfttools/pkg/adapter"
	"hfttools/pkg/logger"
)

// EngineExec names the external engine bridge.
const EngineExec = "exec"

const (
	maxLineBytes  = 16 << 20
	stderrTailCap = 4 << 10
)

// execMessage is one JSON line exchanged with the engine process.
//
// Parent to child: {"type":"run","request":{...}} then optionally
// {"type":"stop"}. Child to parent: any number of
// {"type":"progress","step":n,"metrics":{...}} and {"type":"log",...} lines,
// then {"type":"result","result":{...}} or {"type":"error","message":"..."}.
type execMessage struct {
	Type    string                  `json:"type"`
	Request *models.BacktestRequest `json:"request,omitempty"`
	Step    int                     `json:"step,omitempty"`
	Metrics map[string]float64      `json:"metrics,omitempty"`
	Result  *models.RunResult       `json:"result,omitempty"`
	Level   string                  `json:"level,omitempty"`
	Message string                  `json:"message,omitempty"`
}

// ExecEngine delegates simulation to an external process speaking JSON lines.
type ExecEngine struct {
	command string
	args    []string
	timeout time.Duration
	log     *logger.Logger
}

// NewExecEngine creates an engine that runs command with args per backtest.
func NewExecEngine(command string, args []string, timeout time.Duration, l *logger.Logger) *ExecEngine {
	if l == nil {
		l = logger.Nop()
	}
	return &ExecEngine{command: command, args: args, timeout: timeout, log: l}
}

// Name implements repository.BacktestEngine.
func (e *ExecEngine) Name() string { return EngineExec }

// Run implements repository.BacktestEngine.
func (e *ExecEngine) Run(ctx context.Context, req *models.BacktestRequest, progress repository.ProgressFunc) (*models.Report, error) {
	if e.command == "" {
		return nil, adapter.Unavailable(errors.New("no command configured"), "exec engine")
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, e.command, e.args...)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = 5 * time.Second
	stderr := &tailBuffer{max: stderrTailCap}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, adapter.Unavailable(err, "exec engine stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, adapter.Unavailable(err, "exec engine stdout")
	}
	if err := cmd.Start(); err != nil {
		return nil, adapter.Unavailable(err, "start engine %q", e.command)
	}

	enc := json.NewEncoder(stdin)
	if err := enc.Encode(execMessage{Type: "run", Request: req}); err != nil {
		_ = stdin.Close()
		_ = cmd.Wait()
		return nil, adapter.Unavailable(err, "send request to engine")
	}

	result, engineErr, readErr := e.readLoop(stdout, enc, progress)
	_ = stdin.Close()
	// Wait closes the pipe, so anything the engine still writes must be
	// read first or it blocks on a full pipe.
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && e.timeout > 0 {
			return nil, adapter.Unavailable(ctx.Err(), "engine exceeded timeout %s", e.timeout)
		}
		return nil, adapter.Wrap(adapter.KindCancelled, ctx.Err(), "backtest cancelled")
	}
	if engineErr != "" {
		return nil, adapter.Unavailable(errors.New(engineErr), "engine reported failure")
	}
	if readErr != nil {
		return nil, adapter.Unavailable(readErr, "read engine output")
	}
	if waitErr != nil {
		return nil, adapter.Unavailable(waitErr, "engine exited: %s", strings.TrimSpace(stderr.String()))
	}
	if result == nil {
		return nil, adapter.Unavailable(io.ErrUnexpectedEOF, "engine exited without a result")
	}
	if result.InitialCapital == 0 {
		result.InitialCapital = req.Config.InitialCapital
	}
	if result.Truncated {
		result.Warnings = appendUnique(result.Warnings, warnTruncated)
	}

	period := models.Period{Start: req.Data.StartRaw, End: req.Data.EndRaw}
	return BuildReport(req.Strategy.Name, period, result), nil
}

func (e *ExecEngine) readLoop(stdout io.Reader, enc *json.Encoder, progress repository.ProgressFunc) (*models.RunResult, string, error) {
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	stopped := false

	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg execMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, "", fmt.Errorf("malformed engine line %q: %w", truncate(string(line), 120), err)
		}
		switch msg.Type {
		case "progress":
			if progress == nil || stopped {
				continue
			}
			metrics := msg.Metrics
			lookup := func(name string) (float64, bool) {
				v, ok := metrics[name]
				return v, ok
			}
			if !progress(msg.Step, lookup) {
				stopped = true
				if err := enc.Encode(execMessage{Type: "stop"}); err != nil {
					return nil, "", fmt.Errorf("send stop: %w", err)
				}
			}
		case "log":
			e.log.Debug("engine log", logger.String("level", msg.Level), logger.String("message", msg.Message))
		case "result":
			if msg.Result == nil {
				return nil, "", errors.New("result line without result")
			}
			msg.Result.Truncated = msg.Result.Truncated || stopped
			return msg.Result, "", nil
		case "error":
			return nil, msg.Message, nil
		default:
			e.log.Warn("unknown engine message", logger.String("type", msg.Type))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, "", err
	}
	return nil, "", nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
