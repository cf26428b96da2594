package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"hfttools/pkg/logger"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"

	// DefaultMaxInput bounds the stdin document.
	DefaultMaxInput = 64 << 20
)

// Handler turns one decoded request payload into a result document.
type Handler interface {
	Handle(ctx context.Context, payload json.RawMessage) (interface{}, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (interface{}, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	return f(ctx, payload)
}

// Builder wires a handler after the input has been read. The returned
// cleanup runs once the result is written.
type Builder func(ctx context.Context) (Handler, func(), error)

// Options configures Run.
type Options struct {
	Name     string
	Logger   *logger.Logger
	Build    Builder
	MaxInput int64
}

// Run executes one request/response exchange: read a single JSON object
// from in, dispatch it, write exactly one JSON line to out and return the
// process exit code.
func Run(ctx context.Context, in io.Reader, out io.Writer, opts Options) (code int) {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.String("adapter", opts.Name))
	start := time.Now()

	var result interface{}
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("handler panic", logger.Any("panic", r), logger.String("stack", string(debug.Stack())))
				err = Internalf("internal error: %v", r)
			}
		}()
		result, err = dispatch(ctx, in, opts)
	}()

	if err == nil {
		line, merr := encodeLine(result)
		if merr == nil {
			if werr := writeAll(out, line); werr != nil {
				log.Error("write result", logger.Error(werr))
				return 1
			}
			log.Info("request completed", logger.Duration("elapsed_ms", time.Since(start)))
			return 0
		}
		err = Wrap(KindInternalFailure, merr, "encode result")
	}

	log.Error("request failed",
		logger.String("type", string(KindOf(err))),
		logger.Error(err),
		logger.Duration("elapsed_ms", time.Since(start)),
	)
	line, merr := encodeLine(NewEnvelope(err))
	if merr == nil {
		merr = writeAll(out, line)
	}
	if merr != nil {
		log.Error("write error envelope", logger.Error(merr))
	}
	return 1
}

func dispatch(ctx context.Context, in io.Reader, opts Options) (interface{}, error) {
	payload, err := ReadObject(in, opts.MaxInput)
	if err != nil {
		return nil, err
	}
	if opts.Build == nil {
		return nil, Internalf("adapter %q has no handler", opts.Name)
	}

	handler, cleanup, err := opts.Build(ctx)
	if err != nil {
		var ae *Error
		if !errors.As(err, &ae) && KindOf(err) == KindInternalFailure {
			err = Wrap(KindEngineUnavailable, err, "initialise dependencies")
		}
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}

	if err := ctx.Err(); err != nil {
		return nil, Wrap(KindCancelled, err, "cancelled before start")
	}
	return handler.Handle(ctx, payload)
}

// ReadObject reads in to EOF and checks that it holds exactly one JSON object.
func ReadObject(in io.Reader, max int64) (json.RawMessage, error) {
	if max <= 0 {
		max = DefaultMaxInput
	}
	data, err := io.ReadAll(io.LimitReader(in, max+1))
	if err != nil {
		return nil, Wrap(KindInvalidInput, err, "read stdin")
	}
	if int64(len(data)) > max {
		return nil, InvalidInputf("input exceeds %d bytes", max)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, InvalidInputf("empty input: expected a JSON object on stdin")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, decodeError(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, InvalidInputf("expected exactly one JSON document on stdin")
	}
	if raw[0] != '{' {
		return nil, InvalidInputf("input must be a JSON object")
	}
	return raw, nil
}

func encodeLine(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func writeAll(out io.Writer, line []byte) error {
	if _, err := out.Write(line); err != nil {
		return fmt.Errorf("write stdout: %w", err)
	}
	return nil
}
