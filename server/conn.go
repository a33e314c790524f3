// Copyright 2026 The Spyglass Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/spyglass-foundation/spyglass/lib/netutil"
	"github.com/spyglass-foundation/spyglass/wire"
)

var errLineTooLong = fmt.Errorf("request line exceeds %d bytes", wire.MaxLineLength)

// serveConnection runs the request loop for one accepted connection:
// read one line, produce exactly one response line, flush, repeat.
// The loop ends on end-of-stream (the peer disconnected; not an
// error) or server shutdown. Nothing a single connection does can
// affect other connections or the host process.
func (s *Server) serveConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	// Unblock the blocking read when the server shuts down.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for {
		line, err := readLine(reader)
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				// The offending line was discarded up to its
				// newline; the channel stays usable.
				if writeErr := writeLine(writer, wire.Encode(wire.InvalidJSON(err))); writeErr != nil {
					return
				}
				continue
			}
			if !netutil.IsDisconnect(err) && ctx.Err() == nil {
				s.logger.Debug("connection read failed", "error", err)
			}
			return
		}

		if err := writeLine(writer, s.respond(ctx, line)); err != nil {
			if !netutil.IsDisconnect(err) && ctx.Err() == nil {
				s.logger.Debug("connection write failed", "error", err)
			}
			return
		}
	}
}

// respond converts one request line into exactly one response line.
// Every failure mode — malformed JSON, unknown method, handler fault,
// unserializable success payload — degrades to a failure line; none
// of them terminate the connection.
func (s *Server) respond(ctx context.Context, line []byte) []byte {
	request, err := wire.DecodeRequest(line)
	if err != nil {
		return wire.Encode(wire.InvalidJSON(err))
	}

	if request.Method == wire.MethodPing {
		return s.pingResponse()
	}

	handler, exists := s.handlers[request.Method]
	if !exists {
		return wire.Encode(wire.UnknownMethod(request.Method))
	}

	result, err := invokeHandler(ctx, handler, request.Params)
	if err != nil {
		s.logger.Debug("handler failed",
			"method", request.Method,
			"error", err,
		)
		return wire.Encode(wire.HandlerError(err))
	}

	response, err := wire.Success(result)
	if err != nil {
		s.logger.Warn("response payload not serializable",
			"method", request.Method,
			"error", err,
		)
		return wire.FallbackFailure(fmt.Sprintf("Failed to encode response: %v", err))
	}
	return wire.Encode(response)
}

// pingResponse answers the built-in liveness and protocol-version
// probe. Handled by this layer so a target with an empty handler
// table is still discoverable and validatable.
func (s *Server) pingResponse() []byte {
	response, err := wire.Success(wire.PingResult{
		ProtocolVersion: wire.ProtocolVersion,
		ProcessName:     s.processName,
		PID:             s.targetID,
		StartTime:       s.startTime.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return wire.FallbackFailure(fmt.Sprintf("Failed to encode response: %v", err))
	}
	return wire.Encode(response)
}

// invokeHandler calls the handler, converting a panic into an error
// at the server boundary so one faulting handler can never take down
// the connection, let alone the host application.
func invokeHandler(ctx context.Context, handler Handler, params map[string]any) (result any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic: %v", recovered)
		}
	}()
	return handler(ctx, params)
}

// readLine reads one newline-terminated line, enforcing the protocol
// line length cap. An oversized line is consumed through its newline
// and reported as errLineTooLong so the stream stays framed.
func readLine(reader *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := reader.ReadSlice('\n')
		line = append(line, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			if len(line) > wire.MaxLineLength {
				if discardErr := discardLine(reader); discardErr != nil {
					return nil, discardErr
				}
				return nil, errLineTooLong
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(line) > wire.MaxLineLength {
			return nil, errLineTooLong
		}
		return line, nil
	}
}

// discardLine consumes input through the next newline.
func discardLine(reader *bufio.Reader) error {
	for {
		_, err := reader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return err
	}
}

// writeLine writes one response line and flushes it.
func writeLine(writer *bufio.Writer, line []byte) error {
	if _, err := writer.Write(line); err != nil {
		return err
	}
	return writer.Flush()
}
