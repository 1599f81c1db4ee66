package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/signalsfoundry/meshgraph/model"
	"github.com/signalsfoundry/meshgraph/packet"
)

// maxLineBytes bounds one JSON envelope on the TCP feed.
const maxLineBytes = 1 << 20

// TCPDialer connects to a decoder process that speaks newline-delimited JSON
// envelopes (see packet.Decode). The device key is the host:port address.
type TCPDialer struct {
	Timeout time.Duration
}

// Dial implements Dialer.
func (d TCPDialer) Dial(ctx context.Context, key model.DeviceKey) (Stream, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", string(key))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", key, err)
	}
	return NewConnStream(conn), nil
}

// ConnStream is a Stream over any net.Conn carrying JSON lines.
type ConnStream struct {
	conn   net.Conn
	reader *bufio.Reader

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// NewConnStream wraps conn. The stream owns conn from here on.
func NewConnStream(conn net.Conn) *ConnStream {
	return &ConnStream{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, 64*1024),
		closed: make(chan struct{}),
	}
}

type configureRequest struct {
	WantConfigID uint32 `json:"want_config_id"`
}

// Configure writes the configuration request line.
func (s *ConnStream) Configure(ctx context.Context, configID uint32) error {
	line, err := json.Marshal(configureRequest{WantConfigID: configID})
	if err != nil {
		return err
	}
	if err := s.writeLine(ctx, line); err != nil {
		return fmt.Errorf("send configure request: %w", err)
	}
	return nil
}

// Send writes p as one envelope line.
func (s *ConnStream) Send(ctx context.Context, p packet.Packet) error {
	line, err := packet.Encode(p)
	if err != nil {
		return err
	}
	if err := s.writeLine(ctx, line); err != nil {
		return fmt.Errorf("send %s: %w", p.Kind(), err)
	}
	return nil
}

func (s *ConnStream) writeLine(ctx context.Context, line []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line = append(line, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.isClosed() {
		return ErrClosed
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
		defer s.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := s.conn.Write(line); err != nil {
		if s.isClosed() {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Recv reads the next envelope. Blank lines are skipped. A line that fails
// to decode returns an error wrapping packet.ErrBadEnvelope; the stream
// stays usable.
func (s *ConnStream) Recv(ctx context.Context) (packet.Packet, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer func() {
		if !stop() {
			_ = s.conn.SetReadDeadline(time.Time{})
		}
	}()

	for {
		line, err := s.readLine()
		if err != nil {
			switch {
			case s.isClosed():
				return nil, ErrClosed
			case ctx.Err() != nil:
				return nil, ctx.Err()
			case errors.Is(err, io.EOF) && len(line) == 0:
				return nil, io.EOF
			default:
				return nil, err
			}
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		return packet.Decode(line)
	}
}

// readLine returns one line without its terminator. An oversized line is
// consumed in full and reported as a bad envelope.
func (s *ConnStream) readLine() ([]byte, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, isPrefix, err := s.reader.ReadLine()
		if err != nil {
			return buf, err
		}
		if !tooLong {
			buf = append(buf, chunk...)
			if len(buf) > maxLineBytes {
				tooLong, buf = true, nil
			}
		}
		if isPrefix {
			continue
		}
		if tooLong {
			return nil, fmt.Errorf("%w: line exceeds %d bytes", packet.ErrBadEnvelope, maxLineBytes)
		}
		return buf, nil
	}
}

// Close closes the connection. It is idempotent.
func (s *ConnStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *ConnStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
