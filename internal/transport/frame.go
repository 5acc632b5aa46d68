// Package transport implements the length-prefixed byte framing spec §4.1
// requires over a reliable stream socket: 4-byte big-endian length followed
// by exactly that many payload bytes.
package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"

	"planetwars/broker/internal/runtimeerr"
)

const lengthPrefixSize = 4

// Framed wraps a net.Conn with length-prefixed frame read/write. Reads and
// writes are independently safe for concurrent use by one reader goroutine
// and any number of writers: Send serializes concurrent writers with a
// mutex so each frame is written whole. PollFrame takes no lock.
type Framed struct {
	conn     net.Conn
	r        *bufio.Reader
	maxFrame uint32
	writeMu  sync.Mutex
}

// New wraps conn for length-prefixed framing. maxFrame bounds the payload
// size of any single frame (spec default 16 MiB, see config.DefaultMaxFrameBytes).
func New(conn net.Conn, maxFrame uint32) *Framed {
	return &Framed{
		conn:     conn,
		r:        bufio.NewReader(conn),
		maxFrame: maxFrame,
	}
}

// PollFrame reads exactly one frame's payload. A nil, nil return means the
// peer closed the connection in an orderly fashion between frames. EOF
// encountered mid-frame is reported as ConnectionAborted.
func (f *Framed) PollFrame() ([]byte, error) {
	var lenBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(f.r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, runtimeerr.New(runtimeerr.KindIO, errConnectionAborted)
		}
		return nil, runtimeerr.New(runtimeerr.KindIO, err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > f.maxFrame {
		return nil, runtimeerr.New(runtimeerr.KindProtocolViolation, errFrameTooLarge(length, f.maxFrame))
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(f.r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, runtimeerr.New(runtimeerr.KindIO, errConnectionAborted)
		}
		return nil, runtimeerr.New(runtimeerr.KindIO, err)
	}
	return payload, nil
}

// Send writes a single frame to the connection. Send performs the full
// length-prefixed write itself; callers needing batched writes should call
// Flush afterwards only if they disabled the underlying writer's
// auto-flush (Framed does not buffer writes, so Flush is a no-op today but
// is retained to satisfy spec §4.1's exposed surface and to leave room for
// a buffered writer later).
func (f *Framed) Send(payload []byte) error {
	if uint32(len(payload)) > f.maxFrame {
		return runtimeerr.New(runtimeerr.KindProtocolViolation, errFrameTooLarge(uint32(len(payload)), f.maxFrame))
	}
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	var lenBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := f.conn.Write(lenBuf[:]); err != nil {
		return runtimeerr.New(runtimeerr.KindIO, err)
	}
	if len(payload) > 0 {
		if _, err := f.conn.Write(payload); err != nil {
			return runtimeerr.New(runtimeerr.KindIO, err)
		}
	}
	return nil
}

// Flush is a no-op for the unbuffered writer path; retained so callers can
// treat Framed uniformly with a future buffered implementation.
func (f *Framed) Flush() error {
	return nil
}

// Close closes the underlying connection.
func (f *Framed) Close() error {
	return f.conn.Close()
}

// RemoteAddr exposes the underlying connection's remote address.
func (f *Framed) RemoteAddr() net.Addr {
	return f.conn.RemoteAddr()
}
