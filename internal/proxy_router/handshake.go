package proxy_router

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/cryptobyte"
)

// PacketIDHandshake is the packet id of the first frame a client sends.
const PacketIDHandshake = 0

var (
	ErrInvalidEncoding = errors.New("hostname is not valid UTF-8")
	ErrInvalidLength   = errors.New("negative length prefix")
	ErrFrameTooLarge   = errors.New("frame exceeds maximum size")
)

// HandshakeFrame is the first frame of a connection. Payload holds the frame
// body exactly as the client sent it; the other fields are parsed from its front.
type HandshakeFrame struct {
	PacketID        int32
	ProtocolVersion int32
	Hostname        string
	Payload         []byte
}

// IsHandshake reports whether the frame carries the handshake packet id.
func (f *HandshakeFrame) IsHandshake() bool {
	return f.PacketID == PacketIDHandshake
}

// WriteTo writes the length prefix followed by the original payload in a
// single write.
func (f *HandshakeFrame) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, 0, MaxVarIntLen+len(f.Payload))
	buf = AppendVarInt(buf, int32(len(f.Payload)))
	buf = append(buf, f.Payload...)
	n, err := w.Write(buf)
	return int64(n), err
}

// ReadFrame reads one length-prefixed frame from r and parses the handshake
// fields from it. A maxSize of zero or less disables the size check.
func ReadFrame(r io.Reader, maxSize int) (*HandshakeFrame, error) {
	length, err := ReadVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("failed reading frame length: %w", err)
	}
	if length < 0 {
		return nil, fmt.Errorf("frame length %d: %w", length, ErrInvalidLength)
	}
	if maxSize > 0 && int(length) > maxSize {
		return nil, fmt.Errorf("frame length %d > %d: %w", length, maxSize, ErrFrameTooLarge)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("failed reading frame payload: %w", err)
	}

	return ParseHandshake(payload)
}

// ParseHandshake extracts the packet id, protocol version and hostname from
// the front of payload. payload is kept as-is and never modified. Parsing stops
// after the packet id when it is not a handshake.
func ParseHandshake(payload []byte) (*HandshakeFrame, error) {
	frame := &HandshakeFrame{Payload: payload}
	s := cryptobyte.String(payload)

	if err := readVarInt(&s, &frame.PacketID); err != nil {
		return nil, fmt.Errorf("unable to read packet id: %w", err)
	}
	if !frame.IsHandshake() {
		return frame, nil
	}

	if err := readVarInt(&s, &frame.ProtocolVersion); err != nil {
		return nil, fmt.Errorf("unable to read protocol version: %w", err)
	}

	var hostLen int32
	if err := readVarInt(&s, &hostLen); err != nil {
		return nil, fmt.Errorf("unable to read hostname length: %w", err)
	}
	if hostLen < 0 {
		return nil, fmt.Errorf("hostname length %d: %w", hostLen, ErrTruncated)
	}
	var host []byte
	if !s.ReadBytes(&host, int(hostLen)) {
		return nil, fmt.Errorf("hostname needs %d bytes, have %d: %w", hostLen, len(s), ErrTruncated)
	}
	if !utf8.Valid(host) {
		return nil, ErrInvalidEncoding
	}
	frame.Hostname = string(host)

	return frame, nil
}

// HandshakeSniffer reads the handshake frame off a freshly accepted connection.
type HandshakeSniffer struct {
	MaxFrameSize int           // e.g., 65536
	Timeout      time.Duration // e.g., 5 * time.Second
}

// SniffHandshake reads the first frame from conn. When Timeout is set the read
// is bounded by a deadline, which is cleared again before returning so the
// relay that follows is not affected by it.
func (s *HandshakeSniffer) SniffHandshake(conn net.Conn) (*HandshakeFrame, error) {
	if s.Timeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.Timeout))
		defer conn.SetReadDeadline(time.Time{})
	}
	return ReadFrame(conn, s.MaxFrameSize)
}
