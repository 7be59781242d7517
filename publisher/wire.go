// Package publisher delivers usage events to the traffic manager
// receivers over a length prefixed binary TCP protocol. Publishing is
// asynchronous and bounded, the decision path never waits for it.
package publisher

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Message types of the receiver protocol.
const (
	msgLogin   byte = 1
	msgPublish byte = 2

	// first response field on a successful login or publish
	statusOK = "0"
)

// frame layout: type byte, uint32 payload length, payload. The payload is
// a uint32 field count followed by uint32 length prefixed UTF-8 fields.
// All integers are big endian.

const maxFrameSize = 1 << 20

func writeFrame(w io.Writer, msgType byte, fields []string) error {
	size := 4
	for _, f := range fields {
		size += 4 + len(f)
	}
	if size > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", size)
	}

	buf := make([]byte, 0, 5+size)
	buf = append(buf, msgType)
	buf = binary.BigEndian.AppendUint32(buf, uint32(size))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(fields)))
	for _, f := range fields {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(f)))
		buf = append(buf, f...)
	}
	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader) (byte, []string, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	size := binary.BigEndian.Uint32(header[1:])
	if size > maxFrameSize {
		return 0, nil, fmt.Errorf("frame of %d bytes exceeds limit", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	if len(payload) < 4 {
		return 0, nil, fmt.Errorf("short frame payload")
	}
	count := binary.BigEndian.Uint32(payload)
	payload = payload[4:]
	fields := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(payload) < 4 {
			return 0, nil, fmt.Errorf("truncated field length")
		}
		n := binary.BigEndian.Uint32(payload)
		payload = payload[4:]
		if uint32(len(payload)) < n {
			return 0, nil, fmt.Errorf("truncated field")
		}
		fields = append(fields, string(payload[:n]))
		payload = payload[n:]
	}
	return header[0], fields, nil
}

// login performs the session handshake on a fresh connection and returns
// the session id issued by the receiver.
func login(rw io.ReadWriter, username, password string) (string, error) {
	if err := writeFrame(rw, msgLogin, []string{username, password}); err != nil {
		return "", fmt.Errorf("send login: %w", err)
	}
	msgType, fields, err := readFrame(rw)
	if err != nil {
		return "", fmt.Errorf("read login response: %w", err)
	}
	if msgType != msgLogin || len(fields) < 2 {
		return "", fmt.Errorf("unexpected login response")
	}
	if fields[0] != statusOK {
		return "", fmt.Errorf("login rejected: %s", fields[0])
	}
	return fields[1], nil
}

// publish sends one event frame and waits for the ack.
func publish(rw io.ReadWriter, sessionID string, eventFields []string) error {
	fields := make([]string, 0, len(eventFields)+1)
	fields = append(fields, sessionID)
	fields = append(fields, eventFields...)
	if err := writeFrame(rw, msgPublish, fields); err != nil {
		return fmt.Errorf("send event: %w", err)
	}
	msgType, ack, err := readFrame(rw)
	if err != nil {
		return fmt.Errorf("read publish ack: %w", err)
	}
	if msgType != msgPublish || len(ack) < 1 || ack[0] != statusOK {
		return fmt.Errorf("event rejected by receiver")
	}
	return nil
}
