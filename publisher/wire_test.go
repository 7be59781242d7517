package publisher

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fields := []string{"session-1", "field", "", "with spaces and ütf8"}
	require.NoError(t, writeFrame(&buf, msgPublish, fields))

	msgType, got, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, msgPublish, msgType)
	assert.Equal(t, fields, got)
}

func TestFrameEmptyFieldList(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, msgLogin, nil))

	msgType, got, err := readFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, msgLogin, msgType)
	assert.Empty(t, got)
}

func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, msgPublish, []string{"a", "b"}))
	raw := buf.Bytes()

	_, _, err := readFrame(bytes.NewReader(raw[:len(raw)-3]))
	assert.Error(t, err)
}

// fakeReceiver answers the session handshake and acks every event,
// recording what it got.
type fakeReceiver struct {
	sessionID string
	events    chan []string
}

func (r *fakeReceiver) serve(conn net.Conn) {
	defer conn.Close()
	for {
		msgType, fields, err := readFrame(conn)
		if err != nil {
			return
		}
		switch msgType {
		case msgLogin:
			writeFrame(conn, msgLogin, []string{statusOK, r.sessionID})
		case msgPublish:
			if r.events != nil {
				r.events <- fields
			}
			writeFrame(conn, msgPublish, []string{statusOK})
		}
	}
}

func TestLoginHandshake(t *testing.T) {
	client, server := net.Pipe()
	r := &fakeReceiver{sessionID: "session-42"}
	go r.serve(server)

	sessionID, err := login(client, "admin", "admin")
	require.NoError(t, err)
	assert.Equal(t, "session-42", sessionID)
	client.Close()
}

func TestLoginRejected(t *testing.T) {
	client, server := net.Pipe()
	go func() {
		defer server.Close()
		if _, _, err := readFrame(server); err != nil {
			return
		}
		writeFrame(server, msgLogin, []string{"1", "bad credentials"})
	}()

	_, err := login(client, "admin", "wrong")
	assert.Error(t, err)
	client.Close()
}

func TestPublishAcked(t *testing.T) {
	client, server := net.Pipe()
	r := &fakeReceiver{sessionID: "s", events: make(chan []string, 1)}
	go r.serve(server)

	require.NoError(t, publish(client, "s", []string{"msg-1", "appKey"}))
	got := <-r.events
	assert.Equal(t, []string{"s", "msg-1", "appKey"}, got)
	client.Close()
}

func TestPublishBrokenConnection(t *testing.T) {
	client, server := net.Pipe()
	server.Close()

	err := publish(client, "s", []string{"msg-1"})
	assert.Error(t, err)
}
