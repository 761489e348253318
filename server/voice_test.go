package server

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/room4-2/ordercall/gemini"
)

type fakeSynth struct{ err error }

func (f *fakeSynth) Synthesize(_ context.Context, text, _ string) (gemini.Audio, error) {
	if f.err != nil {
		return gemini.Audio{}, f.err
	}
	return gemini.Audio{Data: []byte(text[:1]), MIMEType: gemini.DefaultAudioMIMEType}, nil
}

type fakeTranscriber struct {
	mu       sync.Mutex
	text     string
	err      error
	audio    []byte
	mimeType string
	language string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio []byte, mimeType, language string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio, f.mimeType, f.language = audio, mimeType, language
	return f.text, f.err
}

func dialVoice(t *testing.T, ts *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/voice/" + id
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type frame struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, sonic.Unmarshal(data, &f))
	return f
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func TestVoice_UnknownSession(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/voice/nope"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestVoice_TextCall(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	id := startCall(t, s.Handler())

	conn := dialVoice(t, ts, id)

	f := readFrame(t, conn)
	assert.Equal(t, "status", f.Type)
	assert.Equal(t, "connected", f.Payload["status"])

	f = readFrame(t, conn)
	assert.Equal(t, "text", f.Type)
	assert.Equal(t, "LANGUAGE_SELECT", f.Payload["state"])
	assert.Contains(t, f.Payload["text"], "Zain Bahrain")

	send(t, conn, `{"type":"text","payload":{"text":"English"}}`)
	f = readFrame(t, conn)
	assert.Equal(t, "text", f.Type)
	assert.Equal(t, "AUTH", f.Payload["state"])
	assert.Equal(t, "en", f.Payload["language"])
	assert.NotContains(t, f.Payload, "transcript")

	send(t, conn, `{"type":"control","payload":{"action":"ping"}}`)
	f = readFrame(t, conn)
	assert.Equal(t, "pong", f.Payload["status"])

	send(t, conn, `garbage`)
	f = readFrame(t, conn)
	assert.Equal(t, "error", f.Type)
	assert.Equal(t, "INVALID_MESSAGE", f.Payload["code"])

	send(t, conn, `{"type":"text","payload":{"text":"  "}}`)
	f = readFrame(t, conn)
	assert.Equal(t, "TURN_REJECTED", f.Payload["code"])

	// reconnecting repeats the latest line instead of restarting the call
	conn2 := dialVoice(t, ts, id)
	readFrame(t, conn2)
	f = readFrame(t, conn2)
	assert.Equal(t, "AUTH", f.Payload["state"])
	assert.Equal(t, "Can I please have your full name?", f.Payload["text"])
}

func TestVoice_AudioTurn(t *testing.T) {
	transcriber := &fakeTranscriber{text: "English"}
	s := newTestServer(t, WithSpeech(&fakeSynth{}, transcriber))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	id := startCall(t, s.Handler())

	conn := dialVoice(t, ts, id)
	readFrame(t, conn) // connected
	assert.Equal(t, "text", readFrame(t, conn).Type)

	f := readFrame(t, conn)
	assert.Equal(t, "audio", f.Type)
	assert.Equal(t, gemini.DefaultAudioMIMEType, f.Payload["mimeType"])

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2}))
	send(t, conn, `{"type":"audio","payload":{"data":"`+base64.StdEncoding.EncodeToString([]byte{3})+`"}}`)
	send(t, conn, `{"type":"control","payload":{"action":"end_turn"}}`)

	f = readFrame(t, conn)
	assert.Equal(t, "text", f.Type)
	assert.Equal(t, "AUTH", f.Payload["state"])
	assert.Equal(t, "English", f.Payload["transcript"])
	assert.Equal(t, "audio", readFrame(t, conn).Type)

	transcriber.mu.Lock()
	assert.Equal(t, []byte{1, 2, 3}, transcriber.audio)
	assert.Equal(t, "", transcriber.language)
	transcriber.mu.Unlock()

	// the next utterance is transcribed with the chosen language
	transcriber.mu.Lock()
	transcriber.text = "Ahmed Ali"
	transcriber.mu.Unlock()
	send(t, conn, `{"type":"audio","payload":{"data":"`+base64.StdEncoding.EncodeToString([]byte{4})+`","mimeType":"audio/webm","endOfTurn":true}}`)

	f = readFrame(t, conn)
	assert.Equal(t, "Ahmed Ali", f.Payload["transcript"])
	readFrame(t, conn)

	transcriber.mu.Lock()
	assert.Equal(t, "en", transcriber.language)
	assert.Equal(t, "audio/webm", transcriber.mimeType)
	transcriber.mu.Unlock()
}

func TestVoice_SpeechFailures(t *testing.T) {
	transcriber := &fakeTranscriber{err: gemini.ErrNoSpeech}
	s := newTestServer(t, WithSpeech(&fakeSynth{err: errors.New("quota")}, transcriber))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	id := startCall(t, s.Handler())

	conn := dialVoice(t, ts, id)
	readFrame(t, conn)
	assert.Equal(t, "text", readFrame(t, conn).Type)
	f := readFrame(t, conn)
	assert.Equal(t, "SPEECH_ERROR", f.Payload["code"])

	// empty buffer: end_turn is ignored, so the next frame answers the ping
	send(t, conn, `{"type":"control","payload":{"action":"end_turn"}}`)
	send(t, conn, `{"type":"control","payload":{"action":"ping"}}`)
	assert.Equal(t, "pong", readFrame(t, conn).Payload["status"])

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1}))
	send(t, conn, `{"type":"control","payload":{"action":"end_turn"}}`)
	f = readFrame(t, conn)
	assert.Equal(t, "TRANSCRIPTION_FAILED", f.Payload["code"])
	assert.Equal(t, "Sorry, I couldn't understand that. Could you repeat?", f.Payload["message"])

	desc, err := s.sessions.Describe(id)
	require.NoError(t, err)
	assert.Equal(t, "LANGUAGE_SELECT", string(desc.Checkpoint))
}

func TestVoice_BufferFull(t *testing.T) {
	s := newTestServer(t)
	s.config.MaxBufferSize = 4
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	id := startCall(t, s.Handler())

	conn := dialVoice(t, ts, id)
	readFrame(t, conn)
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4, 5}))
	f := readFrame(t, conn)
	assert.Equal(t, "BUFFER_FULL", f.Payload["code"])
}

func TestVoice_EndCall(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	id := startCall(t, s.Handler())

	conn := dialVoice(t, ts, id)
	readFrame(t, conn)
	readFrame(t, conn)

	send(t, conn, `{"type":"control","payload":{"action":"end_call"}}`)
	f := readFrame(t, conn)
	assert.Equal(t, "ended", f.Payload["status"])

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Zero(t, s.sessions.GetActiveSessionCount())
}

func TestServer_StartShutdown_NoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := newTestServer(t)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start()
	}()

	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Start() didn't return after Shutdown()")
	}
}

func TestServer_ShutdownHangsUpVoice(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	id := startCall(t, s.Handler())

	conn := dialVoice(t, ts, id)
	readFrame(t, conn)
	readFrame(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Zero(t, s.sessions.GetActiveSessionCount())
}
