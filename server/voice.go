package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/room4-2/ordercall/dialogue"
	"github.com/room4-2/ordercall/logging"
	"github.com/room4-2/ordercall/messages"
	"github.com/room4-2/ordercall/session"
)

const (
	writeQueueSize = 256
	writeTimeout   = 10 * time.Second
	maxFrameBytes  = 512 * 1024
)

const genericFailure = "An error occurred. Please try again."

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.sessions.Lookup(id); err != nil {
		s.writeFailure(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str(logging.FieldSessionID, id).Msg("websocket upgrade failed")
		return
	}

	vc := newVoiceConn(s, id, conn)
	s.track(vc)
	defer s.untrack(vc)

	vc.logger.Info().Msg("voice connected")
	vc.serve()
	vc.logger.Info().Msg("voice disconnected")
}

// voiceConn is one customer's audio channel onto a live session. Only the
// write pump writes to conn; turns run on the read loop, one per utterance,
// in arrival order.
type voiceConn struct {
	id     string
	conn   *websocket.Conn
	srv    *Server
	buffer *utteranceBuffer
	logger zerolog.Logger

	writeChan chan any
	closeChan chan struct{}
	pumpDone  chan struct{}
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

func newVoiceConn(s *Server, id string, conn *websocket.Conn) *voiceConn {
	ctx, cancel := context.WithCancel(context.Background())
	conn.SetReadLimit(maxFrameBytes)

	return &voiceConn{
		id:        id,
		conn:      conn,
		srv:       s,
		buffer:    newUtteranceBuffer(s.config.MaxBufferSize),
		logger:    s.logger.With().Str(logging.FieldSessionID, logging.ShortID(id)).Logger(),
		writeChan: make(chan any, writeQueueSize),
		closeChan: make(chan struct{}),
		pumpDone:  make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// serve greets the customer and reads until the client leaves, the call is
// ended or the server shuts down
func (vc *voiceConn) serve() {
	go vc.writePump()
	defer func() {
		vc.Close()
		<-vc.pumpDone
	}()

	if keepAlive := vc.srv.config.KeepAlivePeriod; keepAlive > 0 {
		_ = vc.conn.SetReadDeadline(time.Now().Add(2 * keepAlive))
		vc.conn.SetPongHandler(func(string) error {
			return vc.conn.SetReadDeadline(time.Now().Add(2 * keepAlive))
		})
	}

	vc.queue(messages.NewStatusMessage(vc.id, "connected", "Call connected"))
	reply, err := vc.srv.sessions.Greet(vc.ctx, vc.id)
	if err != nil {
		vc.turnFailed(err)
		return
	}
	vc.respond(reply, "")

	for {
		messageType, data, err := vc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !vc.isClosed() {
				vc.logger.Warn().Err(err).Msg("voice read failed")
			}
			return
		}
		if keepAlive := vc.srv.config.KeepAlivePeriod; keepAlive > 0 {
			_ = vc.conn.SetReadDeadline(time.Now().Add(2 * keepAlive))
		}

		if messageType == websocket.BinaryMessage {
			vc.bufferAudio(data, "")
			continue
		}

		msg, err := messages.ParseClientMessage(data)
		if err != nil {
			vc.queue(messages.NewErrorMessage(vc.id, messages.ErrCodeInvalidMessage, "Invalid message format"))
			continue
		}
		if done := vc.handle(msg); done {
			return
		}
	}
}

// handle processes one client message and reports whether the call is over
func (vc *voiceConn) handle(msg *messages.ClientMessage) bool {
	switch msg.Type {
	case messages.ClientTypeText:
		var payload messages.TextPayload
		if err := msg.DecodePayload(&payload); err != nil {
			vc.queue(messages.NewErrorMessage(vc.id, messages.ErrCodeInvalidMessage, "Invalid text payload"))
			return false
		}
		return vc.turn(payload.Text, "")

	case messages.ClientTypeAudio:
		var payload messages.AudioPayload
		if err := msg.DecodePayload(&payload); err != nil {
			vc.queue(messages.NewErrorMessage(vc.id, messages.ErrCodeInvalidMessage, "Invalid audio payload"))
			return false
		}
		audio, err := base64.StdEncoding.DecodeString(payload.Data)
		if err != nil {
			vc.queue(messages.NewErrorMessage(vc.id, messages.ErrCodeInvalidMessage, "Invalid base64 audio data"))
			return false
		}
		vc.bufferAudio(audio, payload.MimeType)
		if payload.EndOfTurn {
			return vc.endTurn()
		}
		return false

	case messages.ClientTypeControl:
		var payload messages.ControlPayload
		if err := msg.DecodePayload(&payload); err != nil {
			vc.queue(messages.NewErrorMessage(vc.id, messages.ErrCodeInvalidMessage, "Invalid control payload"))
			return false
		}
		switch payload.Action {
		case messages.ActionPing:
			vc.queue(messages.NewStatusMessage(vc.id, "pong", ""))
		case messages.ActionEndTurn:
			return vc.endTurn()
		case messages.ActionEndCall:
			if err := vc.srv.sessions.End(vc.ctx, vc.id); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
				vc.logger.Warn().Err(err).Msg("end call failed")
			}
			vc.queue(messages.NewStatusMessage(vc.id, "ended", "Call session ended"))
			return true
		default:
			vc.queue(messages.NewErrorMessage(vc.id, messages.ErrCodeInvalidMessage, "Unknown control action: "+payload.Action))
		}
		return false

	default:
		vc.queue(messages.NewErrorMessage(vc.id, messages.ErrCodeInvalidMessage, "Unknown message type: "+msg.Type))
		return false
	}
}

func (vc *voiceConn) bufferAudio(chunk []byte, mimeType string) {
	if err := vc.buffer.Append(chunk, mimeType); err != nil {
		vc.queue(messages.NewErrorMessage(vc.id, messages.ErrCodeBufferFull,
			fmt.Sprintf("Audio buffer full (max %d bytes)", vc.srv.config.MaxBufferSize)))
	}
}

// endTurn transcribes the buffered utterance and runs it as a turn
func (vc *voiceConn) endTurn() bool {
	audio, mimeType := vc.buffer.Flush()
	if len(audio) == 0 {
		vc.logger.Debug().Msg("end_turn with empty buffer, ignoring")
		return false
	}

	if vc.srv.transcriber == nil {
		vc.queue(messages.NewErrorMessage(vc.id, messages.ErrCodeSpeechError, "Speech recognition is not configured"))
		return false
	}

	desc, err := vc.srv.sessions.Describe(vc.id)
	if err != nil {
		return vc.turnFailed(err)
	}

	text, err := vc.srv.transcriber.Transcribe(vc.ctx, audio, mimeType, string(desc.Language))
	if err != nil {
		vc.logger.Warn().Err(err).Int("bytes", len(audio)).Msg("transcription failed")
		vc.queue(messages.NewErrorMessage(vc.id, messages.ErrCodeTranscriptionFailed, messages.CouldNotUnderstand))
		return false
	}

	vc.logger.Debug().Str("transcript", text).Msg("heard")
	return vc.turn(text, text)
}

func (vc *voiceConn) turn(text, heard string) bool {
	reply, err := vc.srv.sessions.Turn(vc.ctx, vc.id, text)
	if err != nil {
		return vc.turnFailed(err)
	}
	vc.respond(reply, heard)
	return false
}

// respond sends the assistant line, then its audio when speech is on
func (vc *voiceConn) respond(reply session.Reply, heard string) {
	vc.queue(messages.NewTextMessage(vc.id, reply.Response, reply.Checkpoint, reply.Language, heard))

	if vc.srv.synth == nil {
		return
	}
	audio, err := vc.srv.synth.Synthesize(vc.ctx, reply.Response, string(reply.Language))
	if err != nil {
		vc.logger.Warn().Err(err).Str(logging.FieldCheckpoint, string(reply.Checkpoint)).Msg("speech synthesis failed")
		vc.queue(messages.NewErrorMessage(vc.id, messages.ErrCodeSpeechError, "Audio synthesis failed"))
		return
	}
	vc.queue(messages.NewAudioMessage(vc.id, base64.StdEncoding.EncodeToString(audio.Data), audio.MIMEType))
}

// turnFailed reports a failed turn and whether the connection should close
func (vc *voiceConn) turnFailed(err error) bool {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		vc.queue(messages.NewErrorMessage(vc.id, messages.ErrCodeSessionNotFound, "Session not found"))
		return true
	case errors.Is(err, dialogue.ErrMalformedUtterance):
		vc.queue(messages.NewErrorMessage(vc.id, messages.ErrCodeTurnRejected, "Message text is required"))
		return false
	case errors.Is(err, context.Canceled):
		return true
	default:
		vc.logger.Error().Err(err).Msg("voice turn failed")
		vc.queue(messages.NewErrorMessage(vc.id, messages.ErrCodeInternal, genericFailure))
		return false
	}
}

// writePump handles all outgoing frames in a single goroutine
func (vc *voiceConn) writePump() {
	defer close(vc.pumpDone)
	defer vc.conn.Close()

	var ping <-chan time.Time
	if keepAlive := vc.srv.config.KeepAlivePeriod; keepAlive > 0 {
		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-vc.closeChan:
			vc.drain()
			_ = vc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = vc.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ping:
			_ = vc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := vc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				vc.Close()
				return
			}
		case msg := <-vc.writeChan:
			if err := vc.write(msg); err != nil {
				vc.logger.Debug().Err(err).Msg("voice write failed")
				vc.Close()
				return
			}
		}
	}
}

// drain flushes frames queued before close so the last reply still goes out
func (vc *voiceConn) drain() {
	for {
		select {
		case msg := <-vc.writeChan:
			if err := vc.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (vc *voiceConn) write(msg any) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	_ = vc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return vc.conn.WriteMessage(websocket.TextMessage, data)
}

// queue adds a frame to the write queue without blocking
func (vc *voiceConn) queue(msg any) {
	if vc.isClosed() {
		return
	}
	select {
	case vc.writeChan <- msg:
	default:
		vc.logger.Warn().Msg("voice write queue full, dropping frame")
	}
}

func (vc *voiceConn) isClosed() bool {
	select {
	case <-vc.closeChan:
		return true
	default:
		return false
	}
}

// Close hangs up. The write pump sends the close frame and closes the socket.
func (vc *voiceConn) Close() {
	vc.closeOnce.Do(func() {
		vc.cancel()
		vc.buffer.Clear()
		close(vc.closeChan)
	})
}
