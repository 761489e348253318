package messages

import "github.com/room4-2/ordercall/dialogue"

// Error codes
const (
	ErrCodeInvalidMessage      = "INVALID_MESSAGE"
	ErrCodeSpeechError         = "SPEECH_ERROR"
	ErrCodeSessionNotFound     = "SESSION_NOT_FOUND"
	ErrCodeTranscriptionFailed = "TRANSCRIPTION_FAILED"
	ErrCodeTurnRejected        = "TURN_REJECTED"
	ErrCodeBufferFull          = "BUFFER_FULL"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// Message types
const (
	TypeAudio  = "audio"
	TypeText   = "text"
	TypeStatus = "status"
	TypeError  = "error"
)

// CouldNotUnderstand is sent when a customer's audio cannot be transcribed
const CouldNotUnderstand = "Sorry, I couldn't understand that. Could you repeat?"

// ServerMessage represents a message sent to the voice client
type ServerMessage struct {
	Type      string      `json:"type"` // "audio", "text", "status", "error"
	SessionID string      `json:"sessionId,omitempty"`
	Payload   interface{} `json:"payload"`
}

// AudioResponsePayload contains audio data for client
type AudioResponsePayload struct {
	Data     string `json:"data"`     // Base64-encoded audio
	MimeType string `json:"mimeType"` // e.g. "audio/pcm;rate=24000"
}

// TextResponsePayload is an assistant line and the checkpoint it left the call in
type TextResponsePayload struct {
	Text       string              `json:"text"`
	State      dialogue.Checkpoint `json:"state"`
	Language   dialogue.Language   `json:"language,omitempty"`
	Transcript string              `json:"transcript,omitempty"` // what was heard, for audio turns
}

// StatusPayload contains status updates
type StatusPayload struct {
	Status  string `json:"status"` // "connected", "pong", "ended"
	Message string `json:"message,omitempty"`
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAudioMessage creates an audio response message
func NewAudioMessage(sessionID, data, mimeType string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeAudio,
		SessionID: sessionID,
		Payload: AudioResponsePayload{
			Data:     data,
			MimeType: mimeType,
		},
	}
}

// NewTextMessage creates a text response message
func NewTextMessage(sessionID, text string, state dialogue.Checkpoint, lang dialogue.Language, transcript string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeText,
		SessionID: sessionID,
		Payload: TextResponsePayload{
			Text:       text,
			State:      state,
			Language:   lang,
			Transcript: transcript,
		},
	}
}

// NewStatusMessage creates a status message
func NewStatusMessage(sessionID, status, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeStatus,
		SessionID: sessionID,
		Payload: StatusPayload{
			Status:  status,
			Message: message,
		},
	}
}

// NewErrorMessage creates an error message
func NewErrorMessage(sessionID, code, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeError,
		SessionID: sessionID,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	}
}
