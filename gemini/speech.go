package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/room4-2/ordercall/metrics"
)

// ErrNoSpeech is returned when the transcriber hears nothing
var ErrNoSpeech = errors.New("no speech recognized")

// DefaultAudioMIMEType is what Gemini speech output is when the response does
// not say otherwise
const DefaultAudioMIMEType = "audio/pcm;rate=24000"

// Audio is synthesized speech
type Audio struct {
	Data     []byte
	MIMEType string
}

// Synthesizer turns assistant text into speech with a prebuilt voice
type Synthesizer struct {
	models generator
	model  string
	voice  string
}

// NewSynthesizer returns a text-to-speech client
func NewSynthesizer(client *genai.Client, model, voice string) *Synthesizer {
	return newSynthesizer(client.Models, model, voice)
}

func newSynthesizer(models generator, model, voice string) *Synthesizer {
	if voice == "" {
		voice = "Zephyr" // Available voices: Puck, Charon, Kore, Fenrir, Aoede, Leda, Orus, Zephyr
	}
	return &Synthesizer{models: models, model: model, voice: voice}
}

// Synthesize speaks text. language is "ar" or "en"; anything else is English.
func (s *Synthesizer) Synthesize(ctx context.Context, text, language string) (Audio, error) {
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			LanguageCode: speechLanguageCode(language),
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: s.voice,
				},
			},
		},
	}

	resp, err := s.models.GenerateContent(ctx, s.model, genai.Text(text), config)
	if err != nil {
		metrics.RecordSpeech("synthesize", "error")
		return Audio{}, fmt.Errorf("synthesize speech: %w", err)
	}

	blob, ok := firstInlineData(resp)
	if !ok {
		metrics.RecordSpeech("synthesize", "empty")
		return Audio{}, ErrEmptyResponse
	}

	metrics.RecordSpeech("synthesize", "ok")
	mime := blob.MIMEType
	if mime == "" {
		mime = DefaultAudioMIMEType
	}
	return Audio{Data: blob.Data, MIMEType: mime}, nil
}

// Transcriber turns customer audio into text
type Transcriber struct {
	models generator
	model  string
}

// NewTranscriber returns a speech-to-text client
func NewTranscriber(client *genai.Client, model string) *Transcriber {
	return newTranscriber(client.Models, model)
}

func newTranscriber(models generator, model string) *Transcriber {
	return &Transcriber{models: models, model: model}
}

// Transcribe returns what was said in audio. language is a hint.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, mimeType, language string) (string, error) {
	if len(audio) == 0 {
		return "", ErrNoSpeech
	}
	if mimeType == "" {
		mimeType = "audio/pcm;rate=16000"
	}

	hint := "English"
	if language == "ar" {
		hint = "Arabic (Gulf dialect)"
	}
	prompt := fmt.Sprintf("Transcribe this customer audio verbatim. The expected language is %s. "+
		"Return only the transcript, or an empty answer if nothing was said.", hint)

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(prompt),
			genai.NewPartFromBytes(audio, mimeType),
		}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	}

	resp, err := t.models.GenerateContent(ctx, t.model, contents, config)
	if err != nil {
		metrics.RecordSpeech("transcribe", "error")
		return "", fmt.Errorf("transcribe audio: %w", err)
	}

	text := strings.TrimSpace(responseText(resp))
	if text == "" {
		metrics.RecordSpeech("transcribe", "empty")
		return "", ErrNoSpeech
	}
	metrics.RecordSpeech("transcribe", "ok")
	return text, nil
}

func speechLanguageCode(language string) string {
	if language == "ar" {
		return "ar-EG"
	}
	return "en-US"
}
