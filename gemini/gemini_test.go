package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/room4-2/ordercall/classifier"
)

// fakeModels records the last request and answers with a canned response
type fakeModels struct {
	resp     *genai.GenerateContentResponse
	err      error
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.contents = contents
	f.config = config
	return f.resp, f.err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

func audioResponse(data []byte, mime string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{InlineData: &genai.Blob{Data: data, MIMEType: mime}}}},
		}},
	}
}

func TestClassifier_ClassifyLanguage(t *testing.T) {
	models := &fakeModels{resp: textResponse(`{"language": "Arabic"}`)}
	c := newClassifier(models, "gemini-test")

	lang, err := c.ClassifyLanguage(context.Background(), "Arabic or English?", "عربي")
	require.NoError(t, err)
	assert.Equal(t, classifier.LanguageArabic, lang)

	assert.Equal(t, "gemini-test", models.model)
	assert.Equal(t, "application/json", models.config.ResponseMIMEType)
	assert.Equal(t, []string{"arabic", "english"}, models.config.ResponseSchema.Properties["language"].Enum)
	assert.Contains(t, models.contents[0].Parts[0].Text, "Arabic or English?")
}

func TestClassifier_ExtractIdentity(t *testing.T) {
	tests := []struct {
		name string
		body string
		want classifier.Identity
	}{
		{"both", `{"name": "Ahmed Ali", "cpr": "880112345"}`, classifier.Identity{Name: "Ahmed Ali", NationalID: "880112345"}},
		{"nulls", `{"name": null, "cpr": null}`, classifier.Identity{}},
		{"fenced", "```json\n{\"name\": \"Sara\"}\n```", classifier.Identity{Name: "Sara"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClassifier(&fakeModels{resp: textResponse(tt.body)}, "m")
			id, err := c.ExtractIdentity(context.Background(), "...")
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestClassifier_ClassifyConfirmation(t *testing.T) {
	c := newClassifier(&fakeModels{resp: textResponse(`{"intent":"modify"}`)}, "m")
	intent, err := c.ClassifyConfirmation(context.Background(), "change the colour")
	require.NoError(t, err)
	assert.Equal(t, classifier.IntentModify, intent)
}

func TestClassifier_Failures(t *testing.T) {
	tests := []struct {
		name   string
		models *fakeModels
	}{
		{"transport", &fakeModels{err: errors.New("503")}},
		{"empty", &fakeModels{resp: &genai.GenerateContentResponse{}}},
		{"nil response", &fakeModels{}},
		{"not json", &fakeModels{resp: textResponse("confirm")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClassifier(tt.models, "m")
			_, err := c.ClassifyConfirmation(context.Background(), "yes")
			assert.ErrorIs(t, err, classifier.ErrUnavailable)
		})
	}
}

func TestClassifier_GatewayFallsBackOnGarbage(t *testing.T) {
	oracle := newClassifier(&fakeModels{resp: textResponse(`{"intent":"perhaps"}`)}, "m")
	g := classifier.NewGateway(classifier.WithOracle(oracle))

	assert.Equal(t, classifier.IntentModify, g.ClassifyConfirmation(context.Background(), "no"))
}

func TestSynthesizer(t *testing.T) {
	models := &fakeModels{resp: audioResponse([]byte{1, 2, 3, 4}, "audio/L16;codec=pcm;rate=24000")}
	s := newSynthesizer(models, "tts-model", "")

	audio, err := s.Synthesize(context.Background(), "مرحبا", "ar")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, audio.Data)
	assert.Equal(t, "audio/L16;codec=pcm;rate=24000", audio.MIMEType)

	assert.Equal(t, []string{"AUDIO"}, models.config.ResponseModalities)
	assert.Equal(t, "Zephyr", models.config.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)
	assert.Equal(t, "ar-EG", models.config.SpeechConfig.LanguageCode)
}

func TestSynthesizer_Errors(t *testing.T) {
	s := newSynthesizer(&fakeModels{resp: textResponse("no audio here")}, "m", "Kore")
	_, err := s.Synthesize(context.Background(), "hi", "en")
	assert.ErrorIs(t, err, ErrEmptyResponse)

	s = newSynthesizer(&fakeModels{err: errors.New("quota")}, "m", "Kore")
	_, err = s.Synthesize(context.Background(), "hi", "en")
	assert.Error(t, err)
}

func TestSynthesizer_DefaultMIMEType(t *testing.T) {
	s := newSynthesizer(&fakeModels{resp: audioResponse([]byte{9}, "")}, "m", "Kore")
	audio, err := s.Synthesize(context.Background(), "hi", "en")
	require.NoError(t, err)
	assert.Equal(t, DefaultAudioMIMEType, audio.MIMEType)
}

func TestTranscriber(t *testing.T) {
	models := &fakeModels{resp: textResponse("  yes that's correct \n")}
	tr := newTranscriber(models, "stt-model")

	text, err := tr.Transcribe(context.Background(), []byte{0, 1, 0, 1}, "", "en")
	require.NoError(t, err)
	assert.Equal(t, "yes that's correct", text)

	parts := models.contents[0].Parts
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0].Text, "English")
	assert.Equal(t, "audio/pcm;rate=16000", parts[1].InlineData.MIMEType)
}

func TestTranscriber_NoSpeech(t *testing.T) {
	tr := newTranscriber(&fakeModels{resp: textResponse("   ")}, "m")

	_, err := tr.Transcribe(context.Background(), []byte{1}, "audio/webm", "ar")
	assert.ErrorIs(t, err, ErrNoSpeech)

	_, err = tr.Transcribe(context.Background(), nil, "audio/webm", "ar")
	assert.ErrorIs(t, err, ErrNoSpeech)
}
