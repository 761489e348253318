package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"google.golang.org/genai"

	"github.com/room4-2/ordercall/classifier"
)

const classifierInstruction = "You label short customer replies from a telecom sales call. " +
	"Replies may be in English, Arabic or Gulf dialect. Answer with JSON only."

// Classifier is the Gemini backed classification oracle
type Classifier struct {
	models generator
	model  string
}

var _ classifier.Oracle = (*Classifier)(nil)

// NewClassifier returns an oracle that calls model through client
func NewClassifier(client *genai.Client, model string) *Classifier {
	return newClassifier(client.Models, model)
}

func newClassifier(models generator, model string) *Classifier {
	return &Classifier{models: models, model: model}
}

func (c *Classifier) generate(ctx context.Context, prompt string, schema *genai.Schema, out any) error {
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: classifierInstruction}},
		},
		Temperature:      genai.Ptr[float32](0),
		MaxOutputTokens:  200,
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	}

	resp, err := c.models.GenerateContent(ctx, c.model, genai.Text(prompt), config)
	if err != nil {
		return fmt.Errorf("%w: %v", classifier.ErrUnavailable, err)
	}

	text := strings.TrimSpace(responseText(resp))
	if text == "" {
		return fmt.Errorf("%w: %w", classifier.ErrUnavailable, ErrEmptyResponse)
	}
	if err := sonic.UnmarshalString(extractJSON(text), out); err != nil {
		return fmt.Errorf("%w: decode %q: %v", classifier.ErrUnavailable, text, err)
	}
	return nil
}

// ClassifyLanguage asks which language the customer picked
func (c *Classifier) ClassifyLanguage(ctx context.Context, promptContext, utterance string) (classifier.Language, error) {
	prompt := fmt.Sprintf("The customer just responded to: %q\n\nCustomer response: %q\n\n"+
		"Determine if they want Arabic or English.", promptContext, utterance)

	var out struct {
		Language string `json:"language"`
	}
	if err := c.generate(ctx, prompt, labelSchema("language", "arabic", "english"), &out); err != nil {
		return "", err
	}
	return classifier.Language(strings.ToLower(out.Language)), nil
}

// ExtractIdentity pulls the full name and CPR number out of the reply
func (c *Classifier) ExtractIdentity(ctx context.Context, utterance string) (classifier.Identity, error) {
	prompt := fmt.Sprintf("Extract customer information from this text: %q\n\n"+
		"name: full name if mentioned, otherwise null.\n"+
		"cpr: ID number if mentioned (9 digits), otherwise null.\n"+
		"Only include fields that are clearly stated.", utterance)

	var out struct {
		Name *string `json:"name"`
		CPR  *string `json:"cpr"`
	}
	if err := c.generate(ctx, prompt, identitySchema(), &out); err != nil {
		return classifier.Identity{}, err
	}

	var id classifier.Identity
	if out.Name != nil {
		id.Name = *out.Name
	}
	if out.CPR != nil {
		id.NationalID = *out.CPR
	}
	return id, nil
}

// ClassifyConfirmation asks whether the read-back was accepted
func (c *Classifier) ClassifyConfirmation(ctx context.Context, utterance string) (classifier.Intent, error) {
	prompt := fmt.Sprintf("Customer response to order confirmation: %q\n\n"+
		"Determine intent:\n"+
		"- \"confirm\" if they accept/agree\n"+
		"- \"modify\" if they want changes\n"+
		"- \"reject\" if they don't want it", utterance)

	var out struct {
		Intent string `json:"intent"`
	}
	if err := c.generate(ctx, prompt, labelSchema("intent", "confirm", "modify", "reject"), &out); err != nil {
		return "", err
	}
	return classifier.Intent(strings.ToLower(out.Intent)), nil
}

func labelSchema(field string, labels ...string) *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			field: {Type: genai.TypeString, Enum: labels},
		},
		Required: []string{field},
	}
}

func identitySchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"name": {Type: genai.TypeString, Nullable: genai.Ptr(true)},
			"cpr":  {Type: genai.TypeString, Nullable: genai.Ptr(true)},
		},
	}
}

// extractJSON trims anything around the outermost JSON object; models
// sometimes wrap JSON in a code fence even in JSON mode
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return text
	}
	return text[start : end+1]
}
