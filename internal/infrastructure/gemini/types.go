package gemini

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/databowl/backend/internal/domain"
)

// generateRequest is the body of a models/{model}:generateContent call
type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

// generateResponse is the subset of the generateContent answer we read
type generateResponse struct {
	Candidates     []candidate     `json:"candidates"`
	PromptFeedback *promptFeedback `json:"promptFeedback,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

// buildRequest puts the image first and the instruction second, which gives
// vision models the picture as context for the prompt.
func buildRequest(image []byte, mimeType, prompt string) *generateRequest {
	return &generateRequest{
		Contents: []content{
			{
				Role: "user",
				Parts: []part{
					{InlineData: &inlineData{
						MimeType: mimeType,
						Data:     base64.StdEncoding.EncodeToString(image),
					}},
					{Text: prompt},
				},
			},
		},
	}
}

// text concatenates the text parts of the first candidate.
func (r *generateResponse) text() (string, error) {
	if len(r.Candidates) == 0 {
		if r.PromptFeedback != nil && r.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("%w: prompt blocked: %s", domain.ErrEmptyResponse, r.PromptFeedback.BlockReason)
		}
		return "", domain.ErrEmptyResponse
	}

	var sb strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}

	if sb.Len() == 0 {
		if reason := r.Candidates[0].FinishReason; reason != "" {
			return "", fmt.Errorf("%w: finish reason %s", domain.ErrEmptyResponse, reason)
		}
		return "", domain.ErrEmptyResponse
	}
	return sb.String(), nil
}
