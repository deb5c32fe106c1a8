package domain

import "context"

// InferenceClient defines the interface for a multimodal model that turns an
// image plus an instruction prompt into free-form text
type InferenceClient interface {
	Generate(ctx context.Context, image []byte, mimeType, prompt string) (string, error)
}
