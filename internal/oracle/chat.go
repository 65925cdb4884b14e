package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
)

// Chat is an Oracle backed by a langchaingo chat model. Every call carries
// its own timeout so a hung backend can never stall the run loop.
type Chat struct {
	model   llms.Model
	timeout time.Duration
}

// NewChat wraps a chat model. A timeout of zero disables the per-call
// deadline.
func NewChat(model llms.Model, timeout time.Duration) *Chat {
	return &Chat{model: model, timeout: timeout}
}

func (c *Chat) Decide(ctx context.Context, system, user string, image []byte) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	parts := []llms.ContentPart{llms.TextPart(user)}
	if len(image) > 0 {
		parts = append(parts, llms.BinaryPart("image/png", image))
	}

	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(system)},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: parts,
		},
	}

	resp, err := c.model.GenerateContent(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("model call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	return resp.Choices[0].Content, nil
}
