package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// ChatStructured issues a chat completion constrained to JSON-mode output
// and decodes the response into out (a pointer). Temperature is fixed at
// 0 to keep structured extraction deterministic. Retries against
// transient failures are handled inside the Provider's transport; a
// non-nil error here means either the transport gave up or the response
// body did not decode against out.
func ChatStructured(ctx context.Context, p Provider, messages []Message, model string, out any) error {
	resp, err := p.Chat(ctx, ChatRequest{
		Model:          model,
		Messages:       messages,
		Temperature:    0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(resp.Content), out); err != nil {
		return fmt.Errorf("llm: structured response did not match requested shape: %w", err)
	}
	return nil
}
