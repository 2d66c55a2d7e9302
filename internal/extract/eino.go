package extract

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"unicode/utf8"

	"github.com/cloudwego/eino-ext/components/model/openai"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// maxTextRunes caps the document text placed in a single prompt.
const maxTextRunes = 60000

type chatGenerator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error)
}

// ChatCompleter sends text documents through an OpenAI-compatible chat model.
type ChatCompleter struct {
	model chatGenerator
}

// NewChatCompleter builds an eino chat model against the OpenRouter endpoint.
func NewChatCompleter(ctx context.Context, cfg Config, httpClient *http.Client) (*ChatCompleter, error) {
	maxTokens := cfg.maxTokens()
	temperature := cfg.temperature()
	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		HTTPClient:  serviceHTTPClient(cfg, httpClient),
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("new chat model: %w", err)
	}
	return &ChatCompleter{model: cm}, nil
}

// Complete sends the document text as the user turn after the invoice prompt.
func (c *ChatCompleter) Complete(ctx context.Context, doc Document) (string, error) {
	text := string(doc.Data)
	if utf8.RuneCountInString(text) > maxTextRunes {
		text = string([]rune(text)[:maxTextRunes])
	}
	messages := []*schema.Message{
		{
			Role:    schema.System,
			Content: InvoicePrompt,
		},
		{
			Role:    schema.User,
			Content: fmt.Sprintf("Document name: %s\n\nDocument content:\n%s\n", doc.Name, text),
		},
	}
	resp, err := c.model.Generate(ctx, messages)
	if err != nil {
		return "", asStatusError(err)
	}
	if resp == nil || firstNonEmpty(resp.Content) == "" {
		return "", errEmptyCompletion
	}
	return resp.Content, nil
}

var statusCodePattern = regexp.MustCompile(`status code: (\d{3})`)

// asStatusError recovers the HTTP status the chat model library embeds in
// its error text so both transports classify the same way.
func asStatusError(err error) error {
	m := statusCodePattern.FindStringSubmatch(err.Error())
	if m == nil {
		return err
	}
	code, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return err
	}
	return fmt.Errorf("chat model: %w", &StatusError{StatusCode: code, Body: snippet(err.Error())})
}
