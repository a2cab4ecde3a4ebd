package provider

import (
	"context"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/teilomillet/chatrelay/config"
)

// Azure calls the Azure OpenAI chat completions API:
// POST {endpoint}/openai/deployments/{deployment}/chat/completions?api-version=...
// authenticated with the api-key header.
type Azure struct {
	client *openai.Client
}

// NewAzure creates an Azure OpenAI backend. cfg.Timeout bounds each call.
func NewAzure(cfg config.ProviderConfig) *Azure {
	oc := openai.DefaultAzureConfig(cfg.APIKey, strings.TrimRight(cfg.Endpoint, "/"))
	if cfg.APIVersion != "" {
		oc.APIVersion = cfg.APIVersion
	}
	// Deployment names are used as-is; the default mapper strips dots.
	oc.AzureModelMapperFunc = func(model string) string { return model }
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Azure{client: openai.NewClientWithConfig(oc)}
}

// Name implements Provider.
func (a *Azure) Name() string { return "azure" }

// Complete implements Provider. Choices are copied verbatim.
func (a *Azure) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    req.Deployment,
		Messages: msgs,
	})
	if err != nil {
		return nil, err
	}

	out := &Completion{Choices: make([]Choice, 0, len(resp.Choices))}
	for _, c := range resp.Choices {
		out.Choices = append(out.Choices, Choice{
			Message: Message{Role: c.Message.Role, Content: c.Message.Content},
		})
	}
	return out, nil
}
