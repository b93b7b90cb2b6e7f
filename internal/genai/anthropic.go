package genai

import (
	"context"
	"errors"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	DefaultAnthropicModel = "claude-sonnet-4-5"
	defaultMaxTokens      = 4096
)

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicOption func(*AnthropicProvider)

func WithAnthropicModel(model string) AnthropicOption {
	return func(p *AnthropicProvider) {
		if m := strings.TrimSpace(model); m != "" {
			p.model = m
		}
	}
}

func WithAnthropicMaxTokens(n int) AnthropicOption {
	return func(p *AnthropicProvider) {
		if n > 0 {
			p.maxTokens = n
		}
	}
}

func WithPricing(pricing Pricing) AnthropicOption {
	return func(p *AnthropicProvider) { p.pricing = pricing }
}

func WithAnthropicMessager(m AnthropicMessager) AnthropicOption {
	return func(p *AnthropicProvider) {
		if m != nil {
			p.messages = m
		}
	}
}

type AnthropicProvider struct {
	messages  AnthropicMessager
	model     string
	maxTokens int
	pricing   Pricing
}

var _ Provider = (*AnthropicProvider)(nil)

func NewAnthropicProvider(apiKey string, opts ...AnthropicOption) (*AnthropicProvider, error) {
	p := &AnthropicProvider{
		model:     DefaultAnthropicModel,
		maxTokens: defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.messages == nil {
		apiKey = strings.TrimSpace(apiKey)
		if apiKey == "" {
			return nil, errors.New("anthropic api key is required")
		}
		c := anthropic.NewClient(option.WithAPIKey(apiKey))
		p.messages = &c.Messages
	}
	return p, nil
}

func (p *AnthropicProvider) GenerateCompletion(ctx context.Context, messages []Message, cc Context) (Completion, error) {
	params, err := p.buildParams(messages, cc)
	if err != nil {
		return Completion{}, classify(ctx, "anthropic", err)
	}

	resp, err := p.messages.New(ctx, params)
	if err != nil {
		return Completion{}, classify(ctx, "anthropic", err)
	}

	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return Completion{
		Text: sb.String(),
		Cost: p.pricing.Cost(resp.Usage.InputTokens, resp.Usage.OutputTokens),
	}, nil
}

func (p *AnthropicProvider) buildParams(messages []Message, cc Context) (anthropic.MessageNewParams, error) {
	model := p.model
	if m := strings.TrimSpace(cc.Model); m != "" {
		model = m
	}
	maxTokens := p.maxTokens
	if cc.MaxTokens > 0 {
		maxTokens = cc.MaxTokens
	}

	system := make([]string, 0, 1)
	if s := strings.TrimSpace(cc.SystemPrompt); s != "" {
		system = append(system, s)
	}
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if len(out) == 0 {
		return anthropic.MessageNewParams{}, errors.New("at least one non-system message is required")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  out,
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	return params, nil
}
