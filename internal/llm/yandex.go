package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/Morwran/yagpt"
)

// YandexClient talks to YandexGPT. The API has no function calling, so Request.Tools is
// ignored and tool turns already in history are folded into plain text.
type YandexClient struct {
	ya       yagpt.YaGPTFace
	iamToken string
}

func NewYandex(oauthToken, folderID string) (*YandexClient, error) {
	iam, err := yagpt.NewYaIam(oauthToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init yandex iam: %w", err)
	}
	resp, err := iam.Create()
	if err != nil {
		return nil, fmt.Errorf("failed to create iam token: %w", err)
	}

	ya, err := yagpt.NewYagpt(folderID)
	if err != nil {
		return nil, fmt.Errorf("failed to init yagpt: %w", err)
	}

	return &YandexClient{
		ya:       ya,
		iamToken: resp.IamToken,
	}, nil
}

func (c *YandexClient) Generate(ctx context.Context, req Request) (Response, error) {
	messages := toYandexMessages(req.Messages)
	resp, err := c.ya.CompletionWithCtx(ctx, c.iamToken, messages)
	if err != nil {
		return Response{}, Classify(fmt.Errorf("yagpt completion failed: %w", err))
	}
	if resp == nil || len(resp.Alternatives) == 0 {
		return Response{}, &Error{Kind: KindUnknown, Cause: ErrEmptyResponse}
	}
	out := Response{Content: resp.Alternatives[0].Message.Content, Model: yagpt.YaModelLite}
	out.PromptTokens = int(resp.Usage.InputTextTokens)
	out.CompletionTokens = int(resp.Usage.CompletionTokens)
	out.TotalTokens = int(resp.Usage.TotalTokens)
	return out, nil
}

func toYandexMessages(in []Message) []yagpt.Message {
	out := make([]yagpt.Message, 0, len(in))
	for _, m := range in {
		switch m.Role {
		case RoleTool:
			out = append(out, yagpt.Message{Role: RoleUser, Content: fmt.Sprintf("[tool %s result]\n%s", m.Name, m.Content)})
		case RoleAssistant:
			if strings.TrimSpace(m.Content) == "" {
				continue
			}
			out = append(out, yagpt.Message{Role: m.Role, Content: m.Content})
		default:
			out = append(out, yagpt.Message{Role: m.Role, Content: m.Content})
		}
	}
	return out
}
