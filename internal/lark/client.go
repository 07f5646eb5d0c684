// Package lark connects the bot to Lark/Feishu: sending text and receiving message events.
package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	larksdk "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
)

// Frequency-limit codes returned by the open platform.
const (
	codeRateLimited     = 99991400
	codeChatRateLimited = 230020
)

// APIError is a non-zero code returned by the open platform.
type APIError struct {
	Code      int
	Msg       string
	RequestID string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lark api error %d: %s (request %s)", e.Code, e.Msg, e.RequestID)
}

// Retryable is true only for frequency limits; other codes describe bad requests.
func (e *APIError) Retryable() bool {
	return e.Code == codeRateLimited || e.Code == codeChatRateLimited
}

type messageCreator interface {
	Create(ctx context.Context, req *larkim.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkim.CreateMessageResp, error)
}

type Client struct {
	messages messageCreator
	logger   *slog.Logger
}

// NewClient builds an SDK client. baseURL may be empty for the default Feishu domain.
func NewClient(appID, appSecret, baseURL string, logger *slog.Logger) *Client {
	opts := []larksdk.ClientOptionFunc{larksdk.WithLogLevel(larkcore.LogLevelError)}
	if baseURL != "" {
		opts = append(opts, larksdk.WithOpenBaseUrl(baseURL))
	}
	sdk := larksdk.NewClient(appID, appSecret, opts...)
	return newClient(sdk.Im.Message, logger)
}

func newClient(messages messageCreator, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{messages: messages, logger: logger.With("component", "lark_client")}
}

// SendText posts a plain text message into a chat.
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("encode message content: %w", err)
	}
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			MsgType(larkim.MsgTypeText).
			ReceiveId(chatID).
			Content(string(content)).
			Build()).
		Build()

	resp, err := c.messages.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("send lark message: %w", err)
	}
	if !resp.Success() {
		apiErr := &APIError{Code: resp.Code, Msg: resp.Msg}
		if resp.ApiResp != nil {
			apiErr.RequestID = resp.RequestId()
		}
		return apiErr
	}
	if resp.Data != nil && resp.Data.MessageId != nil {
		c.logger.Debug("message sent", "chat_id", chatID, "message_id", *resp.Data.MessageId)
	}
	return nil
}
