package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	appErrors "github.com/unclebandit/chaser-backend/internal/errors"
	"github.com/unclebandit/chaser-backend/internal/logging"
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type ChatConfig struct {
	BaseURL   string
	AccountID string
	Token     string
	Timeout   time.Duration
}

// HTTPChatSender posts messages to a chat provider's REST API.
type HTTPChatSender struct {
	cfg    ChatConfig
	client HTTPDoer
	log    *slog.Logger
}

func NewHTTPChatSender(cfg ChatConfig, client HTTPDoer, log *slog.Logger) *HTTPChatSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPChatSender{cfg: cfg, client: client, log: log}
}

type chatResponse struct {
	ID         string `json:"id"`
	PriceMinor int64  `json:"price_minor"`
	Error      string `json:"error"`
}

func (s *HTTPChatSender) SendChatMessage(ctx context.Context, msg ChatMessage) (string, int64, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	url := fmt.Sprintf("%s/v1/accounts/%s/messages", s.cfg.BaseURL, s.cfg.AccountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", 0, appErrors.NewProviderError("chat", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", 0, appErrors.NewProviderError("chat", err)
	}
	var out chatResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := out.Error
		if detail == "" {
			detail = strings.TrimSpace(string(raw))
		}
		return "", 0, appErrors.NewProviderError("chat", fmt.Errorf("HTTP %d: %s", resp.StatusCode, detail))
	}
	if out.ID == "" {
		return "", 0, appErrors.NewProviderError("chat", fmt.Errorf("response missing message id"))
	}
	s.log.Debug("chat message sent", "to", logging.RedactPhone(msg.To), "message_id", out.ID,
		"template", msg.TemplateID != "")
	return out.ID, out.PriceMinor, nil
}

var _ ChatSender = (*HTTPChatSender)(nil)
