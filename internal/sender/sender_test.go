package sender

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/chaser-backend/internal/errors"
)

type fakeSES struct {
	in  *sesv2.SendEmailInput
	err error
}

func (f *fakeSES) SendEmail(ctx context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-123")}, nil
}

func TestSESSender_SendEmail(t *testing.T) {
	api := &fakeSES{}
	s := newSESSender(api, "chaser", nil)

	id, err := s.SendEmail(context.Background(), "ada@example.com", "hello@smith.co", "Docs", "text", "<p>html</p>")
	require.NoError(t, err)
	assert.Equal(t, "ses-123", id)
	assert.Equal(t, "hello@smith.co", aws.ToString(api.in.FromEmailAddress))
	assert.Equal(t, []string{"ada@example.com"}, api.in.Destination.ToAddresses)
	assert.Equal(t, "<p>html</p>", aws.ToString(api.in.Content.Simple.Body.Html.Data))
	assert.Equal(t, "chaser", aws.ToString(api.in.ConfigurationSetName))
}

func TestSESSender_ProviderErrorVerbatim(t *testing.T) {
	s := newSESSender(&fakeSES{err: errors.New("MessageRejected: Email address is not verified.")}, "", nil)

	_, err := s.SendEmail(context.Background(), "ada@example.com", "x@y.z", "s", "t", "")
	require.Error(t, err)
	assert.Equal(t, "MessageRejected: Email address is not verified.", appErrors.Reason(err))
}

func TestHTTPChatSender(t *testing.T) {
	var got ChatMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts/acc1/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&got)) {
			return
		}
		if got.To == "+440000000000" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"recipient not reachable"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"wamid.1","price_minor":4}`))
	}))
	defer srv.Close()

	s := NewHTTPChatSender(ChatConfig{BaseURL: srv.URL + "/", AccountID: "acc1", Token: "tok"}, nil, nil)

	id, price, err := s.SendChatMessage(context.Background(), ChatMessage{From: "+441", To: "+447700900001", TemplateID: "tpl", Variables: map[string]string{"1": "Ada"}})
	require.NoError(t, err)
	assert.Equal(t, "wamid.1", id)
	assert.EqualValues(t, 4, price)
	assert.Equal(t, "Ada", got.Variables["1"])

	_, _, err = s.SendChatMessage(context.Background(), ChatMessage{To: "+440000000000", Text: "hi"})
	require.Error(t, err)
	assert.Equal(t, "HTTP 400: recipient not reachable", appErrors.Reason(err))
}

func TestHTTPChatSender_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	s := NewHTTPChatSender(ChatConfig{BaseURL: srv.URL, AccountID: "a", Timeout: 50 * time.Millisecond}, nil, nil)
	_, _, err := s.SendChatMessage(context.Background(), ChatMessage{To: "+1", Text: "hi"})
	assert.Error(t, err)
}
