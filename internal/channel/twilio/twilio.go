// Package twilio handles the inbound Twilio webhook payload and the
// outbound messages REST API for both SMS and WhatsApp.
package twilio

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/textrelay/textrelay/pkg/session"
)

const defaultAPIBase = "https://api.twilio.com/2010-04-01"

// Inbound is one parsed webhook message.
type Inbound struct {
	// Channel is sms or whatsapp, distinguished by the "whatsapp:" prefix
	// on the From field.
	Channel session.Channel
	// From is the raw sender identifier as Twilio sent it.
	From string
	// Body is the message text.
	Body string
	// MessageSID is Twilio's message identifier.
	MessageSID string
}

// ParseWebhook extracts a message from a Twilio webhook form post.
func ParseWebhook(r *http.Request) (Inbound, error) {
	if err := r.ParseForm(); err != nil {
		return Inbound{}, fmt.Errorf("parse webhook form: %w", err)
	}

	from := r.PostForm.Get("From")
	if from == "" {
		return Inbound{}, errors.New("webhook payload missing From")
	}

	ch := session.ChannelSMS
	if strings.HasPrefix(strings.ToLower(from), "whatsapp:") {
		ch = session.ChannelWhatsApp
	}

	return Inbound{
		Channel:    ch,
		From:       from,
		Body:       r.PostForm.Get("Body"),
		MessageSID: r.PostForm.Get("MessageSid"),
	}, nil
}

// ValidateSignature checks the X-Twilio-Signature header against the auth
// token: HMAC-SHA1 over the full URL followed by the sorted POST parameters,
// base64 encoded. An empty authToken disables validation (local testing).
func ValidateSignature(r *http.Request, authToken, publicURL string) bool {
	if authToken == "" {
		return true
	}

	if err := r.ParseForm(); err != nil {
		return false
	}

	keys := make([]string, 0, len(r.PostForm))
	for k := range r.PostForm {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	payload := publicURL
	for _, k := range keys {
		payload += k + r.PostForm.Get(k)
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(payload))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(r.Header.Get("X-Twilio-Signature")))
}

// Client sends messages through the Twilio REST API. Construct one per
// process and pass it by reference; it holds no hidden state beyond the
// injected http.Client.
type Client struct {
	accountSID   string
	authToken    string
	smsFrom      string
	whatsAppFrom string
	apiBase      string
	httpClient   *http.Client
}

// ClientConfig holds Twilio client configuration.
type ClientConfig struct {
	AccountSID   string
	AuthToken    string
	SMSFrom      string
	WhatsAppFrom string
	// APIBase overrides the Twilio endpoint (tests).
	APIBase string
	// HTTPClient overrides the transport (tests). Default: http.DefaultClient.
	HTTPClient *http.Client
}

// NewClient creates a Twilio REST client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("twilio account sid and auth token are required")
	}

	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = defaultAPIBase
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		accountSID:   cfg.AccountSID,
		authToken:    cfg.AuthToken,
		smsFrom:      cfg.SMSFrom,
		whatsAppFrom: cfg.WhatsAppFrom,
		apiBase:      apiBase,
		httpClient:   httpClient,
	}, nil
}

// Send delivers body to the recipient on the given channel. The recipient
// is whatever From value arrived on the webhook, so WhatsApp prefixes pass
// through untouched.
func (c *Client) Send(ctx context.Context, ch session.Channel, to, body string) error {
	from := c.smsFrom
	if ch == session.ChannelWhatsApp {
		from = c.whatsAppFrom
	}
	if from == "" {
		return fmt.Errorf("no sending number configured for channel %q", ch)
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.apiBase, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("twilio send failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	return nil
}

// EmptyTwiML is the webhook response that tells Twilio not to auto-reply.
// Replies go out through the REST API instead, so they can outlive the
// webhook deadline.
const EmptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
