// Package gmail wraps the Gmail API for inbound polling and outbound
// replies. Thread ids and reference headers are surfaced for reply
// construction only; conversation identity comes from (subject, sender)
// equality in pkg/session.
package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Message is one inbound email reduced to the fields the relay needs.
type Message struct {
	// ID is the Gmail message id, used to mark the message read.
	ID string
	// ThreadID is Gmail's thread id, used only when sending the reply.
	ThreadID string
	// MessageID is the RFC 2822 Message-ID header, for In-Reply-To.
	MessageID string
	// From is the raw From header (may be a display-name form).
	From string
	// Subject is the raw subject line.
	Subject string
	// Body is the extracted plain-text body.
	Body string
}

// Service reads and sends mail for the authorized account.
type Service struct {
	svc  *gmailapi.Service
	user string
}

// NewService builds a Gmail service from an OAuth client secret file and a
// stored token file.
func NewService(ctx context.Context, credentialsFile, tokenFile string) (*Service, error) {
	secret, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read gmail credentials: %w", err)
	}

	oauthCfg, err := google.ConfigFromJSON(secret, gmailapi.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("parse gmail credentials: %w", err)
	}

	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("read gmail token: %w", err)
	}

	svc, err := gmailapi.NewService(ctx, option.WithTokenSource(oauthCfg.TokenSource(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	return &Service{svc: svc, user: "me"}, nil
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return tok, nil
}

// ListUnread returns unread inbox messages, oldest first.
func (s *Service) ListUnread(ctx context.Context) ([]Message, error) {
	list, err := s.svc.Users.Messages.List(s.user).
		Q("is:unread in:inbox").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list unread messages: %w", err)
	}

	messages := make([]Message, 0, len(list.Messages))
	for i := len(list.Messages) - 1; i >= 0; i-- {
		ref := list.Messages[i]
		full, err := s.svc.Users.Messages.Get(s.user, ref.Id).
			Format("full").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("get message %s: %w", ref.Id, err)
		}
		messages = append(messages, FromAPIMessage(full))
	}

	return messages, nil
}

// MarkRead removes the UNREAD label so a message is not processed twice.
func (s *Service) MarkRead(ctx context.Context, id string) error {
	_, err := s.svc.Users.Messages.Modify(s.user, id, &gmailapi.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	return nil
}

// SendReply sends body back to the original sender on the same thread,
// with a Re: subject and reply-chain headers so the recipient's client
// threads it correctly.
func (s *Service) SendReply(ctx context.Context, original Message, body string) error {
	if original.From == "" {
		return errors.New("original message has no sender")
	}

	raw := BuildReplyRFC2822(original, body)
	_, err := s.svc.Users.Messages.Send(s.user, &gmailapi.Message{
		Raw:      base64.URLEncoding.EncodeToString([]byte(raw)),
		ThreadId: original.ThreadID,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("send reply: %w", err)
	}

	return nil
}

// FromAPIMessage reduces a full Gmail API message to a Message.
func FromAPIMessage(m *gmailapi.Message) Message {
	msg := Message{
		ID:       m.Id,
		ThreadID: m.ThreadId,
	}
	if m.Payload == nil {
		return msg
	}

	msg.From = Header(m.Payload, "From")
	msg.Subject = Header(m.Payload, "Subject")
	msg.MessageID = Header(m.Payload, "Message-ID")
	msg.Body = ExtractText(m.Payload)

	return msg
}

// Header returns a header value from a message part, case-insensitively.
func Header(p *gmailapi.MessagePart, name string) string {
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// ExtractText pulls the plain-text body out of a message payload,
// preferring text/plain parts and descending into multipart containers.
// The Gmail API base64url-encodes body data.
func ExtractText(p *gmailapi.MessagePart) string {
	if p == nil {
		return ""
	}

	if strings.HasPrefix(p.MimeType, "text/plain") && p.Body != nil && p.Body.Data != "" {
		return decodeBody(p.Body.Data)
	}

	// Prefer a text/plain descendant over text/html.
	for _, part := range p.Parts {
		if strings.HasPrefix(part.MimeType, "text/plain") {
			if text := ExtractText(part); text != "" {
				return text
			}
		}
	}
	for _, part := range p.Parts {
		if text := ExtractText(part); text != "" {
			return text
		}
	}

	if p.Body != nil && p.Body.Data != "" {
		return decodeBody(p.Body.Data)
	}

	return ""
}

func decodeBody(data string) string {
	decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return ""
	}
	return string(decoded)
}

// BuildReplyRFC2822 builds the raw reply message.
func BuildReplyRFC2822(original Message, body string) string {
	subject := original.Subject
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:") {
		subject = "Re: " + subject
	}

	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\r\n", original.From)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	if original.MessageID != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", original.MessageID)
		fmt.Fprintf(&b, "References: %s\r\n", original.MessageID)
	}
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)

	return b.String()
}
