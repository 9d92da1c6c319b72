// Package session derives stable conversation identifiers for inbound
// messages. Given a channel and a normalized sender identity, it decides
// whether a message continues an existing conversation or starts a new one,
// and produces the versioned session id handed to the downstream query API.
package session

import (
	"fmt"
	"regexp"
	"time"
)

// Channel identifies the transport a message arrived on.
type Channel string

const (
	// ChannelSMS is plain SMS via the Twilio webhook.
	ChannelSMS Channel = "sms"
	// ChannelWhatsApp is WhatsApp via the Twilio webhook.
	ChannelWhatsApp Channel = "whatsapp"
	// ChannelEmail is email via the Gmail poller.
	ChannelEmail Channel = "email"
)

// DefaultChatGap is the inactivity gap after which an SMS/WhatsApp
// conversation is considered ended.
const DefaultChatGap = 24 * time.Hour

// DefaultMailGap is reserved for time-based email expiry. The email strategy
// is equality-based and does not enforce it.
const DefaultMailGap = 7 * 24 * time.Hour

// NewSessionPhrase triggers a version bump when it appears anywhere in an
// inbound chat message, regardless of elapsed time.
const NewSessionPhrase = "new session"

// Record is the persisted state of one conversation thread.
// Superseded versions are archived under a derived key and marked inactive;
// the record stored at SessionKey is always the current version.
type Record struct {
	// SessionKey is the durable lookup key, derived from channel and
	// normalized identifiers. It never changes across versions.
	SessionKey string `json:"sessionKey" dynamodbav:"session_key" firestore:"session_key"`
	// SessionID is the externally visible identifier passed to the query
	// API. The version is embedded, so ids are unique across versions.
	SessionID string `json:"sessionId" dynamodbav:"session_id" firestore:"session_id"`
	// Version starts at 1 and increments each time a new session
	// supersedes a prior one under the same key.
	Version int64 `json:"version" dynamodbav:"version" firestore:"version"`
	// Channel is the transport this conversation lives on.
	Channel Channel `json:"channel" dynamodbav:"channel" firestore:"channel"`
	// CreatedAt and LastActivity are epoch milliseconds.
	CreatedAt    int64 `json:"createdAt" dynamodbav:"created_at" firestore:"created_at"`
	LastActivity int64 `json:"lastActivity" dynamodbav:"last_activity" firestore:"last_activity"`
	// Active is false once a record has been superseded.
	Active bool `json:"active" dynamodbav:"active" firestore:"active"`

	// Correlation fields, used only for key derivation.
	Phone   string `json:"phone,omitempty" dynamodbav:"phone,omitempty" firestore:"phone,omitempty"`
	Sender  string `json:"sender,omitempty" dynamodbav:"sender,omitempty" firestore:"sender,omitempty"`
	Subject string `json:"subject,omitempty" dynamodbav:"subject,omitempty" firestore:"subject,omitempty"`
}

// Malformed reports whether the record is missing fields a well-formed
// record always has. Malformed records are treated as "no active session"
// rather than an error, so schema drift never blocks a reply.
func (r *Record) Malformed() bool {
	return r.Version <= 0 || r.LastActivity <= 0 || r.SessionID == ""
}

// ArchiveKey returns the key a superseded version is stored under.
func (r *Record) ArchiveKey() string {
	return fmt.Sprintf("%s#v%d", r.SessionKey, r.Version)
}

// idGrammar is the character set the downstream query API accepts for
// session ids. No plus, no at sign, no spaces.
var idGrammar = regexp.MustCompile(`^[0-9a-zA-Z._:-]+$`)

// ValidID reports whether id satisfies the query API's session id grammar.
func ValidID(id string) bool {
	return id != "" && idGrammar.MatchString(id)
}

// ChatKey returns the store key for an SMS/WhatsApp conversation.
func ChatKey(ch Channel, normalizedPhone string) string {
	return string(ch) + "-" + normalizedPhone
}

// EmailKey returns the store key for an email conversation. The subject is
// slugged, so subjects that differ only in punctuation share a key; the
// resolver detects that with its stored-pair equality check and rotates.
func EmailKey(normalizedSubject, normalizedSender string) string {
	return "email-subject:" + SlugForID(normalizedSubject) + "|from:" + normalizedSender
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}
