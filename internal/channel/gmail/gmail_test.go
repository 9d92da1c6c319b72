package gmail

import (
	"encoding/base64"
	"strings"
	"testing"

	gmailapi "google.golang.org/api/gmail/v1"
)

func b64url(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestHeader(t *testing.T) {
	part := &gmailapi.MessagePart{
		Headers: []*gmailapi.MessagePartHeader{
			{Name: "From", Value: "jane@x.com"},
			{Name: "subject", Value: "Login bug"},
			{Name: "Message-ID", Value: "<abc@mail.example.com>"},
		},
	}

	if got := Header(part, "From"); got != "jane@x.com" {
		t.Errorf("From = %q", got)
	}
	if got := Header(part, "Subject"); got != "Login bug" {
		t.Errorf("Subject (case-insensitive) = %q", got)
	}
	if got := Header(part, "message-id"); got != "<abc@mail.example.com>" {
		t.Errorf("Message-ID = %q", got)
	}
	if got := Header(part, "Date"); got != "" {
		t.Errorf("missing header = %q", got)
	}
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		part *gmailapi.MessagePart
		want string
	}{
		{
			name: "nil part",
			part: nil,
			want: "",
		},
		{
			name: "flat text plain",
			part: &gmailapi.MessagePart{
				MimeType: "text/plain",
				Body:     &gmailapi.MessagePartBody{Data: b64url("hello world")},
			},
			want: "hello world",
		},
		{
			name: "multipart prefers text plain over html",
			part: &gmailapi.MessagePart{
				MimeType: "multipart/alternative",
				Parts: []*gmailapi.MessagePart{
					{
						MimeType: "text/html",
						Body:     &gmailapi.MessagePartBody{Data: b64url("<p>hello</p>")},
					},
					{
						MimeType: "text/plain",
						Body:     &gmailapi.MessagePartBody{Data: b64url("hello")},
					},
				},
			},
			want: "hello",
		},
		{
			name: "nested multipart",
			part: &gmailapi.MessagePart{
				MimeType: "multipart/mixed",
				Parts: []*gmailapi.MessagePart{
					{
						MimeType: "multipart/alternative",
						Parts: []*gmailapi.MessagePart{
							{
								MimeType: "text/plain",
								Body:     &gmailapi.MessagePartBody{Data: b64url("nested body")},
							},
						},
					},
					{
						MimeType: "application/pdf",
						Body:     &gmailapi.MessagePartBody{Data: b64url("binary")},
					},
				},
			},
			want: "nested body",
		},
		{
			name: "html only falls through",
			part: &gmailapi.MessagePart{
				MimeType: "multipart/alternative",
				Parts: []*gmailapi.MessagePart{
					{
						MimeType: "text/html",
						Body:     &gmailapi.MessagePartBody{Data: b64url("<p>only html</p>")},
					},
				},
			},
			want: "<p>only html</p>",
		},
		{
			name: "empty payload",
			part: &gmailapi.MessagePart{MimeType: "text/plain"},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractText(tt.part); got != tt.want {
				t.Errorf("ExtractText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFromAPIMessage(t *testing.T) {
	m := &gmailapi.Message{
		Id:       "m1",
		ThreadId: "t1",
		Payload: &gmailapi.MessagePart{
			MimeType: "text/plain",
			Headers: []*gmailapi.MessagePartHeader{
				{Name: "From", Value: "Jane Doe <jane@x.com>"},
				{Name: "Subject", Value: "Login bug"},
				{Name: "Message-ID", Value: "<abc@mail.example.com>"},
			},
			Body: &gmailapi.MessagePartBody{Data: b64url("it broke")},
		},
	}

	got := FromAPIMessage(m)
	want := Message{
		ID:        "m1",
		ThreadID:  "t1",
		MessageID: "<abc@mail.example.com>",
		From:      "Jane Doe <jane@x.com>",
		Subject:   "Login bug",
		Body:      "it broke",
	}
	if got != want {
		t.Errorf("FromAPIMessage = %+v, want %+v", got, want)
	}

	// A message with no payload still carries its ids.
	bare := FromAPIMessage(&gmailapi.Message{Id: "m2", ThreadId: "t2"})
	if bare.ID != "m2" || bare.ThreadID != "t2" || bare.Body != "" {
		t.Errorf("bare = %+v", bare)
	}
}

func TestBuildReplyRFC2822(t *testing.T) {
	original := Message{
		From:      "Jane Doe <jane@x.com>",
		Subject:   "Login bug",
		MessageID: "<abc@mail.example.com>",
	}

	raw := BuildReplyRFC2822(original, "try logging out")

	for _, want := range []string{
		"To: Jane Doe <jane@x.com>\r\n",
		"Subject: Re: Login bug\r\n",
		"In-Reply-To: <abc@mail.example.com>\r\n",
		"References: <abc@mail.example.com>\r\n",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("reply missing %q:\n%s", want, raw)
		}
	}
	if !strings.HasSuffix(raw, "\r\n\r\ntry logging out") {
		t.Errorf("body not separated by blank line:\n%s", raw)
	}
}

func TestBuildReplyRFC2822SubjectAlreadyReply(t *testing.T) {
	raw := BuildReplyRFC2822(Message{
		From:    "jane@x.com",
		Subject: "Re: Login bug",
	}, "ok")

	if strings.Contains(raw, "Re: Re:") {
		t.Errorf("reply prefix doubled:\n%s", raw)
	}
	if !strings.Contains(raw, "Subject: Re: Login bug\r\n") {
		t.Errorf("subject mangled:\n%s", raw)
	}
}

func TestBuildReplyRFC2822NoMessageID(t *testing.T) {
	raw := BuildReplyRFC2822(Message{
		From:    "jane@x.com",
		Subject: "Login bug",
	}, "ok")

	if strings.Contains(raw, "In-Reply-To") || strings.Contains(raw, "References") {
		t.Errorf("reply-chain headers present without a Message-ID:\n%s", raw)
	}
}
