package sync

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	defaultSubject  = "No Subject"
	previewLength   = 200
	previewEllipsis = "..."
	plainTextType   = "text/plain"
)

// fromPattern matches `Display Name <email@host>`.
var fromPattern = regexp.MustCompile(`^(.+?)\s*<(.+?)>$`)

// Normalizer maps RemoteMessages into the local email schema. The category is
// left empty; the classifier assigns it.
type Normalizer struct {
	log *zap.Logger
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(log *zap.Logger) *Normalizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Normalizer{log: log}
}

// Normalize converts msg into an Email. Body decode failures yield an empty
// full body; an unparsable internal date is an error.
func (n *Normalizer) Normalize(msg RemoteMessage) (Email, error) {
	if msg.ID == "" {
		return Email{}, fmt.Errorf("message has no id")
	}

	receivedAt, err := parseInternalDate(msg.InternalDate)
	if err != nil {
		return Email{}, fmt.Errorf("message %s: %w", msg.ID, err)
	}

	subject := headerValue(msg.Headers, "Subject")
	if subject == "" {
		subject = defaultSubject
	}
	senderEmail, senderName := parseSender(headerValue(msg.Headers, "From"))

	fullBody := n.selectBody(msg)

	return Email{
		ExternalID:  msg.ID,
		ThreadID:    msg.ThreadID,
		Subject:     subject,
		SenderEmail: senderEmail,
		SenderName:  senderName,
		BodyPreview: buildPreview(fullBody, msg.Snippet),
		FullBody:    fullBody,
		ReceivedAt:  receivedAt,
	}, nil
}

// selectBody prefers the top-level body, then the first text/plain part.
func (n *Normalizer) selectBody(msg RemoteMessage) string {
	var data string
	switch {
	case msg.Body != nil && msg.Body.Data != "":
		data = msg.Body.Data
	default:
		for _, part := range msg.Parts {
			if strings.EqualFold(part.MimeType, plainTextType) && part.Body != nil && part.Body.Data != "" {
				data = part.Body.Data
				break
			}
		}
	}
	if data == "" {
		return ""
	}

	body, err := DecodeBody(data)
	if err != nil {
		n.log.Warn("decode message body", zap.String("external_id", msg.ID), zap.Error(err))
		return ""
	}
	return body
}

func headerValue(headers []Header, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return strings.TrimSpace(h.Value)
		}
	}
	return ""
}

// parseSender splits a From header. Without a display name the raw value is
// the address and the name is nil.
func parseSender(from string) (string, *string) {
	m := fromPattern.FindStringSubmatch(from)
	if m == nil {
		return strings.TrimSpace(from), nil
	}

	addr := strings.TrimSpace(m[2])
	name := strings.TrimSpace(strings.Trim(strings.TrimSpace(m[1]), `"'`))
	if name == "" {
		return addr, nil
	}
	return addr, &name
}

func buildPreview(fullBody, snippet string) string {
	bodyLen := utf8.RuneCountInString(fullBody)
	if bodyLen <= utf8.RuneCountInString(snippet) {
		return snippet
	}
	if bodyLen <= previewLength {
		return fullBody
	}
	runes := []rune(fullBody)
	return string(runes[:previewLength]) + previewEllipsis
}

func parseInternalDate(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid internal date %q: %w", raw, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
