// Package mailer turns verification notices from the queue into rendered
// email messages and drops them into the outbox bucket.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rtchat/authserver/internal/logging"
	"github.com/rtchat/authserver/internal/mq"
	"github.com/rtchat/authserver/internal/notify"
)

const (
	verifyPath       = "/auth/verify-email"
	messageMediaType = "message/rfc822"
	subject          = "Verify your email address"
)

var bodyTemplate = template.Must(template.New("verification").Parse(`<!DOCTYPE html>
<html>
<body>
<p>Hi {{.Handle}},</p>
<p>Confirm your email address to finish setting up your account:</p>
<p><a href="{{.Link}}">Verify email</a></p>
<p>This link expires at {{.ExpiresAt}}.</p>
</body>
</html>
`))

type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler mq.Handler) error
}

type Outbox interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
}

type Config struct {
	Channel   string
	PublicURL string
	From      string
}

// Worker consumes verification notices and writes one .eml object per notice.
type Worker struct {
	sub       Subscriber
	outbox    Outbox
	channel   string
	publicURL *url.URL
	from      *mail.Address
	log       logging.Logger
	now       func() time.Time
}

func NewWorker(sub Subscriber, outbox Outbox, cfg Config, log logging.Logger) (*Worker, error) {
	if strings.TrimSpace(cfg.Channel) == "" {
		return nil, errors.New("mailer channel is required")
	}
	base, err := url.Parse(cfg.PublicURL)
	if err != nil {
		return nil, fmt.Errorf("parse public url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("public url %q must be absolute", cfg.PublicURL)
	}
	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("parse sender address: %w", err)
	}
	if log == nil {
		log = logging.Discard()
	}

	return &Worker{
		sub:       sub,
		outbox:    outbox,
		channel:   cfg.Channel,
		publicURL: base,
		from:      from,
		log:       log,
		now:       time.Now,
	}, nil
}

// Run blocks consuming the notification channel until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info(ctx, "mailer started", "channel", w.channel)
	err := w.sub.Subscribe(ctx, w.channel, w.Handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Handle renders a single queue message into the outbox. Malformed messages
// are rejected permanently; outbox failures are retried by the broker.
func (w *Worker) Handle(ctx context.Context, msg mq.Message) error {
	if kind, ok := msg.Attributes[notify.AttrType]; ok && kind != notify.TypeVerification {
		w.log.Debug(ctx, "skipping message", "message_id", msg.ID, "type", kind)
		return nil
	}

	notice, err := notify.DecodeVerification(msg.Data)
	if err != nil {
		return mq.Permanent(err)
	}

	messageID := msg.ID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	body, err := w.Render(notice, messageID)
	if err != nil {
		return mq.Permanent(err)
	}

	key := OutboxKey(notice.AccountID, messageID)
	if err := w.outbox.Put(ctx, key, bytes.NewReader(body), int64(len(body)), messageMediaType); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}

	w.log.Info(ctx, "verification email queued", "account_id", notice.AccountID, "key", key)
	return nil
}

// Render builds the full RFC 5322 message for notice.
func (w *Worker) Render(notice notify.VerificationNotice, messageID string) ([]byte, error) {
	to := mail.Address{Name: notice.Handle, Address: notice.Email}

	var html bytes.Buffer
	err := bodyTemplate.Execute(&html, struct {
		Handle    string
		Link      string
		ExpiresAt string
	}{
		Handle:    notice.Handle,
		Link:      VerificationLink(w.publicURL, notice.AccountID, notice.Token),
		ExpiresAt: notice.ExpiresAt.UTC().Format(time.RFC1123),
	})
	if err != nil {
		return nil, fmt.Errorf("render verification email: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", w.from.String())
	fmt.Fprintf(&buf, "To: %s\r\n", to.String())
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "Date: %s\r\n", w.now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: <%s@%s>\r\n", messageID, w.publicURL.Hostname())
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.Write(html.Bytes())
	return buf.Bytes(), nil
}

// VerificationLink returns <base>/auth/verify-email?id=<id>&token=<token>.
func VerificationLink(base *url.URL, accountID int64, token string) string {
	link := *base
	link.Path = strings.TrimRight(base.Path, "/") + verifyPath
	q := url.Values{}
	q.Set("token", token)
	q.Set("id", strconv.FormatInt(accountID, 10))
	link.RawQuery = q.Encode()
	link.Fragment = ""
	return link.String()
}

// OutboxKey is the object key a verification message is stored under.
func OutboxKey(accountID int64, messageID string) string {
	return fmt.Sprintf("verification/%d/%s.eml", accountID, messageID)
}
