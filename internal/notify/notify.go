// Package notify hands verification notices to the message queue. Delivery of
// the actual email happens out of band, in the mailer worker.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// AttrType is the message attribute carrying the notice type.
	AttrType = "type"
	// TypeVerification marks an email verification notice.
	TypeVerification = "email.verification"
)

// VerificationNotice is everything the mailer needs to send a verification email.
type VerificationNotice struct {
	AccountID int64     `json:"account_id"`
	Handle    string    `json:"handle"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (n VerificationNotice) validate() error {
	switch {
	case n.AccountID < 1:
		return errors.New("account id is required")
	case strings.TrimSpace(n.Email) == "":
		return errors.New("email is required")
	case n.Token == "":
		return errors.New("token is required")
	}
	return nil
}

// Publisher is the subset of the message queue used to send notices.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// QueueNotifier publishes notices onto a queue channel.
type QueueNotifier struct {
	publisher Publisher
	channel   string
}

func NewQueueNotifier(publisher Publisher, channel string) *QueueNotifier {
	return &QueueNotifier{publisher: publisher, channel: channel}
}

// SendVerification publishes notice and returns once the broker accepted it.
func (n *QueueNotifier) SendVerification(ctx context.Context, notice VerificationNotice) error {
	if err := notice.validate(); err != nil {
		return fmt.Errorf("invalid verification notice: %w", err)
	}
	data, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("encode verification notice: %w", err)
	}
	attrs := map[string]string{
		AttrType:     TypeVerification,
		"account_id": strconv.FormatInt(notice.AccountID, 10),
	}
	if _, err := n.publisher.Publish(ctx, n.channel, data, attrs); err != nil {
		return fmt.Errorf("publish verification notice: %w", err)
	}
	return nil
}

// DecodeVerification parses a notice published by SendVerification.
func DecodeVerification(data []byte) (VerificationNotice, error) {
	var notice VerificationNotice
	if err := json.Unmarshal(data, &notice); err != nil {
		return VerificationNotice{}, fmt.Errorf("decode verification notice: %w", err)
	}
	if err := notice.validate(); err != nil {
		return VerificationNotice{}, fmt.Errorf("invalid verification notice: %w", err)
	}
	return notice, nil
}
