package email

import (
	"time"

	"github.com/google/uuid"
)

// EmailEventType represents the type of email to be sent
type EmailEventType string

const (
	// EmailTypeOTPCode carries a one-time login code
	EmailTypeOTPCode EmailEventType = "otp_code"
)

// OTPExpiresIn is shown to the recipient; it matches the verification window
const OTPExpiresIn = 5 * time.Minute

// EmailEvent is the message published to Kafka and consumed by the email worker
type EmailEvent struct {
	// MessageID is a UUID used for deduplication on the consumer side
	MessageID string         `json:"message_id"`
	EventType EmailEventType `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Recipient string         `json:"recipient"`
	// Data for otp_code: {"code": "123456", "expires_in": "5m0s"}
	Data map[string]any `json:"data"`
}

// NewOTPEvent builds an otp_code event for recipient
func NewOTPEvent(recipient, code string, now time.Time) EmailEvent {
	return EmailEvent{
		MessageID: uuid.NewString(),
		EventType: EmailTypeOTPCode,
		Timestamp: now.UTC(),
		Recipient: recipient,
		Data: map[string]any{
			"code":       code,
			"expires_in": OTPExpiresIn.String(),
		},
	}
}

// Code extracts the OTP from an otp_code event
func (e EmailEvent) Code() (string, bool) {
	code, ok := e.Data["code"].(string)
	return code, ok && code != ""
}

// EmailMetadata represents metadata stored in Redis for deduplication
type EmailMetadata struct {
	SentAt    time.Time      `json:"sent_at"`
	Recipient string         `json:"recipient"`
	EventType EmailEventType `json:"event_type"`
}
