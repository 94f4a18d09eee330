// Package email delivers one-time codes. It supports development mode (log),
// direct SMTP delivery and asynchronous delivery through Kafka.
package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"
)

// Delivery modes
const (
	ModeLog   = "log"
	ModeSMTP  = "smtp"
	ModeKafka = "kafka"
)

// Sender delivers an OTP to a recipient. A nil error means the code was
// handed to the transport.
type Sender interface {
	SendOTP(ctx context.Context, recipient, code string) error
}

// EventSender can also deliver a queued EmailEvent; used by the email worker
type EventSender interface {
	Sender
	SendEmailEvent(ctx context.Context, event EmailEvent) error
}

// Config holds email configuration
type Config struct {
	Mode     string // "log", "smtp" or "kafka"
	Host     string
	Port     int
	User     string
	Password string
	From     string
	FromName string
}

// NewConfig creates a new email configuration from environment variables
func NewConfig() (*Config, error) {
	port := 587
	if raw := os.Getenv("SMTP_PORT"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("SMTP_PORT: invalid integer %q", raw)
		}
		port = p
	}

	cfg := &Config{
		Mode:     strings.ToLower(getEnvOrDefault("EMAIL_MODE", ModeLog)),
		Host:     os.Getenv("SMTP_HOST"),
		Port:     port,
		User:     os.Getenv("SMTP_USER"),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     getEnvOrDefault("SMTP_FROM", "noreply@example.com"),
		FromName: getEnvOrDefault("SMTP_FROM_NAME", "Auth Service"),
	}
	return cfg, cfg.Validate()
}

// Validate checks mode-specific settings
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeLog, ModeKafka:
		return nil
	case ModeSMTP:
		if c.Host == "" {
			return errors.New("SMTP_HOST is required when EMAIL_MODE=smtp")
		}
		if c.Port <= 0 {
			return errors.New("SMTP_PORT must be positive")
		}
		return nil
	default:
		return fmt.Errorf("unsupported EMAIL_MODE %q", c.Mode)
	}
}

// NewSender creates a direct sender (log or SMTP). Kafka delivery is built
// with NewKafkaSender because it needs a producer.
func NewSender(cfg *Config, logger *slog.Logger) EventSender {
	if cfg.Mode == ModeSMTP {
		return &smtpSender{config: cfg, logger: logger}
	}
	return &logSender{logger: logger}
}

// logSender logs codes instead of sending them (development mode)
type logSender struct {
	logger *slog.Logger
}

func (s *logSender) SendOTP(ctx context.Context, recipient, code string) error {
	s.logger.Info("[DEV] OTP code", "email", recipient, "code", code, "expires_in", OTPExpiresIn.String())
	return nil
}

func (s *logSender) SendEmailEvent(ctx context.Context, event EmailEvent) error {
	return dispatch(ctx, s, event)
}

// smtpSender sends emails via SMTP (production mode)
type smtpSender struct {
	config *Config
	logger *slog.Logger
}

func (s *smtpSender) SendOTP(ctx context.Context, recipient, code string) error {
	message := s.buildMessage(recipient, "Your login code", buildOTPBody(code))

	if err := s.send(ctx, recipient, message); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("OTP code sent via SMTP", "email", recipient)
	return nil
}

func (s *smtpSender) SendEmailEvent(ctx context.Context, event EmailEvent) error {
	return dispatch(ctx, s, event)
}

func (s *smtpSender) buildMessage(recipient, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s <%s>\r\n", s.config.FromName, s.config.From)
	fmt.Fprintf(&b, "To: %s\r\n", recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

// send runs one SMTP exchange bounded by ctx
func (s *smtpSender) send(ctx context.Context, recipient string, message []byte) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.config.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if s.config.User != "" {
		auth := smtp.PlainAuth("", s.config.User, s.config.Password, s.config.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := c.Mail(s.config.From); err != nil {
		return err
	}
	if err := c.Rcpt(recipient); err != nil {
		return err
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(message); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	return c.Quit()
}

// dispatch routes a queued event to the sender's typed method
func dispatch(ctx context.Context, s Sender, event EmailEvent) error {
	switch event.EventType {
	case EmailTypeOTPCode:
		code, ok := event.Code()
		if !ok {
			return fmt.Errorf("invalid otp_code data")
		}
		return s.SendOTP(ctx, event.Recipient, code)
	default:
		return fmt.Errorf("unsupported email type: %s", event.EventType)
	}
}

func buildOTPBody(code string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Login Code</title>
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2 style="margin: 0 0 16px;">Your login code</h2>
    <p style="font-size: 16px;">Enter this code to finish signing in:</p>
    <div style="border: 2px solid #444; border-radius: 8px; padding: 16px; text-align: center; margin: 20px 0;">
        <span style="font-size: 32px; font-weight: bold; letter-spacing: 8px;">%s</span>
    </div>
    <p style="font-size: 14px; color: #666;">The code expires in <strong>%d minutes</strong> and can be used once.</p>
    <p style="font-size: 12px; color: #999;">If you did not try to sign in, you can ignore this email.</p>
</body>
</html>
`, code, int(OTPExpiresIn.Minutes()))
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
