// Package messaging delivers one-time codes to phones.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/zooz/otpauth/internal/logger"
	"go.uber.org/zap"
)

// Sender delivers a text body to a phone number
type Sender interface {
	Send(ctx context.Context, phone, body string) error
}

// messageCreator is the subset of the Twilio API client used here
type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// TwilioConfig holds the Twilio credentials and the WhatsApp sender number
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
}

// WhatsAppSender sends messages through the Twilio WhatsApp channel
type WhatsAppSender struct {
	log    *zap.Logger
	client messageCreator
	from   string
}

// NewWhatsAppSender creates a sender backed by the Twilio REST client
func NewWhatsAppSender(cfg TwilioConfig, log *zap.Logger) (*WhatsAppSender, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.From == "" {
		return nil, errors.New("missing Twilio settings: account SID, auth token and sender number are required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newWhatsAppSender(client.Api, cfg.From, log), nil
}

func newWhatsAppSender(client messageCreator, from string, log *zap.Logger) *WhatsAppSender {
	return &WhatsAppSender{
		log:    log.With(zap.String("component", "whatsapp_sender")),
		client: client,
		from:   whatsappAddress(from),
	}
}

// Send delivers body to phone. The Twilio client has no context support, so
// ctx is only checked before the call.
func (s *WhatsAppSender) Send(ctx context.Context, phone, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &openapi.CreateMessageParams{}
	params.SetTo(whatsappAddress(phone))
	params.SetFrom(s.from)
	params.SetBody(body)

	resp, err := s.client.CreateMessage(params)
	if err != nil {
		s.log.Warn("failed to send WhatsApp message", logger.Phone(phone), zap.Error(err))
		return fmt.Errorf("twilio create message: %w", err)
	}
	fields := []zap.Field{logger.Phone(phone)}
	if resp != nil && resp.Sid != nil {
		fields = append(fields, zap.String("sid", *resp.Sid))
	}
	s.log.Info("sent WhatsApp message", fields...)
	return nil
}

func whatsappAddress(phone string) string {
	if strings.HasPrefix(phone, "whatsapp:") {
		return phone
	}
	return "whatsapp:" + phone
}

// LogSender writes messages to the log instead of delivering them (dev mode)
type LogSender struct {
	log *zap.Logger
}

// NewLogSender creates a LogSender
func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: log.With(zap.String("component", "log_sender"))}
}

// Send logs the message body
func (s *LogSender) Send(_ context.Context, phone, body string) error {
	s.log.Info("dev mode message", logger.Phone(phone), zap.String("body", body))
	return nil
}
