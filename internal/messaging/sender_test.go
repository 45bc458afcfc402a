package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

type fakeTwilio struct {
	params *openapi.CreateMessageParams
	err    error
}

func (f *fakeTwilio) CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	sid := "SM123"
	return &openapi.ApiV2010Message{Sid: &sid}, nil
}

func TestNewWhatsAppSender_requiresSettings(t *testing.T) {
	_, err := NewWhatsAppSender(TwilioConfig{AccountSID: "AC1", AuthToken: "tok"}, zap.NewNop())
	require.Error(t, err)

	s, err := NewWhatsAppSender(TwilioConfig{AccountSID: "AC1", AuthToken: "tok", From: "+14155238886"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "whatsapp:+14155238886", s.from)
}

func TestWhatsAppSender_Send(t *testing.T) {
	fake := &fakeTwilio{}
	s := newWhatsAppSender(fake, "whatsapp:+14155238886", zap.NewNop())

	require.NoError(t, s.Send(context.Background(), "+15551234567", "Your code is 482193"))
	require.NotNil(t, fake.params)
	assert.Equal(t, "whatsapp:+15551234567", *fake.params.To)
	assert.Equal(t, "whatsapp:+14155238886", *fake.params.From)
	assert.Equal(t, "Your code is 482193", *fake.params.Body)
}

func TestWhatsAppSender_SendError(t *testing.T) {
	fake := &fakeTwilio{err: errors.New("21211 invalid To")}
	s := newWhatsAppSender(fake, "+14155238886", zap.NewNop())

	err := s.Send(context.Background(), "+15551234567", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "21211")
}

func TestWhatsAppSender_canceledContext(t *testing.T) {
	fake := &fakeTwilio{}
	s := newWhatsAppSender(fake, "+14155238886", zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Send(ctx, "+15551234567", "hi"), context.Canceled)
	assert.Nil(t, fake.params)
}

func TestLogSender(t *testing.T) {
	assert.NoError(t, NewLogSender(zap.NewNop()).Send(context.Background(), "+15551234567", "code"))
}
