package otp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

// LogSMS writes messages to the log instead of sending them. It is used
// when no SMS provider is configured.
type LogSMS struct {
	Logger *slog.Logger
}

func (l LogSMS) SendSMS(_ context.Context, to, body string) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("sms not sent, no provider configured", "to", to, "body", body)
	return nil
}

type TwilioSMS struct {
	client     *twilio.RestClient
	fromNumber string
}

func NewTwilioSMS(accountSID, authToken, fromNumber string) *TwilioSMS {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioSMS{client: client, fromNumber: fromNumber}
}

func (t *TwilioSMS) SendSMS(_ context.Context, to, body string) error {
	params := &api.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(t.fromNumber)
	params.SetBody(body)

	if _, err := t.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio create message: %w", err)
	}
	return nil
}
