package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioGateway sends codes as SMS through the Twilio REST API.
type TwilioGateway struct {
	api         messageCreator
	fromNumber  string
	countryCode string
	validity    time.Duration
	logger      *logrus.Logger
}

// NewTwilioGateway builds a gateway whose HTTP requests are abandoned after
// timeout.
func NewTwilioGateway(accountSID, authToken, fromNumber, countryCode string, validity, timeout time.Duration, logger *logrus.Logger) *TwilioGateway {
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return newTwilioGateway(rest, fromNumber, countryCode, validity, timeout, logger)
}

func newTwilioGateway(rest *twilio.RestClient, fromNumber, countryCode string, validity, timeout time.Duration, logger *logrus.Logger) *TwilioGateway {
	if timeout > 0 {
		rest.SetTimeout(timeout)
	}

	return &TwilioGateway{
		api:         rest.Api,
		fromNumber:  fromNumber,
		countryCode: countryCode,
		validity:    validity,
		logger:      logger,
	}
}

// Send posts the SMS. The Twilio client is not context aware, so the call
// runs in its own goroutine and Send returns as soon as ctx is done. The
// request itself is cut off by the client timeout.
func (g *TwilioGateway) Send(ctx context.Context, phone, code string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(g.countryCode + phone)
	params.SetFrom(g.fromNumber)
	params.SetBody(fmt.Sprintf("Your verification code is: %s. Valid for %d minutes.", code, int(g.validity.Minutes())))

	done := make(chan error, 1)
	go func() {
		_, err := g.api.CreateMessage(params)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			g.logger.WithError(err).WithField("phone", maskPhone(phone)).Error("Failed to send OTP SMS")
			return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
		}
		return nil
	case <-ctx.Done():
		g.logger.WithField("phone", maskPhone(phone)).Warn("OTP SMS timed out")
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, ctx.Err())
	}
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "******" + phone[len(phone)-4:]
}
