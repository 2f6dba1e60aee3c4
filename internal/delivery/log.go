package delivery

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogGateway writes codes to the log instead of sending them. It is used
// when no SMS provider is configured.
type LogGateway struct {
	logger *logrus.Logger
}

func NewLogGateway(logger *logrus.Logger) *LogGateway {
	return &LogGateway{logger: logger}
}

func (g *LogGateway) Send(_ context.Context, phone, code string) error {
	g.logger.WithFields(logrus.Fields{
		"phone": phone,
		"otp":   code,
	}).Info("OTP generated (logged for development)")
	return nil
}
