// Package delivery sends one-time codes to phones.
package delivery

import (
	"context"
	"errors"
)

// ErrDeliveryFailed wraps every send failure, timeouts included.
var ErrDeliveryFailed = errors.New("code delivery failed")

// Gateway delivers a numeric code to a normalized phone number.
type Gateway interface {
	Send(ctx context.Context, phone, code string) error
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, phone, code string) error

func (f GatewayFunc) Send(ctx context.Context, phone, code string) error {
	return f(ctx, phone, code)
}
