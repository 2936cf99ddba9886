package auth

import (
	"context"

	"github.com/lexconsult/client/internal/gateway"
)

// OTPGateway is the remote side of the login flow
type OTPGateway interface {
	RequestCode(ctx context.Context, phone string) error
	Verify(ctx context.Context, phone, code string) (*gateway.VerifyResult, error)
}
