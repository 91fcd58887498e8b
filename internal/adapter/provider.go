package adapter

import (
	"context"
)

// Provider hands out gateways bound to the current credentials. Gateways are
// built per call so that a later sign-in is picked up.
type Provider interface {
	Drive(ctx context.Context) (DriveGateway, error)
	Calendar(ctx context.Context) (CalendarGateway, error)
	Profile(ctx context.Context) (ProfileGateway, error)
}
