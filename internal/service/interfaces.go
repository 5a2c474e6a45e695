package service

import (
	"context"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
)

// SecurityNotifier receives session security events. Implementations must not block the caller.
type SecurityNotifier interface {
	Notify(ctx context.Context, event models.SecurityEvent)
}
