package service

import (
	"context"

	"gate-service/internal/models"
)

// Messenger delivers an accepted submission to the forum platform as a
// private message. The engine treats every failure as opaque; it neither
// retries nor inspects the cause.
type Messenger interface {
	Deliver(ctx context.Context, msg *models.PrivateMessage) error
}

// Auditor records category-only gate decisions. Implementations must not
// accept or persist caller addresses, client ids, or content.
type Auditor interface {
	Record(event models.GateAuditEvent)
}
