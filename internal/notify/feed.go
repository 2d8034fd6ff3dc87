// Package notify delivers insert events for messages to interested
// subscribers, replacing polling with a push feed.
package notify

import (
	"context"

	"github.com/atelier-lumen/portal/internal/model"
	"github.com/gofrs/uuid/v5"
)

// Feed is the push capability the conversation synchronizer consumes:
// newly inserted messages addressed to a recipient, as they happen.
type Feed interface {
	// Subscribe returns a channel of inserted messages whose recipient is
	// the given id. The channel closes when ctx ends.
	Subscribe(ctx context.Context, recipient uuid.UUID) (<-chan model.Message, error)
}
