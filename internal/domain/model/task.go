package model

import (
	"fmt"
	"time"
)

// ScheduledTask is a deferred reset waiting for a subscription's cooldown to expire.
type ScheduledTask struct {
	Key            string
	SubscriptionID string
	Kind           CheckpointKind
	FireAt         time.Time
	CreatedAt      time.Time
}

// DelayedTaskKey derives the registry key for a subscription's deferred reset.
// The key is subscription-scoped so one subscription never has two pending fires.
func DelayedTaskKey(subscriptionID string) string {
	return fmt.Sprintf("delayed-reset-%s", subscriptionID)
}
