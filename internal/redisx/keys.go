package redisx

import (
	"fmt"
	"time"
)

const (
	// Dedup of event processing: dedup:{consumer}:{event_id}
	KeyDedup = "dedup:%s:%s"

	ConsumerWebhook  = "webhook"
	ConsumerNotifier = "notifier"
)

var TTLDedup = 48 * time.Hour

func DedupKey(consumer, eventID string) string {
	return fmt.Sprintf(KeyDedup, consumer, eventID)
}
