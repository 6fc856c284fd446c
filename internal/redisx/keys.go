package redisx

import "time"

const (
	// Finalize shortcut: idem:order:finalize:{order_number} -> order id
	KeyIdemFinalize = "idem:order:finalize:%s"

	// Storefront status poller cache: order_status:{order_number} -> json
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{consumer}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Single sweeper across API replicas.
	KeySweepLock = "lock:reservations:sweep"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
