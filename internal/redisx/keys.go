package redisx

import "time"

const (
	// Catalog read cache: catalog:products:{hash(query, viewer)} -> priced page JSON
	PrefixCatalog      = "catalog:"
	KeyCatalogProducts = "catalog:products:%s"
	KeyCatalogProduct  = "catalog:product:%s:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLCatalog = 5 * time.Minute
	TTLDedup   = 48 * time.Hour
)
