package config

const (
	// TopicItemCompleted carries one event per successfully persisted
	// item so downstream consumers (search-index refresh, notifications)
	// see partial progress during a run.
	TopicItemCompleted = "ingest.item.completed"

	// TopicMaintenance triggers a consistency maintenance pass
	// (duplicate and orphan cleanup). Published by an external scheduler.
	TopicMaintenance = "maintenance.trigger"
)
