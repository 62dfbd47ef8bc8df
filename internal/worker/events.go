package worker

// ItemCompletedEvent is published after each item's chunks are persisted,
// so search-index consumers see partial progress during a long run
// instead of one refresh at the end.
type ItemCompletedEvent struct {
	TaskType      string `json:"task_type"`
	ExternalKey   string `json:"external_key"`
	Title         string `json:"title"`
	ChunkCount    int    `json:"chunk_count"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// MaintenanceTriggerEvent asks the maintenance consumer for a cleanup
// pass. Published by an external scheduler.
type MaintenanceTriggerEvent struct {
	Mode          string `json:"mode,omitempty"` // "preview" skips execution
	CorrelationID string `json:"correlation_id,omitempty"`
}
