package types

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: unknown node
	Error string `json:"error" example:"unknown node"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
}

// NodeStatus summarizes one managed node for /status.
type NodeStatus struct {
	// Node identifier from the descriptor store.
	// example: planner
	ID string `json:"id" example:"planner"`
	// Current lifecycle phase (absent, starting, health_checking, ready, warming_up, hydrated, failed).
	// example: ready
	Phase string `json:"phase" example:"ready"`
	// Short ID of the backing container, when one exists.
	// example: 9f6b1c2a44de
	ContainerID string `json:"container_id,omitempty" example:"9f6b1c2a44de"`
	// GPU device selector the container is pinned to.
	// example: 0
	GPUDevice string `json:"gpu_device,omitempty" example:"0"`
	// Host port the engine is published on.
	// example: 8000
	HostPort int `json:"host_port,omitempty" example:"8000"`
	// Unix time the container was last started by a workflow.
	// example: 1700000000
	StartedAt int64 `json:"started_at_unix,omitempty" example:"1700000000"`
	// Terminal error for this node, if the last workflow failed it.
	Error string `json:"error,omitempty"`
	// Warm-up error, if warm-up failed while the node stayed serving.
	WarmupError string `json:"warmup_error,omitempty"`
	// True once the warm-up completion reported success.
	// example: true
	Warm bool `json:"warm" example:"true"`
}

// NodeSummary describes a configured node as declared in the descriptor store.
type NodeSummary struct {
	// Node identifier.
	// example: executor
	ID string `json:"id" example:"executor"`
	// Engine container image.
	// example: ollama/ollama:0.5.7
	Image string `json:"image" example:"ollama/ollama:0.5.7"`
	// GPU device selector.
	// example: 1
	GPUDevice string `json:"gpu_device" example:"1"`
	// Host port the engine is published on.
	// example: 8001
	HostPort int `json:"host_port" example:"8001"`
	// Models this node is expected to have available.
	// example: ["qwen2.5:72b"]
	Models []string `json:"models,omitempty"`
}

// NodesResponse wraps the list of configured nodes returned by GET /nodes.
type NodesResponse struct {
	// Configured nodes.
	Nodes []NodeSummary `json:"nodes"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Per-node lifecycle status.
	Nodes []NodeStatus `json:"nodes"`
	// Aggregated fleet status (idle, pending, ok, degraded, failed).
	// example: ok
	Overall string `json:"overall" example:"ok"`
	// Name of the workflow currently holding the orchestration lock, if any.
	// example: up
	Workflow string `json:"workflow,omitempty" example:"up"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// SyncResponse summarizes a volume reconciliation run (POST /sync).
type SyncResponse struct {
	// Files copied across both directions.
	// example: 14
	FilesCopied int `json:"files_copied" example:"14"`
	// Bytes copied across both directions.
	// example: 73400320
	BytesCopied int64 `json:"bytes_copied" example:"73400320"`
	// Entries skipped because the destination already had them.
	// example: 211
	SkippedExisting int `json:"skipped_existing" example:"211"`
	// Wall-clock duration in milliseconds.
	// example: 5200
	DurationMS int64 `json:"duration_ms" example:"5200"`
}

// ResetRequest is the optional JSON body for POST /nodes/{id}/reset.
type ResetRequest struct {
	// Re-run warm-up after the node comes back up.
	// example: true
	Rewarm bool `json:"rewarm" example:"true"`
}

// NodeOpResponse acknowledges a per-node operation (reset, warm-up).
type NodeOpResponse struct {
	// Node the operation applied to.
	// example: planner
	Node string `json:"node" example:"planner"`
	// Operation name.
	// example: reset
	Op string `json:"op" example:"reset"`
	// Result status.
	// example: ok
	Status string `json:"status" example:"ok"`
}
