// pkg/registry/schema.go
package registry

// EventRegistry describes every inbound event kind the dispatcher accepts and
// how it is addressed on each inbound transport.
type EventRegistry struct {
	Version     string            `json:"version"`
	LastUpdated string            `json:"lastUpdated"`
	Events      []EventDefinition `json:"events"`
}

type EventDefinition struct {
	Kind        string                 `json:"kind"`
	DisplayName string                 `json:"displayName"`
	Description string                 `json:"description"`
	EventType   string                 `json:"eventType"`
	TaskType    string                 `json:"taskType"` // Zeebe job type
	Subject     string                 `json:"subject"`  // NATS subject
	InputSchema map[string]interface{} `json:"inputSchema"`
	Timeout     string                 `json:"timeout"`
	Retries     int                    `json:"retries"`
	Tags        []string               `json:"tags"`
}
