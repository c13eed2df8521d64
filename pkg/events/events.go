package events

import (
	"encoding/json"
	"fmt"
)

// State represents the lifecycle state carried by task events and rows.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Terminal reports whether the state is absorbing.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Phase names a provisioning pipeline stage.
type Phase string

const (
	PhaseDirCopy       Phase = "dir_copy"
	PhaseRenderIni     Phase = "render_ini"
	PhaseDbProvision   Phase = "db_provision"
	PhaseDockerInstall Phase = "docker_install"
	PhaseDockerIdxCfg  Phase = "docker_index_cfg"
	PhaseFlipBootstrap Phase = "flip_bootstrap"
	PhaseIndex         Phase = "index"
)

// Event is the tagged union published on a task channel. The two variants
// are Progress and Status; the wire form carries an explicit "type"
// discriminator so adding variants stays forwards compatible.
type Event interface {
	// Kind returns the wire discriminator ("progress" or "status").
	Kind() string
}

// Progress reports that a task is advancing through the pipeline.
type Progress struct {
	Status  State  `json:"status"`
	Message string `json:"message,omitempty"`
	Phase   Phase  `json:"phase,omitempty"`
}

// Kind implements Event.
func (Progress) Kind() string { return "progress" }

// Status reports a task's terminal outcome (or a synthesized snapshot of it).
type Status struct {
	Status  State  `json:"status"`
	WikiID  uint64 `json:"wiki_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// Kind implements Event.
func (Status) Kind() string { return "status" }

// Marshal encodes an event with its type discriminator.
func Marshal(e Event) ([]byte, error) {
	switch v := e.(type) {
	case Progress:
		return json.Marshal(struct {
			Type string `json:"type"`
			Progress
		}{v.Kind(), v})
	case Status:
		return json.Marshal(struct {
			Type string `json:"type"`
			Status
		}{v.Kind(), v})
	default:
		return nil, fmt.Errorf("unknown event type %T", e)
	}
}

// Unmarshal decodes a payload produced by Marshal. Unknown discriminators
// are an error so callers can forward unparseable payloads untouched.
func Unmarshal(data []byte) (Event, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	switch probe.Type {
	case "progress":
		var p Progress
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to decode progress event: %w", err)
		}
		return p, nil
	case "status":
		var s Status
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to decode status event: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown event discriminator %q", probe.Type)
	}
}

const (
	// QueueKey is the shared Redis list provisioning jobs are pushed onto.
	QueueKey = "wikifarm:jobs"

	// LastEventTTLSeconds bounds how long the per-task snapshot key lives.
	LastEventTTLSeconds = 3600
)

// ChannelKey returns the pub/sub channel for a task.
func ChannelKey(taskID string) string {
	return "wikifarm:tasks:" + taskID
}

// LastKey returns the cache key holding the most recent event for a task.
func LastKey(taskID string) string {
	return ChannelKey(taskID) + ":last"
}
