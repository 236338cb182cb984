// Package types defines the wire format shared by the remote virtm API client,
// the state store and the local dashboard API.
//
// Resource records (machines, SSH keys, images, networks, machine details and
// activities) are server-defined. The dashboard never inspects them, so they
// are carried as raw JSON and handed back to observers exactly as received.
package types

import "encoding/json"

// Record is one opaque, server-defined JSON value.
type Record = json.RawMessage

// VersionInfo is the body returned by GET /.
type VersionInfo struct {
	Version string `json:"version"`
}

// ActivityList is the body returned by GET /activities. Activities are in
// server order, oldest first.
type ActivityList struct {
	Activities []Record `json:"activities"`
}

// Snapshot is the full cached state as served by GET /ui/v1/state.
type Snapshot struct {
	Version            string            `json:"version"`
	Machines           []Record          `json:"machines"`
	SSHKeys            []Record          `json:"sshKeys"`
	Images             []Record          `json:"images"`
	Networks           []Record          `json:"networks"`
	MachineDetails     map[string]Record `json:"machineDetails"`
	Activities         []Record          `json:"activities"`
	ReversedActivities []Record          `json:"reversedActivities"`
	Error              any               `json:"error"`
}

// RefreshResult is the response body of a refresh action.
type RefreshResult struct {
	Resource string `json:"resource"`
	Key      string `json:"key,omitempty"`
	Outcome  string `json:"outcome"`
}

// ChangeEvent is the JSON envelope pushed to SSE subscribers and NATS.
type ChangeEvent struct {
	ID         string `json:"id"`
	Source     string `json:"source"`
	Resource   string `json:"resource"`
	Key        string `json:"key,omitempty"`
	OccurredAt string `json:"occurredAt"`
}

// ProblemDetail represents an RFC 9457 Problem Details response.
type ProblemDetail struct {
	// Type is a URI reference identifying the problem type.
	// Default: "about:blank"
	Type string `json:"type"`

	// Title is a short, human-readable summary.
	Title string `json:"title"`

	// Status is the HTTP status code.
	Status int `json:"status"`

	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`

	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
}
