package models

import (
	"time"
)

// RuntimeStatus is the lifecycle state of one workflow execution.
type RuntimeStatus string

const (
	RuntimeStatusRunning   RuntimeStatus = "running"
	RuntimeStatusSuspended RuntimeStatus = "suspended"
	RuntimeStatusCompleted RuntimeStatus = "completed"
	RuntimeStatusFailed    RuntimeStatus = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s RuntimeStatus) IsTerminal() bool {
	return s == RuntimeStatusCompleted || s == RuntimeStatusFailed
}

// NodeStatus is the recorded outcome of one executed node.
type NodeStatus string

const (
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
)

// RuntimeInstance is one execution of a workflow.
type RuntimeInstance struct {
	ID              int64          `json:"-"`
	UUID            string         `json:"uuid"`
	UserID          int64          `json:"user_id"`
	WorkflowUUID    string         `json:"workflow_uuid"`
	Input           map[string]any `json:"input"`
	Output          map[string]any `json:"output,omitempty"`
	Status          RuntimeStatus  `json:"status"`
	StatusRemark    string         `json:"status_remark,omitempty"`
	ErrorKind       string         `json:"error_kind,omitempty"`
	WaitingNodeUUID string         `json:"waiting_node_uuid,omitempty"`
	GraphSnapshot   *Graph         `json:"-"`
	IsDeleted       bool           `json:"-"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// RuntimeNode is the record of one executed node within an instance.
type RuntimeNode struct {
	ID                int64          `json:"-"`
	UUID              string         `json:"uuid"`
	RuntimeInstanceID int64          `json:"-"`
	NodeUUID          string         `json:"node_uuid"`
	NodeTitle         string         `json:"node_title"`
	Kind              string         `json:"kind"`
	Input             map[string]any `json:"input"`
	Output            map[string]any `json:"output,omitempty"`
	SelectedHandle    string         `json:"selected_handle,omitempty"`
	Status            NodeStatus     `json:"status"`
	StatusRemark      string         `json:"status_remark,omitempty"`
	ErrorKind         string         `json:"error_kind,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// RuntimeTransition is the new state written by a conditional status update.
type RuntimeTransition struct {
	To              RuntimeStatus
	StatusRemark    string
	ErrorKind       string
	Output          map[string]any
	WaitingNodeUUID string
}

// EventType names an execution event.
type EventType string

const (
	EventNodeStarted       EventType = "node_started"
	EventNodeCompleted     EventType = "node_completed"
	EventNodeFailed        EventType = "node_failed"
	EventInstanceSuspended EventType = "instance_suspended"
	EventInstanceCompleted EventType = "instance_completed"
	EventInstanceFailed    EventType = "instance_failed"
)

// IsFinal reports whether the event ends the stream of an execution leg.
func (t EventType) IsFinal() bool {
	switch t {
	case EventInstanceSuspended, EventInstanceCompleted, EventInstanceFailed:
		return true
	default:
		return false
	}
}

// ExecutionEvent is one progress report pushed to stream subscribers.
type ExecutionEvent struct {
	Seq          int64          `json:"seq"`
	Type         EventType      `json:"type"`
	RuntimeUUID  string         `json:"runtime_uuid"`
	NodeUUID     string         `json:"node_uuid,omitempty"`
	NodeTitle    string         `json:"node_title,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
	Prompt       string         `json:"prompt,omitempty"`
	ErrorKind    string         `json:"error_kind,omitempty"`
	StatusRemark string         `json:"status_remark,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}
