package maestro

import "encoding/json"

// AlertType classifies portal alerts.
type AlertType string

const (
	AlertInfo  AlertType = "INFO"
	AlertWarn  AlertType = "WARN"
	AlertError AlertType = "ERROR"
)

// MessageType is the body format of a portal email message.
type MessageType string

const (
	MessageText MessageType = "TEXT"
	MessageHTML MessageType = "HTML"
)

// TaskState is the lifecycle state of an automation task.
type TaskState string

const (
	TaskStateStart    TaskState = "START"
	TaskStateRunning  TaskState = "RUNNING"
	TaskStateFinished TaskState = "FINISHED"
	TaskStateCanceled TaskState = "CANCELED"
)

// FinishStatus is the outcome a task is finished with.
type FinishStatus string

const (
	FinishSuccess            FinishStatus = "SUCCESS"
	FinishFailed             FinishStatus = "FAILED"
	FinishPartiallyCompleted FinishStatus = "PARTIALLY_COMPLETED"
)

// ServerMessageType marks a portal response as success or error.
type ServerMessageType string

const (
	ServerMessageSuccess ServerMessageType = "success"
	ServerMessageError   ServerMessageType = "error"
)

// ServerMessage is the portal's generic response envelope. Payload keeps the
// raw response body for callers that need fields beyond message and type.
type ServerMessage struct {
	Message string            `json:"message"`
	Type    ServerMessageType `json:"type"`
	Payload string            `json:"-"`
}

// serverMessageFromBody parses the {message, type} envelope and keeps the raw
// body as payload. Bodies that are not the envelope still yield a usable
// message with the raw text preserved.
func serverMessageFromBody(body []byte) *ServerMessage {
	msg := &ServerMessage{Payload: string(body)}
	_ = json.Unmarshal(body, msg)
	return msg
}

// Task is an automation task as tracked by the portal.
type Task struct {
	ID               int64          `json:"id"`
	State            TaskState      `json:"state"`
	Parameters       map[string]any `json:"parameters"`
	InputFile        *Artifact      `json:"inputFile"`
	ActivityID       int64          `json:"activityId"`
	ActivityLabel    string         `json:"activityLabel"`
	AgentID          int64          `json:"agentId"`
	UserCreationID   int64          `json:"userCreationId"`
	UserCreationName string         `json:"userCreationName"`
	OrganizationID   int64          `json:"organizationCreationId"`
	DateCreation     string         `json:"dateCreation"`
	DateLastModified string         `json:"dateLastModified"`
	FinishStatus     FinishStatus   `json:"finishStatus"`
	FinishMessage    string         `json:"finishMessage"`
	Test             bool           `json:"test"`
	Interrupted      bool           `json:"interrupted"`
	Killed           bool           `json:"killed"`
	MachineID        string         `json:"machineId"`
}

// IsInterrupted reports whether the portal requested this task to stop.
// Workers are expected to poll it on long runs and finish gracefully.
func (t *Task) IsInterrupted() bool {
	return t.Interrupted
}

// Artifact is a file kept by the portal, attached to a task.
type Artifact struct {
	ID              int64  `json:"id"`
	Type            string `json:"type"`
	TaskID          int64  `json:"taskId"`
	TaskName        string `json:"taskName"`
	Name            string `json:"name"`
	FileName        string `json:"fileName"`
	StorageFileName string `json:"storageFileName"`
	StorageFilePath string `json:"storageFilePath"`
	OrganizationID  int64  `json:"organizationId"`
	User            int64  `json:"user"`
	DateCreation    string `json:"dateCreation"`
}

// Column describes one column of an execution log.
type Column struct {
	// Name is the display name shown on the portal.
	Name string `json:"name"`
	// Label is the column's unique identifier.
	Label string `json:"label"`
	// Width is the suggested rendering width.
	Width int `json:"width"`
}

// Execution is the runtime identity of a worker process: where it reports to
// and which task it runs on behalf of.
type Execution struct {
	Server     string
	TaskID     string
	Token      string
	Parameters map[string]any
}
