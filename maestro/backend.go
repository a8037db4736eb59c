package maestro

import (
	"context"
	"time"

	"github.com/bnema/botmaestro/maestro/datapool"
)

// Versions the dispatcher records when the probe cannot name a real one.
const (
	// legacyVersion stands in for any portal old enough to only speak the
	// form-encoded API.
	legacyVersion = "1.0.0"
	// offlineVersion is the assume-latest sentinel recorded when offline
	// mode suppresses a failed probe, so gating never blocks offline use.
	offlineVersion = "999.0.0"
)

// Minimum portal versions for gated operations.
const (
	minVersionInterrupt   = "2.0.0"
	minVersionErrorReport = "2.0.0"
	minVersionCredentials = "2.0.0"
	minVersionDataPool    = "3.0.2"
)

// TaskOptions are the optional knobs of CreateTask.
type TaskOptions struct {
	// Test marks the task as a test run.
	Test bool
	// Priority ranges 0 to 10.
	Priority int
	// MinExecutionDate holds the task until that moment when set.
	MinExecutionDate time.Time
}

// ItemCounts are the processing counters reported on task finish. Nil means
// not reported; see Client.FinishTask for the reconciliation rules.
type ItemCounts struct {
	Total     *int
	Processed *int
	Failed    *int
}

// ErrorReport describes a runtime failure sent to the portal's error
// timeline.
type ErrorReport struct {
	// Err is the failure being reported.
	Err error
	// Type overrides the reported error type; derived from Err when empty.
	Type string
	// StackTrace overrides the captured goroutine stack when set.
	StackTrace string
	// Screenshot is an optional image file path attached to the error.
	Screenshot string
	// Attachments are extra file paths to upload alongside the error.
	Attachments []string
	// Tags are merged over the default machine tags.
	Tags map[string]string
}

// backend is one wire protocol variant. The dispatcher picks v1 or v2 during
// login and routes every operation through it; callers never see which.
type backend interface {
	Login(ctx context.Context) (string, error)
	Alert(ctx context.Context, taskID string, title string, message string, alertType AlertType) (*ServerMessage, error)
	Message(ctx context.Context, emails []string, users []string, subject string, body string, msgType MessageType, group string) (*ServerMessage, error)
	CreateTask(ctx context.Context, activityLabel string, parameters map[string]any, opts TaskOptions) (*Task, error)
	FinishTask(ctx context.Context, taskID string, status FinishStatus, message string, counts ItemCounts) (*ServerMessage, error)
	RestartTask(ctx context.Context, taskID string) (*ServerMessage, error)
	GetTask(ctx context.Context, taskID string) (*Task, error)
	InterruptTask(ctx context.Context, taskID string) (*ServerMessage, error)
	NewLog(ctx context.Context, activityLabel string, columns []Column) (*ServerMessage, error)
	NewLogEntry(ctx context.Context, activityLabel string, values map[string]any) (*ServerMessage, error)
	GetLog(ctx context.Context, activityLabel string, date string) ([]map[string]any, error)
	DeleteLog(ctx context.Context, activityLabel string) (*ServerMessage, error)
	PostArtifact(ctx context.Context, taskID int64, name string, filePath string) (*ServerMessage, error)
	ListArtifacts(ctx context.Context, days int) ([]Artifact, error)
	GetArtifact(ctx context.Context, artifactID int64) (string, []byte, error)
	ReportError(ctx context.Context, taskID int64, report ErrorReport) (string, error)
	GetCredential(ctx context.Context, label string, key string) (string, error)
	CreateCredential(ctx context.Context, label string, key string, value string) error
	CreateDataPool(ctx context.Context, pool *datapool.Pool) (*datapool.Pool, error)
	GetDataPool(ctx context.Context, label string) (*datapool.Pool, error)
}
