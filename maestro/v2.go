package maestro

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/bnema/botmaestro/internal/wire"
	"github.com/bnema/botmaestro/maestro/datapool"
)

// v2Backend speaks the JSON portal API under /api/v2.
type v2Backend struct {
	c *Client
}

func newV2Backend(c *Client) *v2Backend {
	return &v2Backend{c: c}
}

// do issues one request against the portal and consumes the response, so
// the per-request context can be released before decoding.
func (b *v2Backend) do(ctx context.Context, method string, path string, payload any) (int, []byte, error) {
	requestCtx, cancel := wire.RequestContext(ctx, b.c.timeout)
	defer cancel()

	req, err := wire.JSONRequest(requestCtx, method, b.c.server+path, payload)
	if err != nil {
		return 0, nil, err
	}
	b.c.authorize(req)

	resp, err := b.c.httpClient().Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("portal request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := wire.ReadBody(resp)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}

// serverMessage runs a request whose success body is the {message, type}
// envelope.
func (b *v2Backend) serverMessage(ctx context.Context, method string, path string, payload any, op string) (*ServerMessage, error) {
	status, data, err := b.do(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}
	if !wire.StatusSuccess(status) {
		return nil, wire.ErrorFromBody(op, status, data)
	}
	return serverMessageFromBody(data), nil
}

// statusMessage runs a request whose endpoints answer a bare 200 with no
// envelope; the response is synthesized from the raw body.
func (b *v2Backend) statusMessage(ctx context.Context, method string, path string, payload any, op string) (*ServerMessage, error) {
	status, data, err := b.do(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, wire.ErrorFromBody(op, status, data)
	}
	return &ServerMessage{Message: string(data), Type: ServerMessageSuccess, Payload: string(data)}, nil
}

// uploadFile posts one file as a multipart form under the field name "file".
func (b *v2Backend) uploadFile(ctx context.Context, path string, filename string, content io.Reader, op string) error {
	body, contentType, err := wire.EncodeMultipart("file", filename, content)
	if err != nil {
		return err
	}

	requestCtx, cancel := wire.RequestContext(ctx, b.c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, b.c.server+path, body)
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	b.c.authorize(req)

	resp, err := b.c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("portal upload: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if !wire.Success(resp) {
		return wire.DecodeError(resp, op)
	}
	return nil
}

func (b *v2Backend) Login(ctx context.Context) (string, error) {
	requestCtx, cancel := wire.RequestContext(ctx, b.c.timeout)
	defer cancel()

	payload := map[string]string{"login": b.c.login, "key": b.c.key}
	req, err := wire.JSONRequest(requestCtx, http.MethodPost, b.c.server+"/api/v2/workspace/login", payload)
	if err != nil {
		return "", err
	}

	resp, err := b.c.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if !wire.Success(resp) {
		return "", wire.DecodeError(resp, "login")
	}

	var result struct {
		AccessToken string `json:"accessToken"`
	}
	if err := wire.DecodeJSON(resp, &result); err != nil {
		return "", err
	}
	return result.AccessToken, nil
}

func (b *v2Backend) Alert(ctx context.Context, taskID string, title string, message string, alertType AlertType) (*ServerMessage, error) {
	payload := map[string]any{
		"taskId":  taskID,
		"title":   title,
		"message": message,
		"type":    alertType,
	}
	return b.serverMessage(ctx, http.MethodPost, "/api/v2/alerts", payload, "alert")
}

func (b *v2Backend) Message(ctx context.Context, emails []string, users []string, subject string, body string, msgType MessageType, group string) (*ServerMessage, error) {
	if emails == nil {
		emails = []string{}
	}
	if users == nil {
		users = []string{}
	}
	payload := map[string]any{
		"emails":  emails,
		"logins":  users,
		"subject": subject,
		"body":    body,
		"type":    msgType,
		"group":   group,
	}
	return b.statusMessage(ctx, http.MethodPost, "/api/v2/message", payload, "message send")
}

func (b *v2Backend) CreateTask(ctx context.Context, activityLabel string, parameters map[string]any, opts TaskOptions) (*Task, error) {
	if parameters == nil {
		parameters = map[string]any{}
	}
	payload := map[string]any{
		"activityLabel": activityLabel,
		"test":          opts.Test,
		"parameters":    parameters,
		"priority":      opts.Priority,
	}
	if !opts.MinExecutionDate.IsZero() {
		payload["minExecutionDate"] = opts.MinExecutionDate.Format(time.RFC3339)
	}

	status, data, err := b.do(ctx, http.MethodPost, "/api/v2/task", payload)
	if err != nil {
		return nil, err
	}
	if !wire.StatusSuccess(status) {
		return nil, wire.ErrorFromBody("task create", status, data)
	}
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &task, nil
}

func (b *v2Backend) FinishTask(ctx context.Context, taskID string, status FinishStatus, message string, counts ItemCounts) (*ServerMessage, error) {
	payload := map[string]any{
		"finishStatus":  status,
		"finishMessage": message,
		"state":         string(TaskStateFinished),
	}
	if counts.Total != nil {
		payload["totalItems"] = *counts.Total
	}
	if counts.Processed != nil {
		payload["processedItems"] = *counts.Processed
	}
	if counts.Failed != nil {
		payload["failedItems"] = *counts.Failed
	}
	return b.serverMessage(ctx, http.MethodPost, "/api/v2/task/"+url.PathEscape(taskID), payload, "task finish")
}

func (b *v2Backend) RestartTask(ctx context.Context, taskID string) (*ServerMessage, error) {
	payload := map[string]any{"state": string(TaskStateStart)}
	return b.serverMessage(ctx, http.MethodPost, "/api/v2/task/"+url.PathEscape(taskID), payload, "task restart")
}

func (b *v2Backend) GetTask(ctx context.Context, taskID string) (*Task, error) {
	status, data, err := b.do(ctx, http.MethodGet, "/api/v2/task/"+url.PathEscape(taskID), nil)
	if err != nil {
		return nil, err
	}
	if !wire.StatusSuccess(status) {
		return nil, wire.ErrorFromBody("task get", status, data)
	}
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &task, nil
}

func (b *v2Backend) InterruptTask(ctx context.Context, taskID string) (*ServerMessage, error) {
	payload := map[string]any{"interrupted": true}
	return b.serverMessage(ctx, http.MethodPost, "/api/v2/task/"+url.PathEscape(taskID), payload, "task interrupt")
}

func (b *v2Backend) NewLog(ctx context.Context, activityLabel string, columns []Column) (*ServerMessage, error) {
	payload := map[string]any{
		"activityLabel":     activityLabel,
		"columns":           columns,
		"organizationLabel": b.c.login,
	}
	return b.serverMessage(ctx, http.MethodPost, "/api/v2/log", payload, "log create")
}

func (b *v2Backend) NewLogEntry(ctx context.Context, activityLabel string, values map[string]any) (*ServerMessage, error) {
	if values == nil {
		values = map[string]any{}
	}
	path := "/api/v2/log/" + url.PathEscape(activityLabel) + "/entry"
	return b.statusMessage(ctx, http.MethodPost, path, values, "log entry create")
}

func (b *v2Backend) GetLog(ctx context.Context, activityLabel string, date string) ([]map[string]any, error) {
	days := 365
	if date != "" {
		start, err := time.Parse("02/01/2006", date)
		if err != nil {
			return nil, fmt.Errorf("parse log date %q: %w", date, err)
		}
		days = int(time.Since(start).Hours()/24) + 1
	}

	status, data, err := b.do(ctx, http.MethodGet, "/api/v2/log/"+url.PathEscape(activityLabel), nil)
	if err != nil {
		return nil, err
	}
	if !wire.StatusSuccess(status) {
		return nil, wire.ErrorFromBody("log read", status, data)
	}

	var meta struct {
		Columns []Column `json:"columns"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode log: %w", err)
	}
	if len(meta.Columns) == 0 {
		return nil, errors.New("malformed log: no columns available")
	}
	namesForLabels := make(map[string]string, len(meta.Columns))
	for _, column := range meta.Columns {
		namesForLabels[column.Label] = column.Name
	}

	entryPath := fmt.Sprintf("/api/v2/log/%s/entry-list?days=%d", url.PathEscape(activityLabel), days)
	status, data, err = b.do(ctx, http.MethodGet, entryPath, nil)
	if err != nil {
		return nil, err
	}
	if !wire.StatusSuccess(status) {
		return nil, wire.ErrorFromBody("log entry read", status, data)
	}

	var entries []struct {
		Columns map[string]any `json:"columns"`
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode log entries: %w", err)
	}

	rows := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		row := make(map[string]any, len(namesForLabels))
		for label, name := range namesForLabels {
			row[name] = entry.Columns[label]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (b *v2Backend) DeleteLog(ctx context.Context, activityLabel string) (*ServerMessage, error) {
	path := "/api/v2/log/" + url.PathEscape(activityLabel)
	return b.statusMessage(ctx, http.MethodDelete, path, nil, "log delete")
}

func (b *v2Backend) PostArtifact(ctx context.Context, taskID int64, name string, filePath string) (*ServerMessage, error) {
	created, err := b.createArtifact(ctx, taskID, name, name)
	if err != nil {
		return nil, err
	}

	var ref struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal([]byte(created.Payload), &ref); err != nil {
		return nil, fmt.Errorf("decode artifact create response: %w", err)
	}

	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open artifact file: %w", err)
	}
	defer func() { _ = f.Close() }()

	uploadPath := "/api/v2/artifact/log/" + url.PathEscape(cast.ToString(ref.ID))
	if err := b.uploadFile(ctx, uploadPath, name, f, "artifact upload"); err != nil {
		return nil, err
	}
	return created, nil
}

func (b *v2Backend) createArtifact(ctx context.Context, taskID int64, name string, filename string) (*ServerMessage, error) {
	payload := map[string]any{"taskId": taskID, "name": name, "filename": filename}
	return b.serverMessage(ctx, http.MethodPost, "/api/v2/artifact", payload, "artifact create")
}

func (b *v2Backend) ListArtifacts(ctx context.Context, days int) ([]Artifact, error) {
	var artifacts []Artifact
	page := 0
	totalPages := 1
	for page < totalPages {
		path := fmt.Sprintf("/api/v2/artifact?size=5&page=%d&sort=dateCreation,desc&days=%d", page, days)
		status, data, err := b.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}
		if !wire.StatusSuccess(status) {
			return nil, wire.ErrorFromBody("artifact list", status, data)
		}

		var result struct {
			Content    []Artifact `json:"content"`
			TotalPages int        `json:"totalPages"`
		}
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("decode artifact list: %w", err)
		}
		artifacts = append(artifacts, result.Content...)
		totalPages = result.TotalPages
		page++
	}
	return artifacts, nil
}

func (b *v2Backend) GetArtifact(ctx context.Context, artifactID int64) (string, []byte, error) {
	base := fmt.Sprintf("/api/v2/artifact/%d", artifactID)

	status, data, err := b.do(ctx, http.MethodGet, base, nil)
	if err != nil {
		return "", nil, err
	}
	if !wire.StatusSuccess(status) {
		return "", nil, wire.ErrorFromBody("artifact get", status, data)
	}
	var meta struct {
		FileName string `json:"fileName"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return "", nil, fmt.Errorf("decode artifact: %w", err)
	}

	status, content, err := b.do(ctx, http.MethodGet, base+"/file", nil)
	if err != nil {
		return "", nil, err
	}
	if !wire.StatusSuccess(status) {
		return "", nil, wire.ErrorFromBody("artifact download", status, content)
	}
	return meta.FileName, content, nil
}

func (b *v2Backend) ReportError(ctx context.Context, taskID int64, report ErrorReport) (string, error) {
	errType := report.Type
	if errType == "" && report.Err != nil {
		errType = fmt.Sprintf("%T", report.Err)
	}
	var message string
	if report.Err != nil {
		message = report.Err.Error()
	}
	trace := report.StackTrace
	if trace == "" {
		trace = string(debug.Stack())
	}
	tags := defaultErrorTags()
	for k, v := range report.Tags {
		tags[k] = v
	}

	payload := map[string]any{
		"taskId":     taskID,
		"type":       errType,
		"message":    message,
		"stackTrace": trace,
		"language":   "GOLANG",
		"tags":       tags,
	}

	status, data, err := b.do(ctx, http.MethodPost, "/api/v2/error", payload)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", wire.ErrorFromBody("error report", status, data)
	}
	var created struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		return "", fmt.Errorf("decode error response: %w", err)
	}
	errorID := cast.ToString(created.ID)

	if report.Screenshot != "" {
		if err := b.attachScreenshot(ctx, errorID, report.Screenshot); err != nil {
			return "", err
		}
	}

	// The build manifest always rides along, mirroring what the portal
	// expects from every runtime environment.
	if err := b.attachReader(ctx, errorID, "modules.txt", strings.NewReader(moduleManifest())); err != nil {
		return "", err
	}

	for _, attachment := range report.Attachments {
		if err := b.attachFile(ctx, errorID, attachment); err != nil {
			return "", err
		}
	}
	return errorID, nil
}

func (b *v2Backend) attachScreenshot(ctx context.Context, errorID string, path string) error {
	expanded := expandPath(path)
	f, err := os.Open(expanded)
	if err != nil {
		return fmt.Errorf("open screenshot: %w", err)
	}
	defer func() { _ = f.Close() }()

	uploadPath := "/api/v2/error/" + url.PathEscape(errorID) + "/screenshot"
	return b.uploadFile(ctx, uploadPath, filepath.Base(expanded), f, "error screenshot")
}

func (b *v2Backend) attachFile(ctx context.Context, errorID string, path string) error {
	expanded := expandPath(path)
	f, err := os.Open(expanded)
	if err != nil {
		return fmt.Errorf("open attachment: %w", err)
	}
	defer func() { _ = f.Close() }()

	return b.attachReader(ctx, errorID, filepath.Base(expanded), f)
}

func (b *v2Backend) attachReader(ctx context.Context, errorID string, filename string, content io.Reader) error {
	uploadPath := "/api/v2/error/" + url.PathEscape(errorID) + "/attachments"
	return b.uploadFile(ctx, uploadPath, filename, content, "error attachment")
}

func (b *v2Backend) GetCredential(ctx context.Context, label string, key string) (string, error) {
	path := "/api/v2/credential/" + url.PathEscape(label) + "/key/" + url.PathEscape(key)
	status, data, err := b.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	if !wire.StatusSuccess(status) {
		return "", wire.ErrorFromBody("credential read", status, data)
	}
	return string(data), nil
}

func (b *v2Backend) CreateCredential(ctx context.Context, label string, key string, value string) error {
	status, _, err := b.do(ctx, http.MethodGet, "/api/v2/credential/"+url.PathEscape(label), nil)
	if err != nil {
		return err
	}

	if !wire.StatusSuccess(status) {
		// No credential set under that label yet.
		payload := map[string]any{
			"label": label,
			"secrets": []map[string]any{
				{"key": key, "value": value, "valid": true},
			},
		}
		status, data, err := b.do(ctx, http.MethodPost, "/api/v2/credential", payload)
		if err != nil {
			return err
		}
		if !wire.StatusSuccess(status) {
			return wire.ErrorFromBody("credential create", status, data)
		}
		return nil
	}

	payload := map[string]string{"key": key, "value": value}
	status, data, err := b.do(ctx, http.MethodPost, "/api/v2/credential/"+url.PathEscape(label)+"/key", payload)
	if err != nil {
		return err
	}
	if !wire.StatusSuccess(status) {
		return wire.ErrorFromBody("credential key create", status, data)
	}
	return nil
}

func (b *v2Backend) CreateDataPool(ctx context.Context, pool *datapool.Pool) (*datapool.Pool, error) {
	return datapool.Create(ctx, b.c, pool)
}

func (b *v2Backend) GetDataPool(ctx context.Context, label string) (*datapool.Pool, error) {
	return datapool.Fetch(ctx, b.c, label)
}

// defaultErrorTags describes the reporting machine. Caller tags override on
// key collisions.
func defaultErrorTags() map[string]string {
	tags := map[string]string{
		"user_name":  "",
		"host_name":  "",
		"os_name":    runtime.GOOS,
		"go_version": runtime.Version(),
	}
	if current, err := user.Current(); err == nil {
		tags["user_name"] = current.Username
	}
	if host, err := os.Hostname(); err == nil {
		tags["host_name"] = host
	}
	return tags
}

// moduleManifest lists the binary's module dependencies, one "path version"
// per line.
func moduleManifest() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n", info.Main.Path, info.Main.Version)
	for _, dep := range info.Deps {
		fmt.Fprintf(&sb, "%s %s\n", dep.Path, dep.Version)
	}
	return sb.String()
}

func expandPath(path string) string {
	path = os.ExpandEnv(path)
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return path
}
