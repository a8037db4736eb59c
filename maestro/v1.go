package maestro

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cast"

	"github.com/bnema/botmaestro/internal/wire"
	"github.com/bnema/botmaestro/maestro/datapool"
)

// v1Backend speaks the original form-encoded portal API under /app/api.
// Authentication rides in the access_token form or query field instead of
// headers, and several responses tunnel JSON inside the envelope's message
// field. Operations introduced by later portals return errLegacyUnsupported,
// though version gating normally rejects those calls before they get here.
type v1Backend struct {
	c *Client
}

func newV1Backend(c *Client) *v1Backend {
	return &v1Backend{c: c}
}

func (b *v1Backend) postForm(ctx context.Context, path string, values url.Values) (int, []byte, error) {
	requestCtx, cancel := wire.RequestContext(ctx, b.c.timeout)
	defer cancel()

	values.Set("access_token", b.c.token)
	req, err := wire.FormRequest(requestCtx, b.c.server+path, values)
	if err != nil {
		return 0, nil, err
	}

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

func (b *v1Backend) get(ctx context.Context, path string, values url.Values) (*http.Response, context.CancelFunc, error) {
	requestCtx, cancel := wire.RequestContext(ctx, b.c.timeout)

	values.Set("access_token", b.c.token)
	req, err := wire.GetRequest(requestCtx, b.c.server+path, values)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	resp, err := b.c.httpClient().Do(req)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("portal request: %w", err)
	}
	return resp, cancel, nil
}

// formMessage posts a form and parses the {message, type} envelope.
func (b *v1Backend) formMessage(ctx context.Context, path string, values url.Values, op string) (*ServerMessage, error) {
	status, data, err := b.postForm(ctx, path, values)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, wire.ErrorFromBody(op, status, data)
	}
	return serverMessageFromBody(data), nil
}

func (b *v1Backend) Login(ctx context.Context) (string, error) {
	requestCtx, cancel := wire.RequestContext(ctx, b.c.timeout)
	defer cancel()

	form := url.Values{}
	form.Set("userLogin", b.c.login)
	form.Set("key", b.c.key)
	req, err := wire.FormRequest(requestCtx, b.c.server+"/app/api/login", form)
	if err != nil {
		return "", err
	}

	resp, err := b.c.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", wire.DecodeError(resp, "login")
	}

	var result struct {
		AccessToken string `json:"access_token"`
	}
	if err := wire.DecodeJSON(resp, &result); err != nil {
		return "", err
	}
	return result.AccessToken, nil
}

func (b *v1Backend) Alert(ctx context.Context, taskID string, title string, message string, alertType AlertType) (*ServerMessage, error) {
	form := url.Values{}
	form.Set("taskId", taskID)
	form.Set("title", title)
	form.Set("message", message)
	form.Set("type", string(alertType))
	return b.formMessage(ctx, "/app/api/alert/send", form, "alert")
}

func (b *v1Backend) Message(ctx context.Context, emails []string, users []string, subject string, body string, msgType MessageType, group string) (*ServerMessage, error) {
	form := url.Values{}
	form.Set("email", strings.Join(emails, ","))
	form.Set("users", strings.Join(users, ","))
	form.Set("subject", subject)
	form.Set("body", body)
	form.Set("type", string(msgType))
	form.Set("group", group)
	return b.formMessage(ctx, "/app/api/message/send", form, "message send")
}

func (b *v1Backend) CreateTask(ctx context.Context, activityLabel string, parameters map[string]any, opts TaskOptions) (*Task, error) {
	form := url.Values{}
	form.Set("activityLabel", activityLabel)
	form.Set("taskForTest", cast.ToString(opts.Test))
	for name, value := range parameters {
		form.Set(name, cast.ToString(value))
	}

	status, data, err := b.postForm(ctx, "/app/api/task/create", form)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, wire.ErrorFromBody("task create", status, data)
	}

	// The legacy portal tunnels the created task as a JSON string inside
	// the envelope's payload field.
	var envelope struct {
		Payload string `json:"payload"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode task envelope: %w", err)
	}
	var task Task
	if err := json.Unmarshal([]byte(envelope.Payload), &task); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &task, nil
}

func (b *v1Backend) FinishTask(ctx context.Context, taskID string, status FinishStatus, message string, counts ItemCounts) (*ServerMessage, error) {
	form := url.Values{}
	form.Set("taskId", taskID)
	form.Set("finishStatus", string(status))
	form.Set("finishMessage", message)
	form.Set("processedItems", "1")
	return b.formMessage(ctx, "/app/api/task/finish", form, "task finish")
}

func (b *v1Backend) RestartTask(ctx context.Context, taskID string) (*ServerMessage, error) {
	form := url.Values{}
	form.Set("id", taskID)
	return b.formMessage(ctx, "/app/api/task/restart", form, "task restart")
}

func (b *v1Backend) GetTask(ctx context.Context, taskID string) (*Task, error) {
	query := url.Values{}
	query.Set("id", taskID)

	resp, cancel, err := b.get(ctx, "/app/api/task/get", query)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, wire.DecodeError(resp, "task get")
	}
	var task Task
	if err := wire.DecodeJSON(resp, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (b *v1Backend) InterruptTask(ctx context.Context, taskID string) (*ServerMessage, error) {
	return nil, errLegacyUnsupported
}

func (b *v1Backend) NewLog(ctx context.Context, activityLabel string, columns []Column) (*ServerMessage, error) {
	encoded, err := json.Marshal(columns)
	if err != nil {
		return nil, fmt.Errorf("encode columns: %w", err)
	}
	form := url.Values{}
	form.Set("activityLabel", activityLabel)
	form.Set("columns", string(encoded))
	return b.formMessage(ctx, "/app/api/log/create", form, "log create")
}

func (b *v1Backend) NewLogEntry(ctx context.Context, activityLabel string, values map[string]any) (*ServerMessage, error) {
	encoded, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encode log values: %w", err)
	}
	form := url.Values{}
	form.Set("logName", activityLabel)
	form.Set("columns", string(encoded))
	return b.formMessage(ctx, "/app/api/newLogEntry", form, "log entry create")
}

func (b *v1Backend) GetLog(ctx context.Context, activityLabel string, date string) ([]map[string]any, error) {
	query := url.Values{}
	query.Set("activityLabel", activityLabel)
	query.Set("date", date)

	resp, cancel, err := b.get(ctx, "/app/api/log/read", query)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, wire.DecodeError(resp, "log read")
	}

	data, err := wire.ReadBody(resp)
	if err != nil {
		return nil, err
	}

	// Entries arrive as a JSON array string inside the envelope's message.
	var envelope struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode log envelope: %w", err)
	}
	var entries []struct {
		Columns map[string]any `json:"columns"`
	}
	if err := json.Unmarshal([]byte(envelope.Message), &entries); err != nil {
		return nil, fmt.Errorf("decode log entries: %w", err)
	}

	rows := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, entry.Columns)
	}
	return rows, nil
}

func (b *v1Backend) DeleteLog(ctx context.Context, activityLabel string) (*ServerMessage, error) {
	form := url.Values{}
	form.Set("activityLabel", activityLabel)
	return b.formMessage(ctx, "/app/api/log/delete", form, "log delete")
}

func (b *v1Backend) PostArtifact(ctx context.Context, taskID int64, name string, filePath string) (*ServerMessage, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open artifact file: %w", err)
	}
	defer func() { _ = f.Close() }()

	fields := map[string]string{
		"taskId":       cast.ToString(taskID),
		"name":         name,
		"access_token": b.c.token,
	}
	body, contentType, err := wire.EncodeMultipartForm(fields, "body", name, f)
	if err != nil {
		return nil, err
	}

	requestCtx, cancel := wire.RequestContext(ctx, b.c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, b.c.server+"/app/api/newArtifact", body)
	if err != nil {
		return nil, fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := b.c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("portal upload: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, wire.DecodeError(resp, "artifact upload")
	}
	data, err := wire.ReadBody(resp)
	if err != nil {
		return nil, err
	}
	return serverMessageFromBody(data), nil
}

func (b *v1Backend) ListArtifacts(ctx context.Context, days int) ([]Artifact, error) {
	resp, cancel, err := b.get(ctx, "/app/api/artifact/list", url.Values{})
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, wire.DecodeError(resp, "artifact list")
	}

	data, err := wire.ReadBody(resp)
	if err != nil {
		return nil, err
	}
	var envelope struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode artifact envelope: %w", err)
	}
	if envelope.Message == "" {
		return []Artifact{}, nil
	}

	var artifacts []Artifact
	if err := json.Unmarshal([]byte(envelope.Message), &artifacts); err != nil {
		return nil, fmt.Errorf("decode artifact list: %w", err)
	}
	return artifacts, nil
}

func (b *v1Backend) GetArtifact(ctx context.Context, artifactID int64) (string, []byte, error) {
	query := url.Values{}
	query.Set("id", cast.ToString(artifactID))

	resp, cancel, err := b.get(ctx, "/app/api/artifact/get", query)
	if err != nil {
		return "", nil, err
	}
	defer cancel()
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", nil, wire.DecodeError(resp, "artifact get")
	}

	content, err := wire.ReadBody(resp)
	if err != nil {
		return "", nil, err
	}
	return artifactFileName(resp.Header.Get("Content-Disposition")), content, nil
}

// artifactFileName recovers the original upload name from the legacy
// Content-Disposition header. The stored name carries a storage suffix
// between the last underscore and the extension that must be dropped.
func artifactFileName(disposition string) string {
	name := disposition
	if idx := strings.LastIndex(disposition, "="); idx >= 0 {
		name = strings.Trim(disposition[idx+1:], `"`)
	}
	under := strings.LastIndex(name, "_")
	dot := strings.LastIndex(name, ".")
	if under >= 0 && dot > under {
		name = name[:under] + name[dot:]
	}
	return name
}

func (b *v1Backend) ReportError(ctx context.Context, taskID int64, report ErrorReport) (string, error) {
	return "", errLegacyUnsupported
}

func (b *v1Backend) GetCredential(ctx context.Context, label string, key string) (string, error) {
	return "", errLegacyUnsupported
}

func (b *v1Backend) CreateCredential(ctx context.Context, label string, key string, value string) error {
	return errLegacyUnsupported
}

func (b *v1Backend) CreateDataPool(ctx context.Context, pool *datapool.Pool) (*datapool.Pool, error) {
	return nil, errLegacyUnsupported
}

func (b *v1Backend) GetDataPool(ctx context.Context, label string) (*datapool.Pool, error) {
	return nil, errLegacyUnsupported
}
