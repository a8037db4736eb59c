// Package datapool implements the portal's consumer-producer queue: pools of
// prioritized entries that producers push and workers claim, process and
// finalize. The server arbitrates claims; the client's job is faithful wire
// translation plus local guarding of entry state transitions.
package datapool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cast"

	"github.com/bnema/botmaestro/internal/wire"
)

// Consumption policies decide which pending entry a pull hands out first.
const (
	ConsumptionFIFO = "FIFO"
	ConsumptionLIFO = "LIFO"
)

// Trigger policies decide when the portal starts the pool's default
// automation on its own.
const (
	TriggerAlways       = "ALWAYS"
	TriggerNever        = "NEVER"
	TriggerNoTaskActive = "NO_TASK_ACTIVE"
)

// Pool is a named remote queue. Label and DefaultAutomation are caller
// supplied at construction and immutable once created remotely; everything
// else is overwritten from server responses.
type Pool struct {
	Label             string
	DefaultAutomation string
	ConsumptionPolicy string
	Schema            []string
	RepositoryLabel   string
	Trigger           string
	AutoRetry         bool
	MaxAutoRetry      int
	AbortOnError      bool
	MaxErrorsInactive int
	MaxProcessingTime int
	Active            bool

	// ID is assigned by the portal on creation.
	ID string

	session Session
}

// New builds a pool with the portal's defaults: FIFO consumption, no
// trigger, retries and abort-on-error enabled, active.
func New(label string, defaultAutomation string) *Pool {
	return &Pool{
		Label:             label,
		DefaultAutomation: defaultAutomation,
		ConsumptionPolicy: ConsumptionFIFO,
		Schema:            []string{},
		RepositoryLabel:   "DEFAULT",
		Trigger:           TriggerNever,
		AutoRetry:         true,
		AbortOnError:      true,
		Active:            true,
	}
}

// Bind attaches the portal session the pool issues requests through.
func (p *Pool) Bind(s Session) {
	p.session = s
}

// payload is the wire shape for pool writes.
func (p *Pool) payload() map[string]any {
	return map[string]any{
		"label":                   p.Label,
		"defaultAutomation":       p.DefaultAutomation,
		"consumptionPolicy":       p.ConsumptionPolicy,
		"schema":                  p.Schema,
		"repositoryLabel":         p.RepositoryLabel,
		"trigger":                 p.Trigger,
		"autoRetry":               p.AutoRetry,
		"maxAutoRetry":            p.MaxAutoRetry,
		"abortOnError":            p.AbortOnError,
		"maxErrorsBeforeInactive": p.MaxErrorsInactive,
		"itemMaxProcessingTime":   p.MaxProcessingTime,
		"active":                  p.Active,
	}
}

// poolWire is the read shape. Responses name the default automation
// "defaultActivity", unlike writes.
type poolWire struct {
	ID                any      `json:"id"`
	Label             string   `json:"label"`
	DefaultActivity   string   `json:"defaultActivity"`
	ConsumptionPolicy string   `json:"consumptionPolicy"`
	Schema            []string `json:"schema"`
	RepositoryLabel   string   `json:"repositoryLabel"`
	Trigger           string   `json:"trigger"`
	AutoRetry         bool     `json:"autoRetry"`
	MaxAutoRetry      int      `json:"maxAutoRetry"`
	AbortOnError      bool     `json:"abortOnError"`
	MaxErrorsInactive int      `json:"maxErrorsBeforeInactive"`
	MaxProcessingTime int      `json:"itemMaxProcessingTime"`
	Active            bool     `json:"active"`
}

func (p *Pool) hydrate(data []byte) error {
	var w poolWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode datapool: %w", err)
	}
	p.ID = cast.ToString(w.ID)
	p.Label = w.Label
	p.DefaultAutomation = w.DefaultActivity
	p.ConsumptionPolicy = w.ConsumptionPolicy
	p.Schema = w.Schema
	p.RepositoryLabel = w.RepositoryLabel
	p.Trigger = w.Trigger
	p.AutoRetry = w.AutoRetry
	p.MaxAutoRetry = w.MaxAutoRetry
	p.AbortOnError = w.AbortOnError
	p.MaxErrorsInactive = w.MaxErrorsInactive
	p.MaxProcessingTime = w.MaxProcessingTime
	p.Active = w.Active
	return nil
}

// Summary is the pool's aggregate counters. Reading it never mutates the
// pool's own fields.
type Summary struct {
	CountPending    int     `json:"countPending"`
	CountProcessing int     `json:"countProcessing"`
	CountDone       int     `json:"countDone"`
	CountError      int     `json:"countError"`
	CountTimeout    int     `json:"countTimeout"`
	AvgDone         float64 `json:"avgDone"`
}

// endpoint builds {base}/api/v2/datapool/{label}{suffix}.
func (p *Pool) endpoint(suffix string) string {
	return fmt.Sprintf("%s/api/v2/datapool/%s%s",
		p.session.BaseURL(), url.PathEscape(p.Label), suffix)
}

// do issues one pool-scoped request and consumes the response, so the
// request context can be released before the caller decodes. body nil means
// no payload.
func (p *Pool) do(ctx context.Context, method string, suffix string, body any) (int, []byte, error) {
	if p.session == nil {
		return 0, nil, ErrNoSession
	}

	requestCtx, cancel := wire.RequestContext(ctx, p.session.Timeout())
	defer cancel()

	req, err := wire.JSONRequest(requestCtx, method, p.endpoint(suffix), body)
	if err != nil {
		return 0, nil, err
	}
	applyHeaders(req, p.session)

	resp, err := sessionClient(p.session).Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("datapool %s: %w", p.Label, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := wire.ReadBody(resp)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}

// Create pushes a locally constructed pool to the portal and binds it to the
// session. The portal does not echo the created resource back, so the local
// fields are kept as-is; fetch or refresh to learn the assigned id.
func Create(ctx context.Context, s Session, pool *Pool) (*Pool, error) {
	if s == nil {
		return nil, ErrNoSession
	}

	requestCtx, cancel := wire.RequestContext(ctx, s.Timeout())
	defer cancel()

	endpoint := s.BaseURL() + "/api/v2/datapool"
	req, err := wire.JSONRequest(requestCtx, http.MethodPost, endpoint, pool.payload())
	if err != nil {
		return nil, err
	}
	applyHeaders(req, s)

	resp, err := sessionClient(s).Do(req)
	if err != nil {
		return nil, fmt.Errorf("create datapool: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if !wire.Success(resp) {
		return nil, wire.DecodeError(resp, "datapool create")
	}
	pool.Bind(s)
	return pool, nil
}

// Fetch retrieves an existing pool by label and binds it to the session.
func Fetch(ctx context.Context, s Session, label string) (*Pool, error) {
	pool := &Pool{Label: label, session: s}
	status, data, err := pool.do(ctx, http.MethodGet, "", nil)
	if err != nil {
		return nil, err
	}
	if !wire.StatusSuccess(status) {
		return nil, wire.ErrorFromBody("datapool get", status, data)
	}
	if err := pool.hydrate(data); err != nil {
		return nil, err
	}
	return pool, nil
}

// save posts the pool's full configuration and refreshes it from the
// response.
func (p *Pool) save(ctx context.Context) error {
	status, data, err := p.do(ctx, http.MethodPost, "", p.payload())
	if err != nil {
		return err
	}
	if !wire.StatusSuccess(status) {
		return wire.ErrorFromBody("datapool update", status, data)
	}
	return p.hydrate(data)
}

// Activate turns the pool on so pulls hand out entries again.
func (p *Pool) Activate(ctx context.Context) error {
	p.Active = true
	return p.save(ctx)
}

// Deactivate turns the pool off. Entries stay queued.
func (p *Pool) Deactivate(ctx context.Context) error {
	p.Active = false
	return p.save(ctx)
}

// IsActive refreshes the pool from the portal and reports the active flag.
func (p *Pool) IsActive(ctx context.Context) (bool, error) {
	status, data, err := p.do(ctx, http.MethodGet, "", nil)
	if err != nil {
		return false, err
	}
	if !wire.StatusSuccess(status) {
		return false, wire.ErrorFromBody("datapool get", status, data)
	}
	if err := p.hydrate(data); err != nil {
		return false, err
	}
	return p.Active, nil
}

// Summary fetches the pool's aggregate counters.
func (p *Pool) Summary(ctx context.Context) (Summary, error) {
	status, data, err := p.do(ctx, http.MethodGet, "/summary", nil)
	if err != nil {
		return Summary{}, err
	}
	if !wire.StatusSuccess(status) {
		return Summary{}, wire.ErrorFromBody("datapool summary", status, data)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return Summary{}, fmt.Errorf("decode summary: %w", err)
	}
	return s, nil
}

// IsEmpty reports whether the pool has no pending entries.
func (p *Pool) IsEmpty(ctx context.Context) (bool, error) {
	s, err := p.Summary(ctx)
	if err != nil {
		return false, err
	}
	return s.CountPending == 0, nil
}

// HasNext reports whether a pull could yield an entry right now.
func (p *Pool) HasNext(ctx context.Context) (bool, error) {
	empty, err := p.IsEmpty(ctx)
	if err != nil {
		return false, err
	}
	return !empty, nil
}

// CreateEntry pushes a new entry into the pool. Only priority and values are
// sent; the portal assigns the id and the PENDING state. The passed entry is
// updated in place from the response, bound to the session and returned.
func (p *Pool) CreateEntry(ctx context.Context, entry *Entry) (*Entry, error) {
	status, data, err := p.do(ctx, http.MethodPost, "/push", entry.pushPayload())
	if err != nil {
		return nil, err
	}
	if !wire.StatusSuccess(status) {
		return nil, wire.ErrorFromBody("entry push", status, data)
	}
	if err := entry.hydrate(data); err != nil {
		return nil, err
	}
	entry.Bind(p.session)
	return entry, nil
}

// GetEntry fetches one entry of the pool by id.
func (p *Pool) GetEntry(ctx context.Context, entryID string) (*Entry, error) {
	status, data, err := p.do(ctx, http.MethodGet, "/entry/"+url.PathEscape(entryID), nil)
	if err != nil {
		return nil, err
	}
	if !wire.StatusSuccess(status) {
		return nil, wire.ErrorFromBody("entry get", status, data)
	}
	entry := &Entry{}
	if err := entry.hydrate(data); err != nil {
		return nil, err
	}
	entry.Bind(p.session)
	return entry, nil
}

// SaveEntry binds the entry to the pool's session and saves it.
func (p *Pool) SaveEntry(ctx context.Context, entry *Entry) error {
	entry.Bind(p.session)
	return entry.Save(ctx)
}

// Next claims the next pending entry for taskID. A 204 means the pool has
// nothing to hand out and returns (nil, nil). On a body the portal has
// already moved the entry to PROCESSING and bound it atomically; the claimed
// entry is hydrated from the response and stamped with the caller's task id,
// which the portal does not echo back. Any other outcome is an error: a
// timed-out claim is ambiguous and must never be retried as if it were safe.
func (p *Pool) Next(ctx context.Context, taskID string) (*Entry, error) {
	status, data, err := p.do(ctx, http.MethodGet, "/pull", nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	if !wire.StatusSuccess(status) {
		return nil, wire.ErrorFromBody("entry pull", status, data)
	}

	entry := &Entry{}
	if err := entry.hydrate(data); err != nil {
		return nil, err
	}
	entry.TaskID = taskID
	entry.Bind(p.session)
	return entry, nil
}

// Delete removes the pool and everything queued in it.
func (p *Pool) Delete(ctx context.Context) error {
	status, data, err := p.do(ctx, http.MethodDelete, "", nil)
	if err != nil {
		return err
	}
	if !wire.StatusSuccess(status) {
		return wire.ErrorFromBody("datapool delete", status, data)
	}
	return nil
}
