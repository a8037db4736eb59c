package datapool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cast"

	"github.com/bnema/botmaestro/internal/wire"
)

// ErrNoEntryID is returned when saving an entry that was never pushed to or
// fetched from a pool.
var ErrNoEntryID = errors.New("entry has no remote id")

// ErrNoSession is returned by remote operations on an unbound pool or entry.
var ErrNoSession = errors.New("no portal session bound")

// Entry is one unit of work inside a pool. The struct fields are the entry's
// structure; the arbitrary payload lives in Values and is read through the
// Value accessors. The two never shadow each other.
//
// The processing state is kept private so every caller write goes through
// SetState and the transition table.
type Entry struct {
	// Priority orders consumption among pending entries.
	Priority int
	// Values is the caller-defined payload.
	Values map[string]any
	// PoolLabel, TaskID, Parent and Child are assigned by the portal or by
	// the claim protocol and sent back on Save.
	PoolLabel string
	TaskID    string
	Parent    string
	Child     string

	// ID and the dates are portal-assigned and never sent on writes.
	ID             string
	DateRegister   string
	DateProcessing string
	DateFinished   string

	state   State
	session Session
}

// NewEntry builds an entry ready to be pushed into a pool.
func NewEntry(values map[string]any, priority int) *Entry {
	if values == nil {
		values = map[string]any{}
	}
	return &Entry{Priority: priority, Values: values}
}

// Bind attaches the portal session the entry issues its own requests
// through. Whoever constructed or fetched the entry calls this; the session
// is never serialized.
func (e *Entry) Bind(s Session) {
	e.session = s
}

// State returns the entry's current processing state. The zero value means
// the entry was never synced.
func (e *Entry) State() State {
	return e.state
}

// SetState moves the entry to next when the transition table allows it. On a
// rejected transition the entry keeps its current state and the returned
// error names the allowed successors. Any state is reachable from an unsynced
// entry.
func (e *Entry) SetState(next State) error {
	if err := checkTransition(e.state, next); err != nil {
		return err
	}
	e.state = next
	return nil
}

// Value reads a payload key, falling back when absent. It never touches the
// network.
func (e *Entry) Value(key string, fallback any) any {
	if v, ok := e.Values[key]; ok {
		return v
	}
	return fallback
}

// StringValue reads a payload key coerced to a string.
func (e *Entry) StringValue(key string, fallback string) string {
	if v, ok := e.Values[key]; ok {
		return cast.ToString(v)
	}
	return fallback
}

// IntValue reads a payload key coerced to an int.
func (e *Entry) IntValue(key string, fallback int) int {
	if v, ok := e.Values[key]; ok {
		return cast.ToInt(v)
	}
	return fallback
}

// FloatValue reads a payload key coerced to a float64.
func (e *Entry) FloatValue(key string, fallback float64) float64 {
	if v, ok := e.Values[key]; ok {
		return cast.ToFloat64(v)
	}
	return fallback
}

// BoolValue reads a payload key coerced to a bool.
func (e *Entry) BoolValue(key string, fallback bool) bool {
	if v, ok := e.Values[key]; ok {
		return cast.ToBool(v)
	}
	return fallback
}

// SetValue writes a payload key.
func (e *Entry) SetValue(key string, value any) {
	if e.Values == nil {
		e.Values = map[string]any{}
	}
	e.Values[key] = value
}

// pushPayload is the wire shape for creating an entry: everything else is
// portal-assigned.
func (e *Entry) pushPayload() map[string]any {
	return map[string]any{
		"priority": e.Priority,
		"values":   e.Values,
	}
}

// updatePayload is the full mutable projection sent on Save.
func (e *Entry) updatePayload() map[string]any {
	return map[string]any{
		"priority":      e.Priority,
		"values":        e.Values,
		"dataPoolLabel": orNil(e.PoolLabel),
		"state":         orNil(string(e.state)),
		"taskId":        orNil(e.TaskID),
		"parent":        orNil(e.Parent),
		"child":         orNil(e.Child),
	}
}

func orNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type entryWire struct {
	ID             any            `json:"id"`
	DataPoolLabel  string         `json:"dataPoolLabel"`
	State          string         `json:"state"`
	Values         map[string]any `json:"values"`
	TaskID         any            `json:"taskId"`
	Priority       int            `json:"priority"`
	Parent         string         `json:"parent"`
	Child          string         `json:"child"`
	DateRegister   string         `json:"dateRegister"`
	DateProcessing string         `json:"dateProcessing"`
	DateFinished   string         `json:"dateFinished"`
}

// hydrate replaces the entry's fields with the portal's authoritative
// response. The state write bypasses the transition table: the server
// already performed the transition. Ids arrive as strings or numbers
// depending on the portal build; a response without a task id keeps the
// locally stamped one.
func (e *Entry) hydrate(data []byte) error {
	var w entryWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode entry: %w", err)
	}
	e.applyWire(w)
	return nil
}

func (e *Entry) applyWire(w entryWire) {
	e.ID = cast.ToString(w.ID)
	e.PoolLabel = w.DataPoolLabel
	e.state = State(w.State)
	e.Values = w.Values
	if e.Values == nil {
		e.Values = map[string]any{}
	}
	if w.TaskID != nil {
		e.TaskID = cast.ToString(w.TaskID)
	}
	e.Priority = w.Priority
	e.Parent = w.Parent
	e.Child = w.Child
	e.DateRegister = w.DateRegister
	e.DateProcessing = w.DateProcessing
	e.DateFinished = w.DateFinished
}

// Save sends the entry's full mutable projection to the portal and replaces
// the local fields with the response. The entry must have been pushed or
// fetched before.
func (e *Entry) Save(ctx context.Context) error {
	if e.session == nil {
		return ErrNoSession
	}
	if e.ID == "" {
		return ErrNoEntryID
	}

	endpoint := fmt.Sprintf("%s/api/v2/datapool/%s/entry/%s",
		e.session.BaseURL(), url.PathEscape(e.PoolLabel), url.PathEscape(e.ID))

	requestCtx, cancel := wire.RequestContext(ctx, e.session.Timeout())
	defer cancel()

	req, err := wire.JSONRequest(requestCtx, http.MethodPost, endpoint, e.updatePayload())
	if err != nil {
		return err
	}
	applyHeaders(req, e.session)

	resp, err := sessionClient(e.session).Do(req)
	if err != nil {
		return fmt.Errorf("save entry: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if !wire.Success(resp) {
		return wire.DecodeError(resp, "entry save")
	}
	data, err := wire.ReadBody(resp)
	if err != nil {
		return err
	}
	return e.hydrate(data)
}

// ReportDone marks the entry DONE and saves it.
func (e *Entry) ReportDone(ctx context.Context) error {
	return e.report(ctx, StateDone)
}

// ReportError marks the entry ERROR and saves it.
func (e *Entry) ReportError(ctx context.Context) error {
	return e.report(ctx, StateError)
}

func (e *Entry) report(ctx context.Context, state State) error {
	if err := e.SetState(state); err != nil {
		return err
	}
	return e.Save(ctx)
}
