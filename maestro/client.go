package maestro

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/bnema/botmaestro/internal/wire"
	"github.com/bnema/botmaestro/maestro/datapool"
)

// Config carries everything needed to reach a portal.
type Config struct {
	// Server is the portal base URL.
	Server string
	// Login is the workspace login, which doubles as the organization
	// label sent on every authenticated request.
	Login string
	// Key is the workspace access key.
	Key string
	// TaskID is the task this process runs under, when launched by an
	// agent.
	TaskID string
	// Timeout bounds each request when the caller's context carries no
	// deadline. Zero means 30 seconds.
	Timeout time.Duration
	// AllowOffline turns remote operations into warned no-ops while not
	// logged in, instead of errors.
	AllowOffline bool
	// InsecureSkipVerify disables TLS certificate checks. Ignored when
	// HTTPClient is set.
	InsecureSkipVerify bool
	// HTTPClient overrides the transport. Nil uses http.DefaultClient.
	HTTPClient *http.Client
	// Logger receives offline-mode diagnostics. Nil uses slog.Default().
	Logger *slog.Logger
}

// Client is one authenticated session against a portal. Login probes the
// portal once to pick the wire protocol generation and the negotiated
// version that gates newer operations. Create one Client per worker; a
// Client is not synchronized for concurrent use.
type Client struct {
	server       string
	login        string
	key          string
	taskID       string
	timeout      time.Duration
	allowOffline bool
	client       *http.Client
	logger       *slog.Logger

	token   string
	version *semver.Version
	backend backend

	warnOnce   sync.Once
	countsOnce sync.Once
}

// New builds a Client from cfg. No network request happens until Login or
// the first operation.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = wire.DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil && cfg.InsecureSkipVerify {
		httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		}
	}
	return &Client{
		server:       strings.TrimRight(cfg.Server, "/"),
		login:        cfg.Login,
		key:          cfg.Key,
		taskID:       cfg.TaskID,
		timeout:      timeout,
		allowOffline: cfg.AllowOffline,
		client:       httpClient,
		logger:       logger,
	}
}

// FromArgs builds a Client the way an agent hands a session to the process
// it launches: args (usually os.Args[1:]) carrying [server, taskID, token]
// and optionally the organization label attaches directly, with the wire
// protocol negotiated lazily on first use. With fewer than three args the
// configuration is used instead, logging in when a server is configured.
func FromArgs(ctx context.Context, args []string, cfg Config) (*Client, error) {
	if len(args) >= 3 {
		cfg.Server = args[0]
		cfg.TaskID = args[1]
		if len(args) >= 4 {
			cfg.Login = args[3]
		}
		c := New(cfg)
		c.token = args[2]
		return c, nil
	}
	c := New(cfg)
	if cfg.Server != "" {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Server returns the normalized portal base URL.
func (c *Client) Server() string { return c.server }

// Organization returns the organization label sent on authenticated
// requests.
func (c *Client) Organization() string { return c.login }

// AccessToken returns the current token, empty while logged off.
func (c *Client) AccessToken() string { return c.token }

// TaskID returns the task this process runs under, empty when not launched
// by an agent.
func (c *Client) TaskID() string { return c.taskID }

// Version returns the negotiated portal version, empty before the first
// probe.
func (c *Client) Version() string {
	if c.version == nil {
		return ""
	}
	return c.version.Original()
}

// BaseURL implements datapool.Session.
func (c *Client) BaseURL() string { return c.server }

// Headers implements datapool.Session.
func (c *Client) Headers() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set(wire.HeaderToken, c.token)
	h.Set(wire.HeaderOrganization, c.login)
	return h
}

// HTTPClient implements datapool.Session.
func (c *Client) HTTPClient() *http.Client { return c.httpClient() }

// Timeout implements datapool.Session.
func (c *Client) Timeout() time.Duration { return c.timeout }

func (c *Client) httpClient() *http.Client {
	if c.client == nil {
		return http.DefaultClient
	}
	return c.client
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set(wire.HeaderToken, c.token)
	req.Header.Set(wire.HeaderOrganization, c.login)
}

// Login negotiates the wire protocol with the portal and obtains an access
// token. Safe to call again to refresh the token; the protocol is re-probed
// each time.
func (c *Client) Login(ctx context.Context) error {
	if c.server == "" {
		return errors.New("server is required")
	}
	if c.login == "" {
		return errors.New("login is required")
	}
	if c.key == "" {
		return errors.New("key is required")
	}
	c.Logoff()

	if err := c.defineBackend(ctx); err != nil {
		return err
	}
	token, err := c.backend.Login(ctx)
	if err != nil {
		return err
	}
	c.token = token
	return nil
}

// Logoff drops the access token. The negotiated backend is kept so a later
// Login against the same portal does not change protocol mid-flight.
func (c *Client) Logoff() {
	c.token = ""
}

// errProbeLegacy marks a reachable portal that answers the version probe
// with a non-200 status.
var errProbeLegacy = errors.New("portal does not serve the version endpoint")

// defineBackend probes the portal and selects the wire protocol generation
// used for every subsequent operation.
func (c *Client) defineBackend(ctx context.Context) error {
	version, err := c.probeVersion(ctx)
	switch {
	case err == nil:
		c.version = version
		c.backend = newV2Backend(c)
	case errors.Is(err, errProbeLegacy):
		c.version = semver.MustParse(legacyVersion)
		c.backend = newV1Backend(c)
	case c.allowOffline:
		c.logger.Debug("portal version probe failed, assuming latest", "server", c.server, "error", err)
		c.version = semver.MustParse(offlineVersion)
		c.backend = newV2Backend(c)
	default:
		return err
	}
	return nil
}

// probeVersion asks the portal which API generation it speaks. The request
// is unauthenticated. errProbeLegacy distinguishes a portal that answered
// but predates the version endpoint from one that could not be reached.
func (c *Client) probeVersion(ctx context.Context) (*semver.Version, error) {
	requestCtx, cancel := wire.RequestContext(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, c.server+"/api/v2/maestro/version", nil)
	if err != nil {
		return nil, fmt.Errorf("create probe request: %w", err)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe portal version: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errProbeLegacy
	}
	var probed struct {
		Version string `json:"version"`
	}
	if err := wire.DecodeJSON(resp, &probed); err != nil {
		return nil, err
	}
	parsed, err := semver.NewVersion(probed.Version)
	if err != nil {
		return nil, fmt.Errorf("parse portal version %q: %w", probed.Version, err)
	}
	return parsed, nil
}

// ensureBackend performs the protocol probe lazily, covering clients
// attached via FromArgs that never call Login.
func (c *Client) ensureBackend(ctx context.Context) error {
	if c.backend != nil {
		return nil
	}
	return c.defineBackend(ctx)
}

// ensureVersion rejects operations the negotiated portal version does not
// support, before any request is sent.
func (c *Client) ensureVersion(op string, minimum string) error {
	if c.version == nil {
		if c.allowOffline {
			return nil
		}
		return ErrNotConnected
	}
	if c.version.LessThan(semver.MustParse(minimum)) {
		return &VersionError{Op: op, Negotiated: c.version.Original(), Required: minimum}
	}
	return nil
}

// gateToken reports whether an operation may proceed. Offline mode turns a
// missing token into a skipped call: one warning per Client, then a debug
// line naming each skipped operation.
func (c *Client) gateToken(op string) (bool, error) {
	if c.token != "" {
		return true, nil
	}
	if !c.allowOffline {
		return false, ErrNotLoggedIn
	}
	c.warnOnce.Do(func() {
		c.logger.Warn("not logged into a portal, remote operations are skipped", "server", c.server)
	})
	c.logger.Debug("skipping portal operation", "op", op)
	return false, nil
}

// Alert registers an alert on a task's timeline.
func (c *Client) Alert(ctx context.Context, taskID string, title string, message string, alertType AlertType) (*ServerMessage, error) {
	if err := c.ensureBackend(ctx); err != nil {
		return nil, err
	}
	if ok, err := c.gateToken("alert"); !ok {
		return nil, err
	}
	return c.backend.Alert(ctx, taskID, title, message, alertType)
}

// Message sends an email or portal message to users of the organization.
func (c *Client) Message(ctx context.Context, emails []string, users []string, subject string, body string, msgType MessageType, group string) (*ServerMessage, error) {
	if err := c.ensureBackend(ctx); err != nil {
		return nil, err
	}
	if ok, err := c.gateToken("message send"); !ok {
		return nil, err
	}
	return c.backend.Message(ctx, emails, users, subject, body, msgType, group)
}

// CreateTask queues a task for the automation registered under
// activityLabel.
func (c *Client) CreateTask(ctx context.Context, activityLabel string, parameters map[string]any, opts TaskOptions) (*Task, error) {
	if err := c.ensureBackend(ctx); err != nil {
		return nil, err
	}
	if ok, err := c.gateToken("task create"); !ok {
		return nil, err
	}
	return c.backend.CreateTask(ctx, activityLabel, parameters, opts)
}

// FinishTask reports a task's terminal status. Item counts follow the
// reconciliation rules of ItemCounts: report at least two of the three, or
// none at all.
func (c *Client) FinishTask(ctx context.Context, taskID string, status FinishStatus, message string, counts ItemCounts) (*ServerMessage, error) {
	if err := c.ensureBackend(ctx); err != nil {
		return nil, err
	}
	if ok, err := c.gateToken("task finish"); !ok {
		return nil, err
	}
	if counts.Total == nil && counts.Processed == nil && counts.Failed == nil {
		c.countsOnce.Do(func() {
			c.logger.Warn("finishing tasks without item counts, report total, processed and failed items")
		})
	}
	total, processed, failed, err := reconcileItems(counts.Total, counts.Processed, counts.Failed)
	if err != nil {
		return nil, err
	}
	reconciled := ItemCounts{Total: total, Processed: processed, Failed: failed}
	return c.backend.FinishTask(ctx, taskID, status, message, reconciled)
}

// RestartTask puts a finished or canceled task back on the queue.
func (c *Client) RestartTask(ctx context.Context, taskID string) (*ServerMessage, error) {
	if err := c.ensureBackend(ctx); err != nil {
		return nil, err
	}
	if ok, err := c.gateToken("task restart"); !ok {
		return nil, err
	}
	return c.backend.RestartTask(ctx, taskID)
}

// GetTask fetches one task by id.
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	if err := c.ensureBackend(ctx); err != nil {
		return nil, err
	}
	if ok, err := c.gateToken("task get"); !ok {
		return nil, err
	}
	return c.backend.GetTask(ctx, taskID)
}

// InterruptTask asks the portal to flag a running task for interruption.
// The running automation decides when to honor the flag.
func (c *Client) InterruptTask(ctx context.Context, taskID string) (*ServerMessage, error) {
	if err := c.ensureBackend(ctx); err != nil {
		return nil, err
	}
	if err := c.ensureVersion("task interrupt", minVersionInterrupt); err != nil {
		return nil, err
	}
	if ok, err := c.gateToken("task interrupt"); !ok {
		return nil, err
	}
	return c.backend.InterruptTask(ctx, taskID)
}

// NewLog creates an execution log with the given column layout.
func (c *Client) NewLog(ctx context.Context, activityLabel string, columns []Column) (*ServerMessage, error) {
	if err := c.ensureBackend(ctx); err != nil {
		return nil, err
	}
	if ok, err := c.gateToken("log create"); !ok {
		return nil, err
	}
	return c.backend.NewLog(ctx, activityLabel, columns)
}

// NewLogEntry appends one row to an execution log. Keys of values are the
// log's column names.
func (c *Client) NewLogEntry(ctx context.Context, activityLabel string, values map[string]any) (*ServerMessage, error) {
	if err := c.ensureBackend(ctx); err != nil {
		return nil, err
	}
	if ok, err := c.gateToken("log entry create"); !ok {
		return nil, err
	}
	return c.backend.NewLogEntry(ctx, activityLabel, values)
}

// GetLog reads a log's rows keyed by column name. date filters to entries
// on or after that day, formatted DD/MM/YYYY; empty reads the last year.
func (c *Client) GetLog(ctx context.Context, activityLabel string, date string) ([]map[string]any, error) {
	if err := c.ensureBackend(ctx); err != nil {
		return nil, err
	}
	if ok, err := c.gateToken("log read"); !ok {
		return nil, err
	}
	return c.backend.GetLog(ctx, activityLabel, date)
}

// DeleteLog removes an execution log and all its entries.
func (c *Client) DeleteLog(ctx context.Context, activityLabel string) (*ServerMessage, error) {
	if err := c.ensureBackend(ctx); err != nil {
		return nil, err
	}
	if ok, err := c.gateToken("log delete"); !ok {
		return nil, err
	}
	return c.backend.DeleteLog(ctx, activityLabel)
}

// PostArtifact uploads a file and attaches it to a task.
func (c *Client) PostArtifact(ctx context.Context, taskID int64, name string, filePath string) (*ServerMessage, error) {
	if err := c.ensureBackend(ctx); err != nil {
		return nil, err
	}
	if ok, err := c.gateToken("artifact upload"); !ok {
		return nil, err
	}
	return c.backend.PostArtifact(ctx, taskID, name, filePath)
}

// ListArtifacts lists the organization's artifacts created in the last
// days. Zero or negative means the last seven days.
func (c *Client) ListArtifacts(ctx context.Context, days int) ([]Artifact, error) {
	if err := c.ensureBackend(ctx); err != nil {
		return nil, err
	}
	if ok, err := c.gateToken("artifact list"); !ok {
		return nil, err
	}
	if days <= 0 {
		days = 7
	}
	return c.backend.ListArtifacts(ctx, days)
}

// GetArtifact downloads one artifact, returning its original file name and
// content.
func (c *Client) GetArtifact(ctx context.Context, artifactID int64) (string, []byte, error) {
	if err := c.ensureBackend(ctx); err != nil {
		return "", nil, err
	}
	if ok, err := c.gateToken("artifact get"); !ok {
		return "", nil, err
	}
	return c.backend.GetArtifact(ctx, artifactID)
}

// ReportError publishes a runtime failure on the task's error timeline and
// returns the error id. The report carries the machine's default tags, a
// module manifest, and any screenshot or attachments from report.
func (c *Client) ReportError(ctx context.Context, taskID int64, report ErrorReport) (string, error) {
	if err := c.ensureBackend(ctx); err != nil {
		return "", err
	}
	if err := c.ensureVersion("error report", minVersionErrorReport); err != nil {
		return "", err
	}
	if ok, err := c.gateToken("error report"); !ok {
		return "", err
	}
	return c.backend.ReportError(ctx, taskID, report)
}

// GetCredential reads one secret value from a credential set.
func (c *Client) GetCredential(ctx context.Context, label string, key string) (string, error) {
	if err := c.ensureBackend(ctx); err != nil {
		return "", err
	}
	if err := c.ensureVersion("credential read", minVersionCredentials); err != nil {
		return "", err
	}
	if ok, err := c.gateToken("credential read"); !ok {
		return "", err
	}
	return c.backend.GetCredential(ctx, label, key)
}

// CreateCredential stores a secret under a credential set, creating the set
// when it does not exist yet.
func (c *Client) CreateCredential(ctx context.Context, label string, key string, value string) error {
	if err := c.ensureBackend(ctx); err != nil {
		return err
	}
	if err := c.ensureVersion("credential create", minVersionCredentials); err != nil {
		return err
	}
	if ok, err := c.gateToken("credential create"); !ok {
		return err
	}
	return c.backend.CreateCredential(ctx, label, key, value)
}

// CreateDataPool registers a pool on the portal and binds it to this
// client.
func (c *Client) CreateDataPool(ctx context.Context, pool *datapool.Pool) (*datapool.Pool, error) {
	if err := c.ensureBackend(ctx); err != nil {
		return nil, err
	}
	if err := c.ensureVersion("datapool create", minVersionDataPool); err != nil {
		return nil, err
	}
	if ok, err := c.gateToken("datapool create"); !ok {
		return nil, err
	}
	return c.backend.CreateDataPool(ctx, pool)
}

// GetDataPool fetches a pool by label and binds it to this client.
func (c *Client) GetDataPool(ctx context.Context, label string) (*datapool.Pool, error) {
	if err := c.ensureBackend(ctx); err != nil {
		return nil, err
	}
	if err := c.ensureVersion("datapool read", minVersionDataPool); err != nil {
		return nil, err
	}
	if ok, err := c.gateToken("datapool read"); !ok {
		return nil, err
	}
	return c.backend.GetDataPool(ctx, label)
}

// Execution describes the run this process was launched for. taskID falls
// back to the configured task id; with neither set an error is returned.
// Offline without a token it returns an empty Execution.
func (c *Client) Execution(ctx context.Context, taskID string) (*Execution, error) {
	if c.token == "" {
		if !c.allowOffline {
			return nil, ErrNotLoggedIn
		}
		c.warnOnce.Do(func() {
			c.logger.Warn("not logged into a portal, remote operations are skipped", "server", c.server)
		})
		c.logger.Debug("skipping portal operation", "op", "execution")
		return &Execution{Parameters: map[string]any{}}, nil
	}
	if taskID == "" {
		taskID = c.taskID
	}
	if taskID == "" {
		return nil, errors.New("a task id must be informed either via the argument or the client configuration")
	}
	task, err := c.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return &Execution{
		Server:     c.server,
		TaskID:     taskID,
		Token:      c.token,
		Parameters: task.Parameters,
	}, nil
}
