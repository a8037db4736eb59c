package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bnema/botmaestro/internal/keyring"
	"github.com/bnema/botmaestro/internal/profile"
	statusadapter "github.com/bnema/botmaestro/internal/render/status"
	"github.com/bnema/botmaestro/maestro"
)

var errNotLoggedIn = errors.New("not logged in, run 'bm login' first")

type app struct {
	sessions       *profile.Store
	keys           keyring.Store
	env            *viper.Viper
	statusRenderer func(statusadapter.Report, statusadapter.RenderOptions) (string, error)
	httpClient     *http.Client
	logger         *slog.Logger
	logLevel       *slog.LevelVar
	now            func() time.Time
}

func wireApp() (*app, error) {
	sessions, err := profile.NewStore(viper.New())
	if err != nil {
		return nil, fmt.Errorf("wire session store: %w", err)
	}

	configDir, err := profile.ConfigDir()
	if err != nil {
		return nil, err
	}
	keys, err := keyring.Default(filepath.Join(configDir, "keys"))
	if err != nil {
		return nil, fmt.Errorf("wire key store: %w", err)
	}

	env := viper.New()
	env.SetEnvPrefix("BM")
	env.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	env.AutomaticEnv()

	logLevel := new(slog.LevelVar)
	logLevel.Set(slog.LevelWarn)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	return &app{
		sessions:       sessions,
		keys:           keys,
		env:            env,
		statusRenderer: statusadapter.Render,
		httpClient:     http.DefaultClient,
		logger:         logger,
		logLevel:       logLevel,
		now:            time.Now,
	}, nil
}

// client rebuilds a portal client from the saved session. The wire protocol
// is negotiated lazily on the first operation.
func (a *app) client(ctx context.Context) (*maestro.Client, profile.Session, error) {
	session, err := a.sessions.Load(ctx)
	if err != nil {
		if errors.Is(err, profile.ErrNoSession) {
			return nil, profile.Session{}, errNotLoggedIn
		}
		return nil, profile.Session{}, err
	}

	c, err := maestro.FromArgs(ctx,
		[]string{session.Server, session.TaskID, session.Token, session.Organization},
		maestro.Config{
			HTTPClient: a.httpClient,
			Logger:     a.logger,
		})
	if err != nil {
		return nil, profile.Session{}, err
	}
	return c, session, nil
}

// parseKeyValues turns repeated key=value flags into a payload map.
func parseKeyValues(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return map[string]any{}, nil
	}
	values := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid key=value pair %q", pair)
		}
		values[key] = value
	}
	return values, nil
}
