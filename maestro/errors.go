package maestro

import (
	"errors"
	"fmt"

	"github.com/bnema/botmaestro/internal/wire"
)

// RequestError is any non-success answer from the portal, carrying the
// status code and the server's own message text.
type RequestError = wire.RequestError

// ErrNotConnected is returned by version-gated operations when no backend
// was ever negotiated and offline mode is not allowed.
var ErrNotConnected = errors.New("not connected to the portal, call Login first")

// ErrNotLoggedIn is returned when an operation needs an access token and
// offline mode is not allowed.
var ErrNotLoggedIn = errors.New("no access token available, call Login first")

// errLegacyUnsupported marks operations the legacy wire protocol never had.
// Version gating normally fails first with a VersionError.
var errLegacyUnsupported = errors.New("operation not available on legacy portal servers")

// VersionError reports an operation rejected because the connected portal is
// older than the operation requires. The request is never sent.
type VersionError struct {
	Op         string
	Negotiated string
	Required   string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("%s requires portal version %s or later, connected portal reports %s",
		e.Op, e.Required, e.Negotiated)
}
