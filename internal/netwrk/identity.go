package netwrk

import (
	"net/http"

	"github.com/rotisserie/eris"
)

// Identity resolves who is on the other end of an incoming request. The
// real deployment sits behind an auth proxy; this indirection keeps the
// gateway testable without one.
type Identity interface {
	Resolve(r *http.Request) (userID, name string, err error)
}

// QueryIdentity trusts the user and name query parameters. It stands in
// for the external identity collaborator during local runs and tests.
type QueryIdentity struct{}

func (QueryIdentity) Resolve(r *http.Request) (string, string, error) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		return "", "", eris.New("missing user parameter")
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = userID
	}
	return userID, name, nil
}
