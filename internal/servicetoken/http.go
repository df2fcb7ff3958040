package servicetoken

import (
	"net/http"
	"strings"
)

// BearerToken extracts a bearer token from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(h[7:])
	return token, token != ""
}

// Transport signs every outgoing request for audience.
type Transport struct {
	Signer   *Signer
	Audience string
	Base     http.RoundTripper
}

// RoundTrip clones req and adds a fresh bearer token.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.Signer.Sign(t.Audience)
	if err != nil {
		return nil, err
	}
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+token)
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(out)
}

// Require rejects requests without a valid token via deny.
func Require(v *Verifier, deny func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				deny(w, r, ErrMissingToken)
				return
			}
			if _, err := v.Verify(token); err != nil {
				deny(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
