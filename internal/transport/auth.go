package transport

import "net/http"

// Authenticator applies caller identity to HTTP requests.
type Authenticator interface {
	Apply(req *http.Request)
}

// NoAuth implements no authentication.
type NoAuth struct{}

// Apply implements the Authenticator interface for NoAuth.
func (a *NoAuth) Apply(_ *http.Request) {}

// UserAuth identifies the caller with the X-User-ID header. The server
// stamps the id on every change the caller makes.
type UserAuth struct {
	UserID string
}

// Apply implements the Authenticator interface for UserAuth.
func (a *UserAuth) Apply(req *http.Request) {
	if a.UserID != "" {
		req.Header.Set(UserHeader, a.UserID)
	}
}

// BearerAuth sends a bearer token, for servers behind an authenticating
// proxy.
type BearerAuth struct {
	Token string
}

// Apply implements the Authenticator interface for BearerAuth.
func (a *BearerAuth) Apply(req *http.Request) {
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}
}

// Chain applies several authenticators in order.
type Chain []Authenticator

// Apply implements the Authenticator interface for Chain.
func (c Chain) Apply(req *http.Request) {
	for _, a := range c {
		a.Apply(req)
	}
}
