package api

import "net/http"

// DefaultIdentityHeader names the header carrying the acting user id
const DefaultIdentityHeader = "X-User-ID"

// Identity resolves the acting user from an incoming request.
// Authentication itself happens upstream: deployments front the service
// with a proxy that stamps a trusted identity header.
type Identity interface {
	UserID(r *http.Request) string
}

// HeaderIdentity reads the user id from a single trusted header
type HeaderIdentity struct {
	header string
}

func NewHeaderIdentity(header string) HeaderIdentity {
	if header == "" {
		header = DefaultIdentityHeader
	}
	return HeaderIdentity{header: header}
}

func (i HeaderIdentity) UserID(r *http.Request) string {
	return r.Header.Get(i.header)
}

var _ Identity = HeaderIdentity{}
