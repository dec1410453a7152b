package httpcheck

import (
	"context"
	"encoding/base64"
	"fmt"
)

// Credential is a username and password answered to a Basic challenge.
type Credential struct {
	Username string
	Password string
}

// Scheme returns the HTTP authentication scheme, always "Basic".
func (c Credential) Scheme() string { return "Basic" }

// Header returns the Authorization header value.
func (c Credential) Header() string {
	token := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.Password))
	return c.Scheme() + " " + token
}

// CredentialSource supplies credentials when a server answers 401.
// Implementations may prompt a user or read a configured store.
type CredentialSource interface {
	CredentialFor(ctx context.Context, target *Target) (Credential, error)
}

// CredentialFunc adapts a function to CredentialSource.
type CredentialFunc func(ctx context.Context, target *Target) (Credential, error)

// CredentialFor calls f.
func (f CredentialFunc) CredentialFor(ctx context.Context, target *Target) (Credential, error) {
	return f(ctx, target)
}

// StaticCredentials maps a host (or host:port) to its credential.
// The "*" entry, if present, is used for any other host.
type StaticCredentials map[string]Credential

// CredentialFor looks up the target's authority, then its hostname, then "*".
func (s StaticCredentials) CredentialFor(_ context.Context, target *Target) (Credential, error) {
	for _, key := range []string{target.Authority(), target.Hostname(), "*"} {
		if c, ok := s[key]; ok {
			return c, nil
		}
	}
	return Credential{}, fmt.Errorf("no credential configured for %s", target.Authority())
}
