package remotekit

import (
	"context"
	"fmt"
)

// Credentials is an already-resolved, opaque authentication record for one
// endpoint. How credentials are stored or encrypted at rest is outside this
// library; they arrive here in the clear and are held only for the lifetime
// of a dial.
type Credentials struct {
	Server     string
	Port       int
	Username   string
	Password   string
	PrivateKey []byte // PEM encoded, SFTP only
	Domain     string // SMB only
	Share      string // SMB only
}

// Anonymous reports whether the record carries no authentication material.
func (c *Credentials) Anonymous() bool {
	return c == nil || (c.Username == "" && c.Password == "" && len(c.PrivateKey) == 0)
}

// CredentialStore resolves credentials either by an explicit id or by the
// endpoint they belong to. Implementations are external; this library only
// reads. Absence of a credential is an input error, reported as a
// validation failure, never silently recovered from.
type CredentialStore interface {
	// ByID returns the credential with the given id, or (nil, nil) when no
	// such record exists.
	ByID(ctx context.Context, id string) (*Credentials, error)

	// ByEndpoint returns the credential registered for (scheme, host, port),
	// or (nil, nil) when none is registered.
	ByEndpoint(ctx context.Context, scheme, host string, port int) (*Credentials, error)
}

// resolveCredentials looks up credentials for the URI, preferring the
// explicit id when present. A nil store or a lookup miss yields
// ErrNoCredentials.
func resolveCredentials(ctx context.Context, store CredentialStore, uri *RemoteURI) (*Credentials, error) {
	if store == nil {
		return nil, validationErr("credentials", uri.String(), ErrNoCredentials)
	}

	var (
		creds *Credentials
		err   error
	)
	if uri.CredentialID != "" {
		creds, err = store.ByID(ctx, uri.CredentialID)
	} else {
		creds, err = store.ByEndpoint(ctx, uri.Scheme, uri.Host, uri.Port)
	}
	if err != nil {
		return nil, validationErr("credentials", uri.String(), fmt.Errorf("credential lookup: %w", err))
	}
	if creds == nil {
		return nil, validationErr("credentials", uri.String(), ErrNoCredentials)
	}
	return creds, nil
}
