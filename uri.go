package remotekit

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// Schemes understood by the core. Drivers register themselves under these
// names; anything else fails URI parsing.
const (
	SchemeLocal = "file"
	SchemeSMB   = "smb"
	SchemeSFTP  = "sftp"
	SchemeFTP   = "ftp"
)

// RemoteURI is the parsed form of a file address:
//
//	smb://server/share/dir/file.mkv?cred=42
//	sftp://user@host:2222/abs/path
//	ftp://host/pub/file.zip
//	file:///local/path  (or a bare local path)
//
// For SMB, the first path segment is the share name and the remainder is
// the path inside the share. The optional cred query parameter carries an
// explicit credential id; without it, credentials are resolved by
// (scheme, host, port).
type RemoteURI struct {
	Scheme       string
	Host         string
	Port         int
	User         string
	Share        string
	Path         string
	CredentialID string
}

var defaultPorts = map[string]int{
	SchemeSMB:  445,
	SchemeSFTP: 22,
	SchemeFTP:  21,
}

// ParseURI parses raw into a RemoteURI. Bare paths without a scheme are
// treated as local.
func ParseURI(raw string) (*RemoteURI, error) {
	if raw == "" {
		return nil, validationErr("parse", raw, ErrMalformedURI)
	}

	if !strings.Contains(raw, "://") {
		return &RemoteURI{Scheme: SchemeLocal, Path: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, validationErr("parse", raw, fmt.Errorf("%w: %v", ErrMalformedURI, err))
	}

	switch u.Scheme {
	case SchemeLocal:
		return &RemoteURI{Scheme: SchemeLocal, Path: u.Path}, nil
	case SchemeSMB, SchemeSFTP, SchemeFTP:
	default:
		return nil, validationErr("parse", raw, fmt.Errorf("%w: unsupported scheme %q", ErrMalformedURI, u.Scheme))
	}

	if u.Hostname() == "" {
		return nil, validationErr("parse", raw, fmt.Errorf("%w: missing host", ErrMalformedURI))
	}

	port := defaultPorts[u.Scheme]
	if ps := u.Port(); ps != "" {
		p, err := strconv.Atoi(ps)
		if err != nil || p <= 0 || p > 65535 {
			return nil, validationErr("parse", raw, fmt.Errorf("%w: bad port %q", ErrMalformedURI, ps))
		}
		port = p
	}

	out := &RemoteURI{
		Scheme:       u.Scheme,
		Host:         u.Hostname(),
		Port:         port,
		CredentialID: u.Query().Get("cred"),
		Path:         u.Path,
	}
	if u.User != nil {
		out.User = u.User.Username()
	}

	if u.Scheme == SchemeSMB {
		share, rest := splitShare(u.Path)
		if share == "" {
			return nil, validationErr("parse", raw, fmt.Errorf("%w: smb URI needs a share", ErrMalformedURI))
		}
		out.Share = share
		out.Path = rest
	}

	return out, nil
}

// splitShare splits "/share/rest/of/path" into ("share", "/rest/of/path").
func splitShare(p string) (string, string) {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "", "/"
	}
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i], p[i:]
	}
	return p, "/"
}

// IsLocal reports whether the URI addresses the local filesystem.
func (u *RemoteURI) IsLocal() bool {
	return u.Scheme == SchemeLocal
}

// Endpoint returns the host:port identity string used as the pool and
// buffer-hint key. Local URIs have an empty endpoint.
func (u *RemoteURI) Endpoint() string {
	if u.IsLocal() {
		return ""
	}
	return fmt.Sprintf("%s:%d", u.Host, u.Port)
}

// ConnectionInfo returns the pool lookup key material for this URI.
func (u *RemoteURI) ConnectionInfo() ConnectionInfo {
	return ConnectionInfo{
		Scheme:       u.Scheme,
		Host:         u.Host,
		Port:         u.Port,
		Share:        u.Share,
		CredentialID: u.CredentialID,
	}
}

// CacheIdentity returns the credential-free canonical form of the URI,
// used as the unified cache key so the same remote file hits the same
// cache entry regardless of which credential record reached it.
func (u *RemoteURI) CacheIdentity() string {
	c := *u
	c.User = ""
	c.CredentialID = ""
	return c.String()
}

// Dir returns a copy of the URI addressing the parent directory.
func (u *RemoteURI) Dir() *RemoteURI {
	out := *u
	out.Path = path.Dir(u.Path)
	return &out
}

// SameServer reports whether two URIs address the same endpoint and, for
// SMB, the same share. Server-side rename is only possible when true.
func (u *RemoteURI) SameServer(o *RemoteURI) bool {
	return u.Scheme == o.Scheme && u.Host == o.Host && u.Port == o.Port && u.Share == o.Share
}

// String reassembles the URI. The credential id is preserved.
func (u *RemoteURI) String() string {
	if u.IsLocal() {
		return u.Path
	}
	var sb strings.Builder
	sb.WriteString(u.Scheme)
	sb.WriteString("://")
	if u.User != "" {
		sb.WriteString(u.User)
		sb.WriteByte('@')
	}
	sb.WriteString(u.Host)
	if u.Port != defaultPorts[u.Scheme] {
		sb.WriteString(fmt.Sprintf(":%d", u.Port))
	}
	if u.Share != "" {
		sb.WriteByte('/')
		sb.WriteString(u.Share)
	}
	sb.WriteString(u.Path)
	if u.CredentialID != "" {
		sb.WriteString("?cred=")
		sb.WriteString(url.QueryEscape(u.CredentialID))
	}
	return sb.String()
}
