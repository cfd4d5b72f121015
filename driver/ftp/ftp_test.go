package ftp

import (
	"context"
	"errors"
	"net/textproto"
	"testing"

	"github.com/jlaffaye/ftp"

	"github.com/gobeaver/remotekit"
)

// busyClient fakes an established session whose data channel is tied up,
// as if a transfer stream were open. No command reaches the wire because
// the guard fails first.
func busyClient() *Client {
	c := &Client{conn: &ftp.ServerConn{}}
	c.busy.Store(true)
	return c
}

func TestOpsFailWhileDataChannelBusy(t *testing.T) {
	c := busyClient()
	ctx := context.Background()

	checks := []struct {
		name string
		call func() error
	}{
		{"list", func() error { _, err := c.List(ctx, "/"); return err }},
		{"stat", func() error { _, err := c.Stat(ctx, "/f"); return err }},
		{"delete", func() error { return c.Delete(ctx, "/f") }},
		{"mkdir", func() error { return c.Mkdir(ctx, "/d") }},
		{"rename", func() error { return c.Rename(ctx, "/a", "/b") }},
		{"open", func() error { _, err := c.OpenRange(ctx, "/f", 0); return err }},
	}
	for _, tc := range checks {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			if !errors.Is(err, errDataBusy) {
				t.Errorf("expected data-busy error, got %v", err)
			}
			if remotekit.KindOf(err) != remotekit.KindProtocol {
				t.Errorf("expected protocol kind, got %v", remotekit.KindOf(err))
			}
		})
	}
}

func TestOpenRangeClaimsChannelOnce(t *testing.T) {
	c := &Client{conn: &ftp.ServerConn{}}

	// Simulate another goroutine winning the claim between the guard check
	// and RETR.
	if !c.busy.CompareAndSwap(false, true) {
		t.Fatal("first claim failed on an idle channel")
	}
	if c.busy.CompareAndSwap(false, true) {
		t.Fatal("second claim succeeded while the channel was held")
	}

	if _, err := c.OpenRange(context.Background(), "/f", 0); !errors.Is(err, errDataBusy) {
		t.Errorf("expected data-busy error, got %v", err)
	}

	c.busy.Store(false)
}

func TestOpenRangeNegativeOffset(t *testing.T) {
	c := &Client{conn: &ftp.ServerConn{}}
	if _, err := c.OpenRange(context.Background(), "/f", -1); !remotekit.IsValidationError(err) {
		t.Errorf("expected validation error, got %v", err)
	}
	if c.busy.Load() {
		t.Error("rejected open left the data channel claimed")
	}
}

func TestClosedClientRefusesCommands(t *testing.T) {
	c := &Client{closed: true}
	if _, err := c.List(context.Background(), "/"); !errors.Is(err, remotekit.ErrClosed) {
		t.Errorf("expected closed error, got %v", err)
	}
}

func TestContextCancelRefusesCommands(t *testing.T) {
	c := &Client{conn: &ftp.ServerConn{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.List(ctx, "/"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context error, got %v", err)
	}
}

func TestMapFTPError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		kind     remotekit.ErrorKind
	}{
		{
			name:     "550 missing file",
			err:      &textproto.Error{Code: ftp.StatusFileUnavailable, Msg: "No such file"},
			sentinel: remotekit.ErrNotExist,
			kind:     remotekit.KindIO,
		},
		{
			name:     "550 permission denied",
			err:      &textproto.Error{Code: ftp.StatusFileUnavailable, Msg: "Access denied"},
			sentinel: remotekit.ErrPermission,
			kind:     remotekit.KindIO,
		},
		{
			name:     "530 not logged in",
			err:      &textproto.Error{Code: ftp.StatusNotLoggedIn, Msg: "Login incorrect"},
			sentinel: remotekit.ErrAuth,
			kind:     remotekit.KindConnection,
		},
		{
			name: "421 service unavailable",
			err:  &textproto.Error{Code: ftp.StatusNotAvailable, Msg: "Timeout"},
			kind: remotekit.KindConnection,
		},
		{
			name: "other protocol reply",
			err:  &textproto.Error{Code: 502, Msg: "Command not implemented"},
			kind: remotekit.KindProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapFTPError("stat", "/f", tt.err)
			if tt.sentinel != nil && !errors.Is(got, tt.sentinel) {
				t.Errorf("mapFTPError(%v) = %v, want %v", tt.err, got, tt.sentinel)
			}
			if remotekit.KindOf(got) != tt.kind {
				t.Errorf("kind = %v, want %v", remotekit.KindOf(got), tt.kind)
			}
		})
	}
}
