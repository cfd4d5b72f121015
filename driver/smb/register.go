package smb

import "github.com/gobeaver/remotekit"

func init() {
	remotekit.RegisterDriver(remotekit.SchemeSMB, func(cfg remotekit.ClientConfig) (remotekit.RemoteFileClient, error) {
		return New(cfg)
	})
}
