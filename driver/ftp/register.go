package ftp

import "github.com/gobeaver/remotekit"

func init() {
	remotekit.RegisterDriver(remotekit.SchemeFTP, func(cfg remotekit.ClientConfig) (remotekit.RemoteFileClient, error) {
		return New(cfg)
	})
}
