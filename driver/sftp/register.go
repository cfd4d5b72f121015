package sftp

import "github.com/gobeaver/remotekit"

func init() {
	remotekit.RegisterDriver(remotekit.SchemeSFTP, func(cfg remotekit.ClientConfig) (remotekit.RemoteFileClient, error) {
		return New(cfg)
	})
}
