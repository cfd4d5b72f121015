package local

import "github.com/gobeaver/remotekit"

func init() {
	remotekit.RegisterDriver(remotekit.SchemeLocal, func(cfg remotekit.ClientConfig) (remotekit.RemoteFileClient, error) {
		return New(cfg.Share)
	})
}
