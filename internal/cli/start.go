package cli

import (
	"context"
	"log/slog"

	"github.com/cruciblehq/imgbuild/internal/server"
)

// Represents the 'imgbuild start' command.
type StartCmd struct{}

// Executes the start command.
//
// Starts the daemon on a Unix domain socket and blocks until the context is
// cancelled (e.g. via SIGINT or SIGTERM) or a shutdown command arrives.
func (c *StartCmd) Run(ctx context.Context) error {
	st, err := loadSettings()
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		SocketPath: RootCmd.Socket,
		Settings:   st,
	})
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		return err
	}

	slog.Info("imgbuild daemon is running", "containerd", st.Containerd.Address, "namespace", st.Containerd.Namespace)

	stopped := make(chan struct{})
	go func() {
		srv.Wait()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
	case <-stopped:
	}

	slog.Info("shutting down")
	return srv.Stop()
}
