package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/cruciblehq/imgbuild/internal/protocol"
)

// Represents the 'imgbuild status' command.
type StatusCmd struct{}

// Executes the status command.
func (c *StatusCmd) Run(ctx context.Context) error {
	var status protocol.StatusResult
	if err := protocol.Call(ctx, socket(), protocol.CmdStatus, nil, &status); err != nil {
		var remote *protocol.ErrorResult
		if errors.As(err, &remote) {
			return err
		}
		fmt.Println("not running")
		return &ExitError{Code: 1}
	}

	state := "idle"
	if status.Building {
		state = "building"
	}

	fmt.Printf("running (pid %d, %s)\n", status.Pid, state)
	fmt.Printf("version: %s\n", status.Version)
	fmt.Printf("uptime:  %s\n", status.Uptime)
	fmt.Printf("builds:  %d\n", status.Builds)
	return nil
}
