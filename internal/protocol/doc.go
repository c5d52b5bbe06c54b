// Package protocol defines the messages exchanged with the build daemon.
//
// Every message is a single JSON envelope terminated by a newline. A client
// connects to the daemon's Unix socket, writes one request envelope, reads
// one response envelope, and closes the connection. Responses carry either
// [CmdOK] with the command's result or [CmdError] with an [ErrorResult].
//
// Example usage:
//
//	var status protocol.StatusResult
//	if err := protocol.Call(ctx, paths.Socket(), protocol.CmdStatus, nil, &status); err != nil {
//	    return err
//	}
package protocol
