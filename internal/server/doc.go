// Package server implements the imgbuild daemon.
//
// The daemon listens on a Unix domain socket for JSON-encoded commands.
// Each connection carries a single request-response exchange: the client
// sends a newline-delimited JSON envelope, the server dispatches the
// command, and writes the result back before closing the connection.
//
// Supported commands are build, status and shutdown. Builds are delegated to
// the build package and run one at a time; a request arriving while another
// build runs waits for it to finish. Closing the connection cancels the
// request's build.
//
// Example usage:
//
//	srv, err := server.New(server.Config{Settings: settings.Default()})
//	if err != nil {
//	    return err
//	}
//
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop()
//
//	srv.Wait()
package server
