package server

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/cruciblehq/imgbuild/internal"
	"github.com/cruciblehq/imgbuild/internal/build"
	"github.com/cruciblehq/imgbuild/internal/protocol"
	"github.com/cruciblehq/imgbuild/internal/recipe"
)

// Handles a build command.
//
// Builds run one at a time; the request waits for any running build first.
func (s *Server) handleBuild(ctx context.Context, conn net.Conn, payload json.RawMessage) {
	req, err := protocol.DecodePayload[protocol.BuildRequest](payload)
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	rec, err := s.recipe(req)
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	s.buildMu.Lock()
	defer s.buildMu.Unlock()
	s.setBuilding(true)
	defer s.setBuilding(false)

	result, err := build.Run(ctx, s.backend, build.Options{
		Recipe:   rec,
		Context:  req.Context,
		Tag:      req.Tag,
		Output:   req.Output,
		Platform: cmp.Or(req.Platform, s.settings.Build.Platform),
		Progress: func(p build.Progress) {
			slog.Info(p.String())
		},
	})
	if err != nil {
		slog.Error("build failed", "error", err)
		s.respond(conn, protocol.CmdError, errorResult(err))
		return
	}

	s.mu.Lock()
	s.builds++
	s.mu.Unlock()

	s.respond(conn, protocol.CmdOK, result.Message())
}

// Returns the recipe a request asks for: its own source, or the built-in
// recipe on the requested or default base.
func (s *Server) recipe(req *protocol.BuildRequest) (*recipe.Recipe, error) {
	if req.Recipe != "" {
		return recipe.Parse(strings.NewReader(req.Recipe))
	}
	return recipe.Default(cmp.Or(req.Base, s.settings.Build.Base))
}

func (s *Server) setBuilding(v bool) {
	s.mu.Lock()
	s.building = v
	s.mu.Unlock()
}

// Handles a status command.
func (s *Server) handleStatus(conn net.Conn) {
	s.mu.Lock()
	builds, building := s.builds, s.building
	s.mu.Unlock()

	uptime := time.Since(s.startedAt).Truncate(time.Second)

	s.respond(conn, protocol.CmdOK, &protocol.StatusResult{
		Running:  true,
		Version:  internal.VersionString(),
		Pid:      os.Getpid(),
		Uptime:   uptime.String(),
		Builds:   builds,
		Building: building,
	})
}

// Handles a shutdown command.
func (s *Server) handleShutdown(conn net.Conn) {
	s.respond(conn, protocol.CmdOK, nil)
	slog.Info("shutdown requested")

	go func() {
		s.Stop()
	}()
}

// Converts a build error to its wire form, naming the failing step and
// failure class when known.
func errorResult(err error) *protocol.ErrorResult {
	res := &protocol.ErrorResult{Message: err.Error()}

	var se *build.StepError
	if errors.As(err, &se) {
		res.Step = se.Step
	}

	switch {
	case errors.Is(err, build.ErrResolution):
		res.Class = "resolution"
	case errors.Is(err, build.ErrIngestion):
		res.Class = "ingestion"
	case errors.Is(err, build.ErrInstallation):
		res.Class = "installation"
	case errors.Is(err, build.ErrFinalize):
		res.Class = "finalize"
	}
	return res
}
