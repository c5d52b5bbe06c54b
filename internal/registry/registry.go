// Package registry resolves base image references against their registry.
//
// References are normalized the way the Docker CLI does ("python:3" becomes
// "docker.io/library/python:3") and an untagged reference gets ":latest".
// Resolution asks the registry for the current digest of the tag without
// downloading any content, so an unknown repository or tag is reported
// before the build touches the container runtime.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/distribution/reference"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/opencontainers/go-digest"
)

var (
	ErrReference = errors.New("invalid image reference")
	ErrResolve   = errors.New("image reference cannot be resolved")
)

// A reference pinned to the digest its tag pointed at when resolved.
type Resolved struct {
	Name   string        // Normalized reference as given, e.g. "docker.io/library/python:3".
	Digest digest.Digest // Digest of the manifest or index the tag resolved to.
}

// Reference including the digest, suitable for pulling exactly what was
// resolved.
func (r Resolved) Pinned() string {
	return r.Name + "@" + r.Digest.String()
}

// Normalizes a reference, adding the default registry, the library
// namespace and the "latest" tag where they are implied.
func Normalize(ref string) (string, error) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrReference, ref, err)
	}
	return reference.TagNameOnly(named).String(), nil
}

// Resolves an image reference to a digest.
//
// Credentials come from the default keychain (the Docker config file and
// credential helpers). References that already carry a digest are returned
// without contacting the registry.
type Resolver struct {
	Keychain  authn.Keychain // Defaults to authn.DefaultKeychain.
	UserAgent string         // Sent with registry requests.
}

// Resolves ref to the digest it currently names.
func (r *Resolver) Resolve(ctx context.Context, ref string) (Resolved, error) {
	normalized, err := Normalize(ref)
	if err != nil {
		return Resolved{}, err
	}

	named, _ := reference.ParseNormalizedNamed(normalized)
	if canonical, ok := named.(reference.Canonical); ok {
		return Resolved{Name: reference.TrimNamed(named).String(), Digest: canonical.Digest()}, nil
	}

	parsed, err := name.ParseReference(normalized)
	if err != nil {
		return Resolved{}, fmt.Errorf("%w: %q: %w", ErrReference, ref, err)
	}

	desc, err := remote.Head(parsed, r.options(ctx)...)
	if err != nil {
		return Resolved{}, fmt.Errorf("%w: %s: %w", ErrResolve, normalized, err)
	}

	return Resolved{Name: normalized, Digest: digest.Digest(desc.Digest.String())}, nil
}

// Builds remote options from the resolver settings.
func (r *Resolver) options(ctx context.Context) []remote.Option {
	keychain := r.Keychain
	if keychain == nil {
		keychain = authn.DefaultKeychain
	}

	opts := []remote.Option{
		remote.WithContext(ctx),
		remote.WithAuthFromKeychain(keychain),
	}
	if r.UserAgent != "" {
		opts = append(opts, remote.WithUserAgent(r.UserAgent))
	}
	return opts
}
