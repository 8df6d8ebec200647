package testutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// ContainerRuntime drives whichever of docker or podman is on PATH. The
// packaging smoke tests use it to install built artifacts into throwaway
// distro containers.
type ContainerRuntime struct {
	name   string
	binary string
}

// ContainerRunOptions describes a one-shot container invocation.
type ContainerRunOptions struct {
	Image  string
	Cmd    []string
	Env    []string
	Mounts []ContainerMount
}

// ContainerMount binds a host path into the container.
type ContainerMount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// FindContainerRuntime returns a runtime for the first of docker or podman
// found on PATH.
func FindContainerRuntime() (*ContainerRuntime, error) {
	for _, name := range []string{"docker", "podman"} {
		if binary, err := exec.LookPath(name); err == nil {
			return &ContainerRuntime{name: name, binary: binary}, nil
		}
	}
	return nil, errors.New("neither docker nor podman found on PATH")
}

// Name returns the runtime binary name.
func (r *ContainerRuntime) Name() string {
	return r.name
}

// Run starts a disposable container, waits for it to exit, and returns the
// combined stdout and stderr. The container is removed afterwards.
func (r *ContainerRuntime) Run(ctx context.Context, opts ContainerRunOptions) ([]byte, error) {
	if opts.Image == "" {
		return nil, errors.New("container image is required")
	}
	if len(opts.Cmd) == 0 {
		return nil, errors.New("container command is required")
	}

	args := []string{"run", "--rm"}
	for _, env := range opts.Env {
		if env != "" {
			args = append(args, "-e", env)
		}
	}
	for _, mount := range opts.Mounts {
		spec, err := mount.spec()
		if err != nil {
			return nil, err
		}
		args = append(args, "-v", spec)
	}
	args = append(args, opts.Image)
	args = append(args, opts.Cmd...)

	cmd := exec.CommandContext(ctx, r.binary, args...) // #nosec G204 -- runtime binary resolved from PATH above
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	err := cmd.Run()
	return output.Bytes(), err
}

// spec renders the mount as a -v argument, resolving the source to an
// absolute path and verifying it exists before handing it to the runtime.
func (m ContainerMount) spec() (string, error) {
	if m.Source == "" || m.Target == "" {
		return "", errors.New("container mount requires both source and target")
	}
	source, err := filepath.Abs(m.Source)
	if err != nil {
		return "", fmt.Errorf("resolve mount source %q: %w", m.Source, err)
	}
	if _, err := os.Stat(source); err != nil {
		return "", fmt.Errorf("mount source %q not accessible: %w", source, err)
	}
	rendered := source + ":" + m.Target
	if m.ReadOnly {
		rendered += ":ro"
	}
	return rendered, nil
}
