// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package toolexec runs external command-line tools either from PATH or
// inside a docker/podman container image, behind a narrow interface that
// tests replace with fakes.
package toolexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	binDocker = "docker"
	binPodman = "podman"
)

// Command is one tool invocation.
type Command struct {
	Name string
	Args []string

	// Dir is the working directory. Containerized tools get it bind-mounted
	// at the same path.
	Dir string

	Stdout io.Writer
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Executor abstracts process execution for testing.
type Executor interface {
	LookPath(file string) (string, error)
	Run(ctx context.Context, cmd Command) error
}

// OSExecutor is the production executor backed by os/exec. A failed
// command's stderr tail is included in the returned error.
type OSExecutor struct{}

func (OSExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (OSExecutor) Run(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdout = c.Stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := tail(stderr.String(), 512); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return s
}

// Tool is an external program the pipeline invokes.
type Tool interface {
	// Name is a human-readable label used in errors and logs.
	Name() string

	// Check verifies the tool can be started at all.
	Check(ctx context.Context) error

	// Run invokes the tool with args in dir.
	Run(ctx context.Context, dir string, args []string, stdout io.Writer) error
}

// LocalTool runs a binary resolved from PATH.
type LocalTool struct {
	Binary string
	Exec   Executor
}

func (t *LocalTool) Name() string { return t.Binary }

func (t *LocalTool) Check(context.Context) error {
	if _, err := t.Exec.LookPath(t.Binary); err != nil {
		return fmt.Errorf("%s not found on PATH: %w", t.Binary, err)
	}
	return nil
}

func (t *LocalTool) Run(ctx context.Context, dir string, args []string, stdout io.Writer) error {
	c := Command{Name: t.Binary, Args: args, Dir: dir, Stdout: stdout}
	if err := t.Exec.Run(ctx, c); err != nil {
		return fmt.Errorf("running %s: %w", t.Binary, err)
	}
	return nil
}

// Runtime is a container engine (docker or podman).
type Runtime struct {
	bin           string
	imageCheckCmd []string
	exec          Executor
}

func (r *Runtime) Name() string { return r.bin }

// Available reports whether the runtime binary exists on PATH and responds
// to an info command.
func (r *Runtime) Available(ctx context.Context) bool {
	if _, err := r.exec.LookPath(r.bin); err != nil {
		return false
	}
	return r.exec.Run(ctx, Command{Name: r.bin, Args: []string{"info"}, Stdout: io.Discard}) == nil
}

// ImageExists checks whether the named image exists locally.
func (r *Runtime) ImageExists(ctx context.Context, image string) error {
	args := append(append([]string{}, r.imageCheckCmd...), image)
	if err := r.exec.Run(ctx, Command{Name: r.bin, Args: args, Stdout: io.Discard}); err != nil {
		return fmt.Errorf("image %s not found in %s: %w", image, r.bin, err)
	}
	return nil
}

func newDockerRuntime(exec Executor) *Runtime {
	return &Runtime{bin: binDocker, imageCheckCmd: []string{"image", "inspect"}, exec: exec}
}

func newPodmanRuntime(exec Executor) *Runtime {
	return &Runtime{bin: binPodman, imageCheckCmd: []string{"image", "exists"}, exec: exec}
}

// DetectRuntime tries docker first and falls back to podman.
func DetectRuntime(ctx context.Context, exec Executor) (*Runtime, error) {
	if docker := newDockerRuntime(exec); docker.Available(ctx) {
		return docker, nil
	}
	if podman := newPodmanRuntime(exec); podman.Available(ctx) {
		return podman, nil
	}
	return nil, fmt.Errorf(
		"no container runtime available: neither %s nor %s found or operational",
		binDocker, binPodman,
	)
}

// ContainerTool runs Binary inside Image with the working directory
// bind-mounted at the same path, so artifact paths are valid on both sides.
type ContainerTool struct {
	Runtime *Runtime
	Image   string
	Binary  string
}

func (t *ContainerTool) Name() string {
	return fmt.Sprintf("%s (%s %s)", t.Binary, t.Runtime.Name(), t.Image)
}

func (t *ContainerTool) Check(ctx context.Context) error {
	return t.Runtime.ImageExists(ctx, t.Image)
}

func (t *ContainerTool) Run(ctx context.Context, dir string, args []string, stdout io.Writer) error {
	full := []string{"run", "--rm"}
	if dir != "" {
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		full = append(full, "-v", dir+":"+dir, "-w", dir)
	}
	full = append(full, t.Image, t.Binary)
	full = append(full, args...)
	c := Command{Name: t.Runtime.bin, Args: full, Dir: dir, Stdout: stdout}
	if err := t.Runtime.exec.Run(ctx, c); err != nil {
		return fmt.Errorf("running %s in %s container %s: %w", t.Binary, t.Runtime.bin, t.Image, err)
	}
	return nil
}

// Resolve returns a container tool when image is set and a local tool
// otherwise.
func Resolve(ctx context.Context, exec Executor, binary, image string) (Tool, error) {
	if exec == nil {
		exec = OSExecutor{}
	}
	if image == "" {
		return &LocalTool{Binary: binary, Exec: exec}, nil
	}
	rt, err := DetectRuntime(ctx, exec)
	if err != nil {
		return nil, err
	}
	return &ContainerTool{Runtime: rt, Image: image, Binary: binary}, nil
}
