package cjunct

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

func init() {
	Register("docker-shell", dockerShellHandler)
	RegisterSchema("docker-shell", map[string]ArgSpec{
		"image":       {Required: true, Kind: ArgString, Template: true},
		"command":     {Required: true, Kind: ArgString, Template: true},
		"environment": {Kind: ArgAny},
		"pull":        {Kind: ArgBool},
		"executable":  {Kind: ArgString},
		"bind":        {Kind: ArgStringList},
		"publish":     {Kind: ArgStringList},
	})
}

// dockerShellHandler runs the rendered command through a shell inside a
// container, streaming the demultiplexed stdout/stderr back as events.
// Stdout lines are sentinel-scanned like the plain shell action's. The
// container is removed once the command exits; a non-zero exit status is a
// failure carrying the status code.
func dockerShellHandler(ctx context.Context, a *Action) error {
	args := a.Args()
	imageRef, ok := args["image"].(string)
	if !ok {
		return fmt.Errorf("docker-shell: image must be a string")
	}
	command, ok := args["command"].(string)
	if !ok {
		return fmt.Errorf("docker-shell: command must be a string")
	}
	executable := "/bin/sh"
	if ex, ok := args["executable"].(string); ok && ex != "" {
		executable = ex
	}
	if ConfigFromContext(ctx).ShellInjectYieldFunction {
		command = yieldFunctionDefinition + command
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("docker-shell: %w", err)
	}
	defer cli.Close()

	if pull, _ := args["pull"].(bool); pull {
		rc, err := cli.ImagePull(ctx, imageRef, image.PullOptions{})
		if err != nil {
			return fmt.Errorf("docker-shell: pulling %q: %w", imageRef, err)
		}
		_, _ = io.Copy(io.Discard, rc)
		rc.Close()
	}

	var env []string
	if m, ok := args["environment"].(map[string]any); ok {
		for k, v := range m {
			env = append(env, fmt.Sprintf("%s=%v", k, v))
		}
	}

	hostCfg := &container.HostConfig{Binds: stringList(args["bind"])}
	exposed := nat.PortSet{}
	if publish := stringList(args["publish"]); len(publish) > 0 {
		ports, bindings, err := nat.ParsePortSpecs(publish)
		if err != nil {
			return fmt.Errorf("docker-shell: parsing publish specs: %w", err)
		}
		exposed = ports
		hostCfg.PortBindings = bindings
	}

	created, err := cli.ContainerCreate(ctx, &container.Config{
		Image:        imageRef,
		Cmd:          []string{executable, "-c", command},
		Env:          env,
		ExposedPorts: exposed,
	}, hostCfg, nil, nil, "")
	if err != nil {
		return fmt.Errorf("docker-shell: creating container: %w", err)
	}
	defer func() {
		_ = cli.ContainerRemove(context.WithoutCancel(ctx), created.ID, container.RemoveOptions{Force: true})
	}()

	if err := cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("docker-shell: starting container: %w", err)
	}

	logs, err := cli.ContainerLogs(ctx, created.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return fmt.Errorf("docker-shell: attaching logs: %w", err)
	}
	defer logs.Close()

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		forwardLines(a, outR, false)
	}()
	go func() {
		defer wg.Done()
		forwardLines(a, errR, true)
	}()
	go func() {
		_, copyErr := stdcopy.StdCopy(outW, errW, logs)
		outW.CloseWithError(copyErr)
		errW.CloseWithError(copyErr)
	}()

	waitCh, errCh := cli.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case resp := <-waitCh:
		wg.Wait()
		if resp.Error != nil {
			return fmt.Errorf("docker-shell: %s", resp.Error.Message)
		}
		if resp.StatusCode != 0 {
			return fmt.Errorf("command exited with code %d", resp.StatusCode)
		}
		return nil
	case err := <-errCh:
		wg.Wait()
		return fmt.Errorf("docker-shell: waiting for container: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stringList coerces a decoded args value into a []string, accepting both
// the YAML loader's []any form and a bare string.
func stringList(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return []string{val}
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, e := range val {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
