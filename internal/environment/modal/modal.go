// Package modal runs build scripts in Modal sandboxes.
package modal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/modal-labs/libmodal/modal-go"
	"github.com/segmentio/encoding/json"
	"golang.org/x/sync/errgroup"

	"github.com/spachava753/patchcheck/internal/environment"
)

// ProviderConfig holds Modal-specific configuration.
type ProviderConfig struct {
	// AppName is the name of the Modal app to use. If empty, a unique name is generated.
	AppName string
	// Regions specifies the Modal regions (e.g., "us-east", "us-west").
	Regions []string
	// Verbose enables detailed sandbox logging.
	Verbose bool
}

// ParseProviderConfig extracts Modal-specific config from the generic config map.
func ParseProviderConfig(config map[string]any) ProviderConfig {
	pc := ProviderConfig{}
	if config == nil {
		return pc
	}
	if v, ok := config["app_name"].(string); ok {
		pc.AppName = v
	}
	if v, ok := config["region"].(string); ok {
		pc.Regions = []string{v}
	}
	if v, ok := config["regions"].([]any); ok {
		for _, r := range v {
			if s, ok := r.(string); ok {
				pc.Regions = append(pc.Regions, s)
			}
		}
	}
	if v, ok := config["verbose"].(bool); ok {
		pc.Verbose = v
	}
	return pc
}

// Provider implements the Modal environment provider using Modal Sandboxes.
type Provider struct {
	client *modal.Client
	config ProviderConfig
}

// MinImageBuilderVersion is the oldest Modal image builder that honours the
// WORKDIR instruction the build image relies on.
const MinImageBuilderVersion = "2025.06"

// NewProvider checks the local Modal setup and connects a client.
func NewProvider(config ProviderConfig) (*Provider, error) {
	version, err := checkImageBuilderVersion()
	if err != nil {
		return nil, err
	}

	slog.Debug("initializing modal client", "image_builder_version", version)
	client, err := modal.NewClient()
	if err != nil {
		return nil, fmt.Errorf("creating modal client: %w", err)
	}
	return &Provider{
		client: client,
		config: config,
	}, nil
}

// ConfigReader returns the output of `modal config show`.
type ConfigReader interface {
	ReadConfig() ([]byte, error)
}

// cliConfigReader shells out to the modal CLI.
type cliConfigReader struct{}

// ReadConfig runs `modal config show`.
func (c *cliConfigReader) ReadConfig() ([]byte, error) {
	modalPath, err := exec.LookPath("modal")
	if err != nil {
		return nil, fmt.Errorf("modal CLI not found: %w", err)
	}
	return exec.Command(modalPath, "config", "show").Output()
}

// defaultConfigReader is replaced in tests.
var defaultConfigReader ConfigReader = &cliConfigReader{}

// checkImageBuilderVersion returns the configured image builder version, or
// an error naming the command that fixes it.
func checkImageBuilderVersion() (string, error) {
	return checkImageBuilderVersionWith(defaultConfigReader)
}

func checkImageBuilderVersionWith(reader ConfigReader) (string, error) {
	output, err := reader.ReadConfig()
	if err != nil {
		return "", fmt.Errorf("reading modal config: %w", err)
	}

	var config struct {
		ImageBuilderVersion string `json:"image_builder_version"`
	}
	if err := json.Unmarshal(output, &config); err != nil {
		return "", fmt.Errorf("decoding modal config: %w", err)
	}

	fix := fmt.Sprintf("run: modal config set image_builder_version %s", MinImageBuilderVersion)
	switch v := config.ImageBuilderVersion; {
	case v == "":
		return "", fmt.Errorf("modal image_builder_version is unset; %s", fix)
	case v < MinImageBuilderVersion:
		return "", fmt.Errorf("modal image_builder_version %s is older than %s; %s", v, MinImageBuilderVersion, fix)
	default:
		return v, nil
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "modal"
}

// BuildImage checks the Dockerfile and returns the context directory as the
// image reference. The image is built when the sandbox is created. Dockerfiles
// must be self-contained: the modal-go SDK has no build context, so COPY and
// ADD are rejected.
func (p *Provider) BuildImage(ctx context.Context, opts environment.BuildImageOptions) (string, error) {
	dockerfilePath := filepath.Join(opts.ContextDir, "Dockerfile")
	content, err := os.ReadFile(dockerfilePath)
	if err != nil {
		return "", fmt.Errorf("Dockerfile not found at %s: %w", dockerfilePath, err)
	}
	if _, _, err := parseDockerfile(string(content)); err != nil {
		return "", fmt.Errorf("parsing %s: %w", dockerfilePath, err)
	}
	slog.Debug("modal build deferred - using context directory", "context", opts.ContextDir)
	return opts.ContextDir, nil
}

// PullImage is a no-op; Modal pulls registry images itself.
func (p *Provider) PullImage(ctx context.Context, imageRef string) error {
	slog.Debug("modal pull is no-op - handled internally", "image", imageRef)
	return nil
}

// CreateEnvironment creates and starts a Modal sandbox.
func (p *Provider) CreateEnvironment(ctx context.Context, opts environment.CreateEnvironmentOptions) (environment.Environment, error) {
	appName := opts.Name
	if appName == "" {
		appName = p.config.AppName
	}
	if appName == "" {
		appName = fmt.Sprintf("patchcheck-%d", time.Now().UnixNano())
	}

	slog.Debug("creating modal app", "name", appName)
	app, err := p.client.Apps.FromName(ctx, appName, &modal.AppFromNameParams{
		CreateIfMissing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating modal app: %w", err)
	}

	var image *modal.Image
	if isDockerContextPath(opts.ImageRef) {
		slog.Debug("building modal image from dockerfile", "context", opts.ImageRef)
		image, err = p.buildImageFromDockerfile(ctx, app, opts.ImageRef)
		if err != nil {
			return nil, fmt.Errorf("building image from dockerfile: %w", err)
		}
	} else {
		slog.Debug("using registry image for modal", "image", opts.ImageRef)
		image = p.client.Images.FromRegistry(opts.ImageRef, nil)
	}

	cpuCount := opts.CPUs
	if cpuCount <= 0 {
		cpuCount = 1
	}
	memoryMiB := opts.MemoryMB
	if memoryMiB <= 0 {
		memoryMiB = 2048
	}

	envVars := make(map[string]string, len(opts.Env))
	for k, v := range opts.Env {
		envVars[k] = v
	}

	createParams := &modal.SandboxCreateParams{
		CPU:       float64(cpuCount),
		MemoryMiB: memoryMiB,
		Env:       envVars,
		Timeout:   24 * time.Hour, // Maximum allowed
		Verbose:   p.config.Verbose,
		Regions:   p.config.Regions,
	}

	slog.Debug("creating modal sandbox",
		"app", appName,
		"cpus", cpuCount,
		"memory_mib", memoryMiB,
		"regions", p.config.Regions)

	sandbox, err := p.client.Sandboxes.Create(ctx, app, image, createParams)
	if err != nil {
		return nil, fmt.Errorf("creating modal sandbox: %w", err)
	}

	slog.Debug("modal sandbox created", "sandbox_id", sandbox.SandboxID)

	return &ModalEnvironment{
		sandbox: sandbox,
		appName: appName,
	}, nil
}

// buildImageFromDockerfile creates a Modal image from a Dockerfile.
func (p *Provider) buildImageFromDockerfile(ctx context.Context, app *modal.App, contextDir string) (*modal.Image, error) {
	content, err := os.ReadFile(filepath.Join(contextDir, "Dockerfile"))
	if err != nil {
		return nil, fmt.Errorf("reading Dockerfile: %w", err)
	}

	baseImage, commands, err := parseDockerfile(string(content))
	if err != nil {
		return nil, fmt.Errorf("parsing Dockerfile: %w", err)
	}

	slog.Debug("parsed dockerfile",
		"base_image", baseImage,
		"commands", len(commands))

	image := p.client.Images.FromRegistry(baseImage, nil)
	if len(commands) > 0 {
		image = image.DockerfileCommands(commands, nil)
	}

	// Build eagerly so build errors surface before the sandbox is created.
	slog.Debug("building modal image")
	builtImage, err := image.Build(ctx, app)
	if err != nil {
		return nil, fmt.Errorf("building image: %w", err)
	}

	return builtImage, nil
}

// isDockerContextPath reports whether imageRef is a local directory.
func isDockerContextPath(imageRef string) bool {
	info, err := os.Stat(imageRef)
	return err == nil && info.IsDir()
}

// parseDockerfile extracts the base image and the instructions Modal can
// replay. Instructions of earlier build stages are dropped.
func parseDockerfile(content string) (baseImage string, commands []string, err error) {
	var currentCmd strings.Builder
	inContinuation := false

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)

		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		if inContinuation {
			currentCmd.WriteString(" ")
			if strings.HasSuffix(trimmed, "\\") {
				currentCmd.WriteString(strings.TrimSpace(strings.TrimSuffix(trimmed, "\\")))
			} else {
				currentCmd.WriteString(trimmed)
				commands = append(commands, currentCmd.String())
				currentCmd.Reset()
				inContinuation = false
			}
			continue
		}

		upper := strings.ToUpper(trimmed)
		switch {
		case strings.HasPrefix(upper, "FROM "):
			parts := strings.Fields(trimmed)
			baseImage = parts[1]
			commands = nil
			continue
		case strings.HasPrefix(upper, "COPY "), strings.HasPrefix(upper, "ADD "):
			return "", nil, fmt.Errorf("COPY and ADD instructions are not supported: %s", trimmed)
		case strings.HasPrefix(upper, "RUN "),
			strings.HasPrefix(upper, "WORKDIR "),
			strings.HasPrefix(upper, "ENV "),
			strings.HasPrefix(upper, "USER "),
			strings.HasPrefix(upper, "LABEL "):
		default:
			continue
		}

		if strings.HasSuffix(trimmed, "\\") {
			currentCmd.WriteString(strings.TrimSpace(strings.TrimSuffix(trimmed, "\\")))
			inContinuation = true
		} else {
			commands = append(commands, trimmed)
		}
	}

	if baseImage == "" {
		return "", nil, fmt.Errorf("no FROM instruction found in Dockerfile")
	}

	return baseImage, commands, nil
}

// ModalEnvironment represents a running Modal sandbox.
type ModalEnvironment struct {
	sandbox *modal.Sandbox
	appName string
}

// ID returns the sandbox ID.
func (e *ModalEnvironment) ID() string {
	return e.sandbox.SandboxID
}

// CopyTo copies a local file or directory into the sandbox. Directories are
// sent as a single gzipped tarball and unpacked with tar in the sandbox.
func (e *ModalEnvironment) CopyTo(ctx context.Context, src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	slog.Debug("copying to modal sandbox",
		"sandbox_id", e.sandbox.SandboxID,
		"src", src,
		"dst", dst,
		"is_dir", info.IsDir())

	if !info.IsDir() {
		if code, err := e.execSimple(ctx, fmt.Sprintf("mkdir -p %q", filepath.Dir(dst))); err != nil || code != 0 {
			return fmt.Errorf("creating directory %s: exit %d: %v", filepath.Dir(dst), code, err)
		}
		content, err := os.ReadFile(src)
		if err != nil {
			return fmt.Errorf("reading source file: %w", err)
		}
		return e.writeFile(ctx, dst, content)
	}

	archive, err := tarGzDir(src)
	if err != nil {
		return fmt.Errorf("archiving %s: %w", src, err)
	}
	upload := fmt.Sprintf("/tmp/patchcheck-upload-%d.tgz", time.Now().UnixNano())
	if err := e.writeFile(ctx, upload, archive); err != nil {
		return err
	}

	unpack := fmt.Sprintf("mkdir -p %q && tar -xzf %q -C %q && rm -f %q", dst, upload, dst, upload)
	code, err := e.execSimple(ctx, unpack)
	if err != nil {
		return fmt.Errorf("unpacking upload: %w", err)
	}
	if code != 0 {
		return fmt.Errorf("unpacking upload: tar exited with %d", code)
	}
	return nil
}

// writeFile writes content to dst through the sandbox filesystem API.
func (e *ModalEnvironment) writeFile(ctx context.Context, dst string, content []byte) error {
	f, err := e.sandbox.Open(ctx, dst, "w")
	if err != nil {
		return fmt.Errorf("opening destination file: %w", err)
	}

	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("writing to destination: %w", err)
	}

	if err := f.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flushing file: %w", err)
	}

	return f.Close()
}

// execSimple runs a simple command and returns the exit code.
func (e *ModalEnvironment) execSimple(ctx context.Context, cmd string) (int, error) {
	process, err := e.sandbox.Exec(ctx, []string{"sh", "-c", cmd}, &modal.SandboxExecParams{})
	if err != nil {
		return -1, err
	}
	io.Copy(io.Discard, process.Stdout)
	io.Copy(io.Discard, process.Stderr)
	return process.Wait(ctx)
}

// Exec executes a command in the sandbox.
func (e *ModalEnvironment) Exec(ctx context.Context, cmd string, stdout, stderr io.Writer, opts environment.ExecOptions) (int, error) {
	execParams := &modal.SandboxExecParams{
		Env: opts.Env,
	}
	if opts.Timeout > 0 {
		execParams.Timeout = opts.Timeout
	}
	if opts.WorkDir != "" {
		execParams.Workdir = opts.WorkDir
	}

	cmdPreview := cmd
	if len(cmdPreview) > 100 {
		cmdPreview = cmdPreview[:100] + "..."
	}
	slog.Debug("executing command in modal sandbox",
		"sandbox_id", e.sandbox.SandboxID,
		"command", cmdPreview,
		"timeout", opts.Timeout)

	process, err := e.sandbox.Exec(ctx, []string{"sh", "-c", cmd}, execParams)
	if err != nil {
		return -1, fmt.Errorf("executing command: %w", err)
	}

	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	// Both streams must be drained before Wait returns the exit code.
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(stdout, process.Stdout)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(stderr, process.Stderr)
		return err
	})
	if err := g.Wait(); err != nil {
		slog.Warn("streaming sandbox output", "sandbox_id", e.sandbox.SandboxID, "error", err)
	}

	exitCode, err := process.Wait(ctx)
	if err != nil {
		return -1, fmt.Errorf("waiting for process: %w", err)
	}

	if exitCode != 0 {
		slog.Debug("command exited with non-zero code",
			"sandbox_id", e.sandbox.SandboxID,
			"exit_code", exitCode)
	}

	return exitCode, nil
}

// Destroy terminates the sandbox and stops its app.
func (e *ModalEnvironment) Destroy(ctx context.Context) error {
	slog.Debug("destroying modal sandbox", "sandbox_id", e.sandbox.SandboxID, "app", e.appName)

	if err := e.sandbox.Terminate(ctx); err != nil {
		if !strings.Contains(err.Error(), "already terminated") &&
			!strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("terminating sandbox: %w", err)
		}
	}

	// The modal-go SDK doesn't expose AppStop, so the CLI is used.
	if err := e.stopApp(ctx); err != nil {
		return fmt.Errorf("stopping app: %w", err)
	}

	slog.Debug("modal sandbox destroyed", "sandbox_id", e.sandbox.SandboxID)
	return nil
}

// appGone lists `modal app stop` messages meaning there is nothing to stop.
var appGone = []string{"already stopped", "not found", "Could not find"}

// stopApp runs `modal app stop`. An app that is already gone is not an error.
func (e *ModalEnvironment) stopApp(ctx context.Context) error {
	modalPath, err := exec.LookPath("modal")
	if err != nil {
		return fmt.Errorf("modal CLI is required to stop app %s: %w", e.appName, err)
	}

	output, err := exec.CommandContext(ctx, modalPath, "app", "stop", e.appName).CombinedOutput()
	if err == nil {
		return nil
	}
	out := string(output)
	if slices.ContainsFunc(appGone, func(msg string) bool { return strings.Contains(out, msg) }) {
		return nil
	}
	return fmt.Errorf("modal app stop %s: %s", e.appName, strings.TrimSpace(out))
}
