// Package encode drives the external encoder binary, uploads the result,
// and cleans up its temp file on every exit path.
package encode

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/livepeer/transcode-pipeline/clients"
	"github.com/livepeer/transcode-pipeline/config"
	"github.com/livepeer/transcode-pipeline/log"
	"github.com/livepeer/transcode-pipeline/predict"
	"github.com/livepeer/transcode-pipeline/subprocess"
)

// binaryName is resolved from PATH, or alongside the worker executable if
// a file named after the executable with a "-ffmpeg" suffix exists.
const binaryName = "ffmpeg"

// Input is everything the Driver needs to build one encode invocation.
type Input struct {
	RequestID       string
	SourcePresigned string // presigned HTTPS URL, or a local path in tests
	HasAudio        bool
	Predictor       predict.Result
	// SoftDeadline bounds this invocation, typically a multiple of the
	// probed source duration. Zero falls back to the driver-wide Deadline;
	// both zero disables the bound.
	SoftDeadline time.Duration
}

// Output is the result of a successful encode: the object-store key and
// byte size of the uploaded output.
type Output struct {
	OutputFile string
	OutputSize int64
}

// Driver resolves the encoder binary once and runs it against an ObjectStore
// for the final upload.
type Driver struct {
	BinaryPath  string
	ObjectStore *clients.ObjectStore
	// Deadline is the soft deadline for one encoder invocation, derived by
	// the caller from the probed source duration. Zero disables it.
	Deadline time.Duration
}

// NewDriver resolves the encoder binary from PATH, or alongside the
// worker's own executable as a fallback.
func NewDriver(store *clients.ObjectStore) (*Driver, error) {
	path, err := resolveBinary()
	if err != nil {
		return nil, err
	}
	return &Driver{BinaryPath: path, ObjectStore: store}, nil
}

func resolveBinary() (string, error) {
	if path, err := exec.LookPath(binaryName); err == nil {
		return path, nil
	}
	if exe, err := os.Executable(); err == nil {
		sibling := exe + "-" + binaryName
		if _, statErr := os.Stat(sibling); statErr == nil {
			return sibling, nil
		}
	}
	return "", fmt.Errorf("could not resolve %q binary on PATH or alongside the worker executable", binaryName)
}

// BuildArgs assembles the encoder's fixed argument groups in order: input
// group, parameter group, global group. The reconnect flags on the input
// group are what lets the encoder survive transient faults while pulling a
// multi-GB source over a presigned URL; the exact spellings are the
// contract with the encoder binary.
func BuildArgs(in Input, outputPath string) []string {
	args := []string{
		"-seekable", "1",
		"-reconnect_delay_max", "300",
		"-multiple_requests", "1",
		"-reconnect_on_http_error", "429,5xx",
		"-reconnect_on_network_error", "1",
		"-i", in.SourcePresigned,

		"-c:v", "libx265", "-preset", "veryslow",
	}

	switch in.Predictor.Status {
	case predict.StatusSuccess:
		args = append(args, fmt.Sprintf("-%s", in.Predictor.Parameter), fmt.Sprintf("%d", in.Predictor.Value))
	default:
		args = append(args, "-crf", "16")
	}

	if in.HasAudio {
		args = append(args, "-codec:a", "copy")
	}
	args = append(args, "-sn", "-y", "-hide_banner", "-loglevel", "error", outputPath)
	return args
}

// Run invokes the encoder against in, uploads the result to
// encoded/<uuid>.mp4, and returns its key and size. The temp output file is
// removed on every exit path, success or failure.
func (d *Driver) Run(ctx context.Context, in Input) (Output, error) {
	tmp, err := os.CreateTemp("", "transcode-*.mp4")
	if err != nil {
		return Output{}, fmt.Errorf("failed to create output temp file: %w", err)
	}
	outputPath := tmp.Name()
	tmp.Close()
	defer os.Remove(outputPath)

	deadline := in.SoftDeadline
	if deadline == 0 {
		deadline = d.Deadline
	}
	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	args := BuildArgs(in, outputPath)
	cmd := exec.CommandContext(ctx, d.BinaryPath, args...)
	var stderr bytes.Buffer
	stderrDone, err := subprocess.LogStderrTo(cmd, io.MultiWriter(&stderr, os.Stderr))
	if err != nil {
		return Output{}, fmt.Errorf("failed to attach encoder stderr: %w", err)
	}

	log.Log(in.RequestID, "starting encode", "parameter", in.Predictor.Parameter, "value", in.Predictor.Value, "status", in.Predictor.Status)
	if err := cmd.Start(); err != nil {
		return Output{}, fmt.Errorf("failed to start encoder: %w", err)
	}
	// Drain stderr before Wait: Wait closes the pipe.
	<-stderrDone
	runErr := cmd.Wait()
	if runErr != nil {
		return Output{}, fmt.Errorf("encoder exited with error: %w (stderr: %s)", runErr, stderr.String())
	}

	file, err := os.Open(outputPath)
	if err != nil {
		return Output{}, fmt.Errorf("failed to reopen encoded output: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return Output{}, fmt.Errorf("failed to stat encoded output: %w", err)
	}

	// Key uses the dashless 32-hex-character uuid form.
	key := config.EncodedKeyPrefix + strings.ReplaceAll(uuid.New().String(), "-", "") + ".mp4"
	if err := d.ObjectStore.Upload(ctx, key, "video/mp4", file); err != nil {
		return Output{}, fmt.Errorf("failed to upload encoded output: %w", err)
	}

	return Output{OutputFile: key, OutputSize: info.Size()}, nil
}
