package encode

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livepeer/transcode-pipeline/predict"
)

func TestBuildArgsSuccessParameter(t *testing.T) {
	in := Input{
		SourcePresigned: "https://example.com/source.mp4?sig=abc",
		HasAudio:        true,
		Predictor:       predict.Result{Parameter: predict.ParameterCRF, Value: 23, Status: predict.StatusSuccess},
	}
	args := BuildArgs(in, "/tmp/out.mp4")

	require.Equal(t, []string{
		"-seekable", "1",
		"-reconnect_delay_max", "300",
		"-multiple_requests", "1",
		"-reconnect_on_http_error", "429,5xx",
		"-reconnect_on_network_error", "1",
		"-i", "https://example.com/source.mp4?sig=abc",
		"-c:v", "libx265", "-preset", "veryslow",
		"-crf", "23",
		"-codec:a", "copy",
		"-sn", "-y", "-hide_banner", "-loglevel", "error",
		"/tmp/out.mp4",
	}, args)
}

func TestBuildArgsQPParameter(t *testing.T) {
	in := Input{
		SourcePresigned: "file:///tmp/in.mp4",
		Predictor:       predict.Result{Parameter: predict.ParameterQP, Value: 30, Status: predict.StatusSuccess},
	}
	args := BuildArgs(in, "/tmp/out.mp4")
	require.Contains(t, args, "-qp")
	require.Contains(t, args, "30")
}

func TestBuildArgsFallbackIsCRF16(t *testing.T) {
	in := Input{
		SourcePresigned: "file:///tmp/in.mp4",
		Predictor:       predict.Result{Status: predict.StatusSuccessFallback},
	}
	args := BuildArgs(in, "/tmp/out.mp4")
	require.Contains(t, args, "-crf")
	idx := indexOf(args, "-crf")
	require.Equal(t, "16", args[idx+1])
}

func TestBuildArgsFailedStatusAlsoFallsBackToCRF16(t *testing.T) {
	in := Input{
		SourcePresigned: "file:///tmp/in.mp4",
		Predictor:       predict.Result{Status: predict.StatusFailed, Error: "model down"},
	}
	args := BuildArgs(in, "/tmp/out.mp4")
	idx := indexOf(args, "-crf")
	require.Equal(t, "16", args[idx+1])
}

func TestBuildArgsDropsAudioCopyWhenNoAudioTrack(t *testing.T) {
	in := Input{
		SourcePresigned: "file:///tmp/in.mp4",
		HasAudio:        false,
		Predictor:       predict.Result{Status: predict.StatusSuccessFallback},
	}
	args := BuildArgs(in, "/tmp/out.mp4")
	require.NotContains(t, args, "-codec:a")
}

func indexOf(args []string, target string) int {
	for i, a := range args {
		if a == target {
			return i
		}
	}
	return -1
}

// writeFakeBinary drops a fake ffmpeg shell script that exits with the given
// code and stderr text, and returns its path, so a test can point a Driver at
// it directly (not via PATH resolution).
func writeFakeBinary(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake binary is a POSIX shell script")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755))
	return path
}

func TestRunSurfacesEncoderStderrOnFailure(t *testing.T) {
	bin := writeFakeBinary(t, `echo "bad input stream" >&2; exit 1`)
	d := &Driver{BinaryPath: bin}

	_, err := d.Run(context.Background(), Input{
		SourcePresigned: "file:///tmp/in.mp4",
		Predictor:       predict.Result{Status: predict.StatusSuccessFallback},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad input stream")
}
