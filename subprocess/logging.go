package subprocess

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/livepeer/transcode-pipeline/config"
)

func streamOutput(src io.Reader, out io.Writer, done chan<- struct{}) {
	defer close(done)
	s := bufio.NewReader(src)
	for {
		var line []byte
		line, err := s.ReadSlice('\n')
		if err == io.EOF && len(line) == 0 {
			break
		}
		if err == io.EOF {
			_ = config.Logger.Log("msg", "streamOutput() improper termination", "line", line)
			return
		}
		if err != nil {
			_ = config.Logger.Log("msg", "streamOutput ReadSlice error", "err", err)
			return
		}
		_, err = out.Write(line)
		if err != nil {
			_ = config.Logger.Log("msg", "streamOutput out.Write error", "err", err)
			return
		}
	}
}

func LogStdout(cmd *exec.Cmd) error {
	_, err := LogStdoutTo(cmd, os.Stdout)
	return err
}

func LogStderr(cmd *exec.Cmd) error {
	_, err := LogStderrTo(cmd, os.Stderr)
	return err
}

// LogStdoutTo streams cmd's stdout line-by-line to out as the process runs,
// rather than buffering the whole stream until exit. The returned channel
// closes once the stream has been fully drained; callers that want to
// inspect anything out captured must receive from it before calling
// cmd.Wait, which closes the pipe, and before reading out.
func LogStdoutTo(cmd *exec.Cmd, out io.Writer) (<-chan struct{}, error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %v", err)
	}
	done := make(chan struct{})
	go streamOutput(stdoutPipe, out, done)
	return done, nil
}

// LogStderrTo streams cmd's stderr line-by-line to out as the process runs.
// The encoder driver passes an io.MultiWriter so the operator console gets
// live progress while a buffer still captures the full text for
// error_message on a fatal exit; it waits on the returned channel before
// reading that buffer back.
func LogStderrTo(cmd *exec.Cmd, out io.Writer) (<-chan struct{}, error) {
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %v", err)
	}
	done := make(chan struct{})
	go streamOutput(stderrPipe, out, done)
	return done, nil
}

// LogOutputs starts new goroutines to print cmd's stdout & stderr to our stdout & stderr
func LogOutputs(cmd *exec.Cmd) error {
	if err := LogStderr(cmd); err != nil {
		return err
	}
	if err := LogStdout(cmd); err != nil {
		return err
	}
	return nil
}
