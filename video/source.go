package video

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/livepeer/transcode-pipeline/config"
	"github.com/livepeer/transcode-pipeline/log"
)

// Frame is one decoded planar video frame. Y/U/V share a single backing
// array (sliced from one read), so callers that hold onto a Frame past the
// next receive on the channel must copy what they need.
//
// PTS is in seconds since the start of the stream. The rawvideo pipe
// carries no container timestamps, so it is reconstructed from the frame
// index and the probed frame rate; decoded frames arrive in presentation
// order, which makes this exact for constant-frame-rate sources.
type Frame struct {
	Index       int
	Y, U, V     []byte
	Width       int
	Height      int
	PixelFormat string
	PTS         float64
}

type planeLayout struct {
	ySize, uSize, vSize int
}

func planesFor(pixFmt string, width, height int) (planeLayout, error) {
	switch pixFmt {
	case "yuv420p":
		uw, uh := (width+1)/2, (height+1)/2
		return planeLayout{ySize: width * height, uSize: uw * uh, vSize: uw * uh}, nil
	case "yuv422p":
		uw := (width + 1) / 2
		return planeLayout{ySize: width * height, uSize: uw * height, vSize: uw * height}, nil
	case "yuv444p":
		return planeLayout{ySize: width * height, uSize: width * height, vSize: width * height}, nil
	default:
		return planeLayout{}, fmt.Errorf("unsupported pixel format for raw decode: %q", pixFmt)
	}
}

// FrameSource decodes a probed source video into a bounded stream of raw
// planar frames, one ffmpeg subprocess per Open call, reading the rawvideo
// stream off the subprocess's stdout pipe rather than through a temp file.
type FrameSource struct {
	Probe Prober
}

func NewFrameSource(probe Prober) *FrameSource {
	return &FrameSource{Probe: probe}
}

// Stream is a single decode session.
type Stream struct {
	Frames <-chan Frame
	errCh  chan error
	stderr *bytes.Buffer
}

// Err returns the first decode error, if any, once the Frames channel has
// been drained and closed. Returns nil on a clean EOF.
func (s *Stream) Err() error {
	select {
	case err := <-s.errCh:
		if err != nil {
			return fmt.Errorf("%w (ffmpeg stderr: %s)", err, s.stderr.String())
		}
		return nil
	default:
		return nil
	}
}

// Open probes sourcePath and starts decoding it to a raw planar stream,
// returning a bounded channel of frames alongside the probe result (needed
// by callers to size descriptor output and choose encode settings).
func (s *FrameSource) Open(ctx context.Context, requestID, sourcePath string) (*Stream, InputVideo, error) {
	iv, err := s.Probe.ProbeFile(requestID, sourcePath)
	if err != nil {
		return nil, InputVideo{}, fmt.Errorf("failed to probe source: %w", err)
	}
	videoTrack, err := iv.GetTrack(TrackTypeVideo)
	if err != nil {
		return nil, InputVideo{}, err
	}

	pixFmt := videoTrack.PixelFormat
	if pixFmt == "" {
		pixFmt = "yuv420p"
	}
	width, height := int(videoTrack.Width), int(videoTrack.Height)
	layout, err := planesFor(pixFmt, width, height)
	if err != nil {
		return nil, InputVideo{}, err
	}
	frameSize := layout.ySize + layout.uSize + layout.vSize

	pr, pw := io.Pipe()
	stderrBuf := &bytes.Buffer{}
	cmd := ffmpeg.Input(sourcePath, ffmpeg.KwArgs{
		"seekable":                   "1",
		"reconnect_delay_max":        "300",
		"multiple_requests":          "1",
		"reconnect_on_http_error":    "429,5xx",
		"reconnect_on_network_error": "1",
	}).
		Output("pipe:1", ffmpeg.KwArgs{
			"f":       "rawvideo",
			"pix_fmt": pixFmt,
			"vsync":   "0",
		}).
		WithOutput(pw).
		WithErrorOutput(stderrBuf).
		Compile()

	if err := cmd.Start(); err != nil {
		return nil, InputVideo{}, fmt.Errorf("failed to start ffmpeg decode: %w", err)
	}

	waitDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = cmd.Process.Kill()
		case <-waitDone:
		}
	}()

	go func() {
		runErr := cmd.Wait()
		close(waitDone)
		_ = pw.CloseWithError(runErr)
	}()

	fps := videoTrack.FPS
	duration := iv.Duration

	frames := make(chan Frame, config.DefaultFrameLookahead)
	errCh := make(chan error, 1)

	go func() {
		defer close(frames)
		defer pr.Close()
		reader := bufio.NewReaderSize(pr, frameSize)
		idx := 0
		for {
			buf := make([]byte, frameSize)
			_, readErr := io.ReadFull(reader, buf)
			if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
				return
			}
			if readErr != nil {
				errCh <- fmt.Errorf("error reading decoded frame %d: %w", idx, readErr)
				return
			}

			var pts float64
			if fps > 0 {
				pts = float64(idx) / fps
			}
			frame := Frame{
				Index:       idx,
				Y:           buf[:layout.ySize],
				U:           buf[layout.ySize : layout.ySize+layout.uSize],
				V:           buf[layout.ySize+layout.uSize:],
				Width:       width,
				Height:      height,
				PixelFormat: pixFmt,
				PTS:         pts,
			}

			select {
			case frames <- frame:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}

			idx++
			if idx%config.ProgressLogEveryNFrames == 0 {
				log.Log(requestID, "decode progress", "frames", idx, "pts", pts, "duration", duration)
			}
		}
	}()

	return &Stream{Frames: frames, errCh: errCh, stderr: stderrBuf}, iv, nil
}
