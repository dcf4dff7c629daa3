package video

import "fmt"

const (
	TrackTypeVideo = "video"
	TrackTypeAudio = "audio"
)

// InputVideo is the result of probing a source file: its container format
// plus one entry per elementary stream.
type InputVideo struct {
	Format    string       `json:"format,omitempty"`
	Tracks    []InputTrack `json:"tracks,omitempty"`
	Duration  float64      `json:"duration,omitempty"`
	SizeBytes int64        `json:"size,omitempty"`
}

// GetTrack finds the first track of the given type. If multiple tracks of
// that type are present, the first one wins; if none is present, it errors.
func (i InputVideo) GetTrack(trackType string) (InputTrack, error) {
	if trackType != TrackTypeVideo && trackType != TrackTypeAudio {
		return InputTrack{}, fmt.Errorf("invalid track type - must be '%s' or '%s'", TrackTypeVideo, TrackTypeAudio)
	}
	for _, t := range i.Tracks {
		if t.Type == trackType {
			return t, nil
		}
	}
	return InputTrack{}, fmt.Errorf("no '%s' tracks found", trackType)
}

// HasAudio reports whether the probed input carries an audio stream, used
// by the encoder driver to decide whether `-codec:a copy` is safe to pass.
func (i InputVideo) HasAudio() bool {
	_, err := i.GetTrack(TrackTypeAudio)
	return err == nil
}

type VideoTrack struct {
	Width       int64   `json:"width,omitempty"`
	Height      int64   `json:"height,omitempty"`
	PixelFormat string  `json:"pixel_format,omitempty"`
	FPS         float64 `json:"fps,omitempty"`
}

type AudioTrack struct {
	Channels   int `json:"channels,omitempty"`
	SampleRate int `json:"sample_rate,omitempty"`
}

type InputTrack struct {
	Type         string  `json:"type"`
	Codec        string  `json:"codec"`
	Bitrate      int64   `json:"bitrate"`
	DurationSec  float64 `json:"duration"`
	SizeBytes    int64   `json:"size"`
	StartTimeSec float64 `json:"start_time"`

	// Fields only used if this is a Video Track
	VideoTrack

	// Fields only used if this is an Audio Track
	AudioTrack
}

// OutputVideoFile describes the encoded result once it has been written to
// the object store and re-probed to confirm its real dimensions/bitrate.
type OutputVideoFile struct {
	SizeBytes int64  `json:"size,omitempty"`
	Location  string `json:"location"`
	Width     int64  `json:"width,omitempty"`
	Height    int64  `json:"height,omitempty"`
	Bitrate   int64  `json:"bitrate,omitempty"`
}

// PopulateOutput probes the encoded output at outputURL and fills in the
// fields of videoFile that can only be known after encoding (actual size,
// dimensions and bitrate), since encoders don't always hit the requested
// rate-control target exactly.
func PopulateOutput(requestID string, probe Prober, outputURL string, videoFile OutputVideoFile) (OutputVideoFile, error) {
	outputVideoProbe, err := probe.ProbeFile(requestID, outputURL, "-analyzeduration", "15000000")
	if err != nil {
		return OutputVideoFile{}, fmt.Errorf("error probing output file from object store: %w", err)
	}
	videoFile.SizeBytes = outputVideoProbe.SizeBytes
	videoTrack, err := outputVideoProbe.GetTrack(TrackTypeVideo)
	if err != nil {
		return OutputVideoFile{}, fmt.Errorf("no video track found in output video: %w", err)
	}
	videoFile.Height = videoTrack.Height
	videoFile.Width = videoTrack.Width
	videoFile.Bitrate = videoTrack.Bitrate
	return videoFile, nil
}
