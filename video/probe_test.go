package video

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/vansante/go-ffprobe.v2"
)

func TestItRejectsWhenNoVideoTrackPresent(t *testing.T) {
	_, err := parseProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{
				CodecType: "audio",
			},
		},
	})
	require.ErrorContains(t, err, "no video stream found")
}

func TestItRejectsStillImageCodecs(t *testing.T) {
	for _, codec := range []string{"mjpeg", "jpeg", "png"} {
		_, err := parseProbeOutput(&ffprobe.ProbeData{
			Streams: []*ffprobe.Stream{
				{
					CodecType: "video",
					CodecName: codec,
				},
			},
		})
		require.ErrorContains(t, err, codec+" is not supported")
	}
}

func TestItRejectsWhenFormatMissing(t *testing.T) {
	_, err := parseProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{
				CodecType: "video",
			},
		},
	})
	require.ErrorContains(t, err, "format information missing")
}

func TestDefaultBitrate(t *testing.T) {
	iv, err := parseProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{
				CodecType: "video",
				BitRate:   "",
			},
		},
		Format: &ffprobe.Format{
			Size: "1",
		},
	})
	require.NoError(t, err)
	track, err := iv.GetTrack(TrackTypeVideo)
	require.NoError(t, err)
	require.Equal(t, int64(defaultBitrate), track.Bitrate)
}

func TestProbeForwardsDecodeFields(t *testing.T) {
	iv, err := parseProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{
				CodecType:    "video",
				CodecName:    "h264",
				Width:        1920,
				Height:       1080,
				PixFmt:       "yuv420p",
				AvgFrameRate: "30000/1001",
				Duration:     "12.5",
			},
		},
		Format: &ffprobe.Format{
			Size: "1024",
		},
	})
	require.NoError(t, err)
	require.InDelta(t, 12.5, iv.Duration, 1e-9)
	require.Equal(t, int64(1024), iv.SizeBytes)

	track, err := iv.GetTrack(TrackTypeVideo)
	require.NoError(t, err)
	require.Equal(t, int64(1920), track.Width)
	require.Equal(t, int64(1080), track.Height)
	require.Equal(t, "yuv420p", track.PixelFormat)
	require.InDelta(t, 29.97, track.FPS, 0.001)
}

func TestProbeReportsAudioPresence(t *testing.T) {
	withAudio, err := parseProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{CodecType: "video", CodecName: "h264"},
			{CodecType: "audio", CodecName: "aac", Channels: 2, SampleRate: "48000"},
		},
		Format: &ffprobe.Format{Size: "1"},
	})
	require.NoError(t, err)
	require.True(t, withAudio.HasAudio())

	noAudio, err := parseProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{CodecType: "video", CodecName: "h264"},
		},
		Format: &ffprobe.Format{Size: "1"},
	})
	require.NoError(t, err)
	require.False(t, noAudio.HasAudio())
}

func TestParseFps(t *testing.T) {
	fps, err := parseFps("25/1")
	require.NoError(t, err)
	require.InDelta(t, 25, fps, 1e-9)

	fps, err = parseFps("0/0")
	require.NoError(t, err)
	require.InDelta(t, 0, fps, 1e-9)

	_, err = parseFps("1/0")
	require.ErrorContains(t, err, "invalid framerate denominator")

	fps, err = parseFps("")
	require.NoError(t, err)
	require.InDelta(t, 0, fps, 1e-9)
}
