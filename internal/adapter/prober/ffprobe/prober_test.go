package ffprobe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeProber(out string, err error) (*Prober, *[]string) {
	var args []string
	p := New()
	p.output = func(_ context.Context, _ string, a ...string) ([]byte, error) {
		args = a
		return []byte(out), err
	}
	return p, &args
}

func TestProber_Probe(t *testing.T) {
	p, args := fakeProber(`{
		"format": {"format_name": "mov,mp4,m4a", "duration": "14.960000", "size": "2048"},
		"streams": [
			{"codec_type": "audio", "codec_name": "aac"},
			{"codec_type": "video", "codec_name": "h264", "width": 576, "height": 1024}
		]
	}`, nil)

	res, err := p.Probe(context.Background(), "/videos/alice/1.mp4")
	require.NoError(t, err)

	assert.Equal(t, "/videos/alice/1.mp4", (*args)[len(*args)-1])
	w, h := res.Dimensions()
	assert.Equal(t, 576, w)
	assert.Equal(t, 1024, h)
	assert.InDelta(t, 14.96, res.DurationSeconds(), 0.001)
}

func TestProber_Errors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		out    string
		runErr error
		errMsg string
	}{
		{name: "empty path", path: "", errMsg: "invalid input path"},
		{name: "null byte", path: "/tmp/\x00video.mp4", errMsg: "invalid input path"},
		{name: "flag-like path", path: "-i", errMsg: "invalid input path"},
		{name: "command fails", path: "/v.mp4", runErr: errors.New("exit status 1"), errMsg: "ffprobe failed"},
		{name: "bad output", path: "/v.mp4", out: "not json", errMsg: "failed to parse"},
		{name: "audio only", path: "/v.mp4", out: `{"streams":[{"codec_type":"audio"}]}`, errMsg: "no video stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := fakeProber(tt.out, tt.runErr)
			_, err := p.Probe(context.Background(), tt.path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
