package log

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/go-logfmt/logfmt"
	"github.com/stretchr/testify/require"
)

func toMap(r io.Reader) []map[string]string {
	d := logfmt.NewDecoder(r)
	out := []map[string]string{}
	for d.ScanRecord() {
		m := map[string]string{}
		for d.ScanKeyval() {
			m[string(d.Key())] = string(d.Value())
		}
		out = append(out, m)
	}
	return out
}

func TestContextLog(t *testing.T) {
	var b bytes.Buffer
	original := logDestination
	logDestination = &b
	defer func() { logDestination = original }()
	ctx := WithLogValues(context.TODO(), "stage", "analyze")
	LogCtx(ctx, "test message")
	result := toMap(&b)
	require.Len(t, result, 1)
	line := result[0]
	require.Len(t, line, 4)
	require.NotEmpty(t, line["ts"])
	require.NotEmpty(t, line["caller"])
	require.Equal(t, "test message", line["msg"])
	require.Equal(t, "analyze", line["stage"])
	b.Truncate(0)

	ctx2 := WithTaskStage(ctx, 9, "analyze")
	ctx2 = WithLogValues(ctx2, "source_file", "source/abc.mp4")
	LogCtx(ctx2, "child context message")
	result = toMap(&b)
	require.Len(t, result, 1)
	line = result[0]
	require.Len(t, line, 7)
	require.NotEmpty(t, line["ts"])
	require.Equal(t, "child context message", line["msg"])
	require.Equal(t, "analyze", line["stage"])
	require.Equal(t, "task-9-analyze", line["request_id"])
	require.Equal(t, "9", line["task_id"])
	require.Equal(t, "source/abc.mp4", line["source_file"])
}
