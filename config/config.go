package config

import (
	"os"
	"time"

	kitlog "github.com/go-kit/log"
)

var Version string

// Logger is the fallback logfmt logger for code that runs outside any
// task/request context (subprocess stream readers, package init). Most
// call sites should prefer the log package's per-task helpers instead.
var Logger kitlog.Logger = kitlog.With(kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr)), "ts", kitlog.DefaultTimestampUTC)

const DefaultQueueName = "transcode_pipeline"

const DefaultOuterConcurrency = 4

const DefaultPresignedURLExpirationSecs = 3600

// Workers presign source URLs with a much longer lifetime than API download
// links: the URL has to outlive a full decode or encode of a multi-GB file.
const WorkerPresignExpiry = 24 * time.Hour

// Soft deadline multiplier applied to the probed source duration before an
// encode invocation is considered hung. The decode subprocess has no deadline.
const SubprocessDeadlineMultiplier = 2

// Frame Source backpressure: at most this many decoded frames may be
// in-flight between the decode loop and the DAG scheduler at once.
const DefaultFrameLookahead = 10

// Analyzer progress is logged every N frames.
const ProgressLogEveryNFrames = 25

// Object-store key prefixes. Changing these breaks lookup of previously
// uploaded sources and outputs.
const SourceKeyPrefix = "source/"
const EncodedKeyPrefix = "encoded/"
