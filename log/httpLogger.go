package log

import (
	"github.com/golang/glog"
	"github.com/hashicorp/go-retryablehttp"
)

var _ retryablehttp.LeveledLogger = retryableHTTPLogger{}

// retryableHTTPLogger adapts this package to retryablehttp's LeveledLogger,
// for the client that fetches regressor artifacts and other small files by
// URL. Retry chatter is pushed to high verbosity levels so a worker's
// default output stays one line per task stage.
type retryableHTTPLogger struct {
	component string
}

func NewRetryableHTTPLogger() retryablehttp.LeveledLogger {
	return retryableHTTPLogger{component: "retryable-http"}
}

func (r retryableHTTPLogger) log(level glog.Level, msg string, keysAndValues ...interface{}) {
	if glog.V(level) {
		LogNoRequestID(msg, append([]interface{}{"component", r.component}, keysAndValues...)...)
	}
}

func (r retryableHTTPLogger) Error(msg string, keysAndValues ...interface{}) {
	r.log(3, msg, keysAndValues...)
}

func (r retryableHTTPLogger) Warn(msg string, keysAndValues ...interface{}) {
	r.log(4, msg, keysAndValues...)
}

func (r retryableHTTPLogger) Info(msg string, keysAndValues ...interface{}) {
	r.log(5, msg, keysAndValues...)
}

func (r retryableHTTPLogger) Debug(msg string, keysAndValues ...interface{}) {
	r.log(6, msg, keysAndValues...)
}
