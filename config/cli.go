package config

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
)

// Cli holds every tunable for a worker or API process, populated from
// environment variables. All fields have sane defaults so tests can
// construct a zero-ish Cli and override only what they need.
type Cli struct {
	Port            int
	DatabaseURL     string
	S3EndpointURL   string
	AWSAccessKeyID  string
	AWSSecretKey    string
	S3Bucket        string
	PresignedExpiry int // seconds

	BrokerURL string
	QueueName string

	RegressorPath string

	// OuterConcurrency is the broker prefetch for each queue a worker
	// consumes; InnerConcurrency (DAG scheduler workers per task) is derived
	// from it at startup. The worker handles each queue's deliveries one at
	// a time, so it does not run OuterConcurrency tasks in parallel.
	OuterConcurrency int
}

func FromEnv() Cli {
	c := Cli{
		Port:             4949,
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		S3EndpointURL:    os.Getenv("S3_ENDPOINT_URL"),
		AWSAccessKeyID:   os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretKey:     os.Getenv("AWS_SECRET_ACCESS_KEY"),
		S3Bucket:         os.Getenv("S3_BUCKET"),
		PresignedExpiry:  DefaultPresignedURLExpirationSecs,
		BrokerURL:        os.Getenv("CELERY_BROKER_URL"),
		QueueName:        os.Getenv("CELERY_QUEUE_NAME"),
		RegressorPath:    os.Getenv("REGRESSOR_PATH"),
		OuterConcurrency: DefaultOuterConcurrency,
	}
	if c.QueueName == "" {
		c.QueueName = DefaultQueueName
	}
	if raw := os.Getenv("PRESIGNED_URL_EXPIRATION"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			c.PresignedExpiry = secs
		}
	}
	return c
}

// RegisterFlags gives worker/API binaries a single place to attach flags,
// parsed once at startup.
func RegisterFlags(fs *flag.FlagSet) *int {
	return fs.Int("port", 4949, "Port to listen on")
}

func InnerConcurrency(outer int) int {
	if outer < 1 {
		outer = 1
	}
	n := runtime.NumCPU() / outer
	if n < 1 {
		n = 1
	}
	return n
}

func (c Cli) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required")
	}
	return nil
}
