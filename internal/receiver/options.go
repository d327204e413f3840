package receiver

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// Options configures a Receiver, following the same functional-options
// shape as internal/sender.Options and the teacher's internal/server.
type Options struct {
	Logger       *log.Logger
	PollInterval time.Duration
}

func newDefaultOptions() *Options {
	return &Options{
		Logger:       log.StandardLogger(),
		PollInterval: time.Millisecond,
	}
}
