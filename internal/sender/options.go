package sender

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// Options configures a Sender. Follows the teacher's functional-options
// shape (internal/server.Options in the corpus this was built from).
type Options struct {
	Logger *log.Logger
	// PollInterval is how long the reactor sleeps at the end of every
	// iteration of its cooperative loop. Not a correctness property, per
	// §4.3.
	PollInterval time.Duration
}

func newDefaultOptions() *Options {
	return &Options{
		Logger:       log.StandardLogger(),
		PollInterval: time.Millisecond,
	}
}
