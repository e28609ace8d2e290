package adapter

import "time"

type Config struct {
	Token       string
	PollTimeout time.Duration
	// StopGrace bounds how long Stop waits for the long poll to return.
	StopGrace time.Duration
}
