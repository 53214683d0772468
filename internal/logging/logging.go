// Package logging configures the daemon's structured logger.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logrus logger writing JSON to stdout at the given
// level, the format the daemon's supervising process is expected to
// collect and parse rather than a human reading a terminal directly.
func New(level string) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	log.SetLevel(parsed)
	return log, nil
}
