package logging

import (
	log "github.com/sirupsen/logrus"
)

// CommandLineFormatter prints bare log messages, one per line. It is used by
// the CLI, where timestamps and levels would only be noise.
type CommandLineFormatter struct{}

func (f *CommandLineFormatter) Format(entry *log.Entry) ([]byte, error) {
	return append([]byte(entry.Message), '\n'), nil
}
