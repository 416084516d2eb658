//go:build linux
// +build linux

package util

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/coreos/go-systemd/v22/journal"
)

// journaldWriter implements io.Writer for journald logging.
type journaldWriter struct{}

func (w *journaldWriter) Write(p []byte) (n int, err error) {
	msg := string(p)
	if len(msg) > 0 && msg[len(msg)-1] == '\n' {
		msg = msg[:len(msg)-1]
	}

	err = journal.Send(msg, journal.PriInfo, map[string]string{
		"SYSLOG_IDENTIFIER": "stegodon-federate",
	})
	if err != nil {
		return fmt.Fprintf(os.Stderr, "%s", p)
	}
	return len(p), nil
}

var logWriter io.Writer = os.Stderr

// GetLogWriter returns the current log writer (for use by other packages).
func GetLogWriter() io.Writer {
	return logWriter
}

// SetupLogging configures the logging system based on the journald flag.
func SetupLogging(withJournald bool) {
	if withJournald {
		if !journal.Enabled() {
			log.Println("Warning: Journald not available on this system; using standard logging")
			return
		}

		writer := &journaldWriter{}
		logWriter = writer
		log.SetOutput(writer)
		log.SetFlags(0) // journald adds its own timestamps
		log.Println("Logging initialized with journald support")
	}
}
