// Package display shows progress while the CLI waits on containers and
// servers.
package display

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bacalhau-project/sftpbox/pkg/logger"
	"github.com/briandowns/spinner"
)

const spinnerInterval = 100 * time.Millisecond

// NewSpinner creates a new spinner to alert the user about the progress.
// Output goes to w (stderr when nil); nothing is drawn unless w is a
// terminal.
func NewSpinner(message string, w io.Writer) *spinner.Spinner {
	l := logger.Get()
	l.Debugf("Creating spinner: %s", message)

	if w == nil {
		w = os.Stderr
	}
	s := spinner.New(spinner.CharSets[14], spinnerInterval, spinner.WithWriter(w))
	s.Prefix = message + " "
	_ = s.Color("green")
	s.Start()

	return s
}

// Elapsed keeps the spinner suffix updated with the time since start until
// done is closed.
func Elapsed(s *spinner.Spinner, start time.Time, done <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.Lock()
			s.Suffix = fmt.Sprintf(" (%.0fs)", time.Since(start).Seconds())
			s.Unlock()
		}
	}
}

// Finish stops s and prints a final status line.
func Finish(s *spinner.Spinner, ok bool, message string) {
	mark := "✔"
	if !ok {
		mark = "✘"
	}
	s.FinalMSG = fmt.Sprintf("%s %s\n", mark, message)
	s.Stop()
}
