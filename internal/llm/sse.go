package llm

import (
	"bufio"
	"io"
)

// serverSentEventScanner reads Server-Sent Events from a stream.
type serverSentEventScanner struct {
	scanner *bufio.Scanner
}

// newServerSentEventScanner creates a new SSE scanner.
func newServerSentEventScanner(r io.Reader) *serverSentEventScanner {
	return &serverSentEventScanner{
		scanner: bufio.NewScanner(r),
	}
}

// Scan reads the next line of data.
func (s *serverSentEventScanner) Scan() bool {
	return s.scanner.Scan()
}

// Text returns the last scanned line.
func (s *serverSentEventScanner) Text() string {
	return s.scanner.Text()
}

// Err returns the first non-EOF error encountered while scanning.
func (s *serverSentEventScanner) Err() error {
	return s.scanner.Err()
}
