package harness

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"codedesk/internal/logging"
)

// EventStream reads server-sent events off an open /event response body and
// decodes each data payload into an Event. The stream does not reconnect;
// when the underlying connection drops, Next returns the read error (io.EOF
// on a clean close) and the caller decides whether to dial again.
type EventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newEventStream(body io.ReadCloser) *EventStream {
	sc := bufio.NewScanner(body)
	// Tool-call events can carry large state blobs.
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &EventStream{body: body, scanner: sc}
}

// Next blocks until a complete event arrives and returns it decoded.
// Events whose data is not valid JSON are skipped with a log line rather
// than killing the stream.
func (s *EventStream) Next() (Event, error) {
	var data strings.Builder
	for s.scanner.Scan() {
		line := s.scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(data.String()), &ev); err != nil {
				logging.HarnessWarn("dropping undecodable event: %v", err)
				data.Reset()
				continue
			}
			return ev, nil
		case strings.HasPrefix(line, "data:"):
			// Multiple data lines of one event are joined with newlines.
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
		default:
			// "event:"/"id:"/"retry:" fields are unused by this harness.
		}
	}
	if err := s.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// Close tears down the underlying connection; a blocked Next unblocks with
// an error.
func (s *EventStream) Close() error {
	return s.body.Close()
}
