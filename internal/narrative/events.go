package narrative

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/cleansight/analytics/internal/session"
)

// DoneSentinel terminates a narrative event stream.
const DoneSentinel = "[DONE]"

// maxLine bounds a single event line.
const maxLine = 1 << 20

// ErrLineTooLong is returned by Decoder.Next for a line over 1MiB.
var ErrLineTooLong = errors.New("event line exceeds 1MiB")

// #region event
// Event is one decoded line of a narrative stream.
type Event struct {
	Token string
	Err   string
	Done  bool
}

type wireEvent struct {
	Token   *string `json:"token"`
	Error   any     `json:"error"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}
// #endregion event

// #region decoder
// Decoder reads line-delimited narrative events. Reads may split lines at
// any byte; a line is only decoded once its newline (or EOF) arrives.
// Blank lines and SSE comment or field lines other than data are ignored.
type Decoder struct {
	r *bufio.Reader

	// OnMalformed, when set, receives every skipped line.
	OnMalformed func(*session.StreamProtocolError)
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next event. It returns io.EOF when the input ends
// without a sentinel, and a Done event when the sentinel is read.
func (d *Decoder) Next() (Event, error) {
	for {
		line, err := d.readLine()
		if line != "" {
			if ev, ok := d.decode(line); ok {
				return ev, nil
			}
		}
		if err != nil {
			return Event{}, err
		}
	}
}

// readLine returns the next line without its terminator. It stops reading
// once a line grows past maxLine, so an endless line costs at most one
// extra buffer.
func (d *Decoder) readLine() (string, error) {
	var line []byte
	for {
		frag, err := d.r.ReadSlice('\n')
		if len(line)+len(frag) > maxLine {
			return "", ErrLineTooLong
		}
		line = append(line, frag...)
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil && err != io.EOF {
			return "", err
		}
		return strings.TrimRight(string(line), "\r\n"), err
	}
}

// decode parses one complete line. ok is false for lines that carry no
// event, including malformed ones.
func (d *Decoder) decode(line string) (Event, bool) {
	data := strings.TrimSpace(line)
	if data == "" || strings.HasPrefix(data, ":") {
		return Event{}, false
	}
	if strings.HasPrefix(data, "data:") {
		data = strings.TrimSpace(strings.TrimPrefix(data, "data:"))
	} else if isSSEField(data) {
		return Event{}, false
	}
	if data == "" {
		return Event{}, false
	}
	if data == DoneSentinel {
		return Event{Done: true}, true
	}

	var w wireEvent
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		d.malformed(line, err)
		return Event{}, false
	}
	switch {
	case w.Error != nil:
		return Event{Err: errorText(w.Error)}, true
	case w.Token != nil:
		return Event{Token: *w.Token}, true
	case len(w.Choices) > 0:
		if c := w.Choices[0].Delta.Content; c != "" {
			return Event{Token: c}, true
		}
		return Event{}, false
	}
	d.malformed(line, errors.New("no token or error field"))
	return Event{}, false
}

func (d *Decoder) malformed(line string, err error) {
	if d.OnMalformed != nil {
		d.OnMalformed(&session.StreamProtocolError{Line: line, Err: err})
	}
}
// #endregion decoder

func isSSEField(line string) bool {
	for _, f := range []string{"event:", "id:", "retry:"} {
		if strings.HasPrefix(line, f) {
			return true
		}
	}
	return false
}

// errorText flattens the error field, which providers send either as a
// string or as an object with a message.
func errorText(v any) string {
	switch e := v.(type) {
	case string:
		return e
	case map[string]any:
		if msg, ok := e["message"].(string); ok {
			return msg
		}
	}
	b, _ := json.Marshal(v)
	return string(b)
}
