package trafficsim

import (
	"strconv"
	"time"
)

const (
	NoteBot   = "bot"
	NoteHuman = "human_like"

	recordTimeLayout = "2006-01-02T15:04:05.000000"
)

var recordColumns = []string{
	"timestamp", "session_id", "seq", "url", "status_code", "user_agent",
	"referrer", "proxy", "dwell_seconds", "note", "error",
}

// SessionRecord describes one page view. Records are never modified after
// they are handed to a sink.
type SessionRecord struct {
	Timestamp time.Time
	SessionID string
	Seq       int
	URL       string
	Status    int // 0 when the request never got a response
	UserAgent string
	Referrer  string
	Proxy     string
	Dwell     time.Duration
	Note      string
	Error     string
}

// Fields renders the record in column order.
func (r SessionRecord) Fields() []string {
	status := ""
	if r.Status != 0 {
		status = strconv.Itoa(r.Status)
	}
	return []string{
		r.Timestamp.UTC().Format(recordTimeLayout),
		r.SessionID,
		strconv.Itoa(r.Seq),
		r.URL,
		status,
		r.UserAgent,
		r.Referrer,
		r.Proxy,
		strconv.FormatFloat(r.Dwell.Seconds(), 'f', 3, 64),
		r.Note,
		r.Error,
	}
}
