package registry

import "time"

// Reporter receives progress and outcome events from background runs.
type Reporter interface {
	Report(Event)
}

type Event struct {
	Source  string
	Stage   string
	Current int64
	Total   int64
	Message string
	Done    bool
	Err     error
	At      time.Time
}
