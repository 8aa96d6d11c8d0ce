package logging

import "sync"

// Entry is a single line captured by a Recorder.
type Entry struct {
	Level  string
	Msg    string
	Err    error
	Fields LogFields
}

// Recorder is an in-memory ServiceLogger. Children created with With share
// the parent's entry list.
type Recorder struct {
	mu      *sync.Mutex
	entries *[]Entry
	base    LogFields
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{mu: &sync.Mutex{}, entries: &[]Entry{}}
}

func (r *Recorder) With(fields LogFields) ServiceLogger {
	return &Recorder{mu: r.mu, entries: r.entries, base: r.merge(fields)}
}

func (r *Recorder) Debug(msg string, fields LogFields) { r.add("debug", msg, nil, fields) }

func (r *Recorder) Info(msg string, fields LogFields) { r.add("info", msg, nil, fields) }

func (r *Recorder) Error(msg string, err error, fields LogFields) { r.add("error", msg, err, fields) }

func (r *Recorder) Trace(msg string, fields LogFields) { r.add("trace", msg, nil, fields) }

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(*r.entries))
	copy(out, *r.entries)
	return out
}

// Messages returns the recorded messages at the given level.
func (r *Recorder) Messages(level string) []string {
	var out []string
	for _, e := range r.Entries() {
		if e.Level == level {
			out = append(out, e.Msg)
		}
	}
	return out
}

func (r *Recorder) add(level, msg string, err error, fields LogFields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.entries = append(*r.entries, Entry{Level: level, Msg: msg, Err: err, Fields: r.merge(fields)})
}

func (r *Recorder) merge(fields LogFields) LogFields {
	merged := make(LogFields, len(r.base)+len(fields))
	for k, v := range r.base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return merged
}
