// Package envelope defines the wrappers that mark a message for special
// handling by the dispatch chain.
package envelope

// Envelope is implemented by values that carry a message plus routing
// metadata. The set of envelopes is closed: Async is the only kind.
type Envelope interface {
	Open() any
	isEnvelope()
}

// Async marks a message for deferred execution. The first time the async
// middleware sees it, the message is published to a queue instead of being
// handled; once redelivered by a runner it flows through to its handler.
//
// Async is not safe for concurrent use. A dispatch owns its envelope.
type Async struct {
	message      any
	queueName    string
	hasQueue     bool
	publishCount int
}

// Wrap defers msg to the middleware's default queue.
func Wrap(msg any) *Async {
	return &Async{message: msg}
}

// WrapTo defers msg to the given queue. An empty name means the default queue.
func WrapTo(msg any, queueName string) *Async {
	return &Async{message: msg, queueName: queueName, hasQueue: queueName != ""}
}

// Restore rebuilds an envelope read back from a queue, keeping its publish
// history. Only serializers should need it.
func Restore(msg any, queueName string, publishCount int) *Async {
	a := WrapTo(msg, queueName)
	if publishCount > 0 {
		a.publishCount = publishCount
	}
	return a
}

func (a *Async) Open() any { return a.message }

func (a *Async) isEnvelope() {}

// Message returns the wrapped message.
func (a *Async) Message() any { return a.message }

// QueueName returns the queue override, if one was set.
func (a *Async) QueueName() (string, bool) { return a.queueName, a.hasQueue }

func (a *Async) PublishCount() int { return a.publishCount }

func (a *Async) HasBeenPublished() bool { return a.publishCount > 0 }

// RegisterPublish records one more publish of the envelope.
func (a *Async) RegisterPublish() { a.publishCount++ }

// AsAsync returns msg as an async envelope when it is one.
func AsAsync(msg any) (*Async, bool) {
	a, ok := msg.(*Async)
	if !ok || a == nil {
		return nil, false
	}
	return a, true
}

// Open returns the message carried by msg when it is an envelope, or msg
// itself otherwise. Nested envelopes are opened all the way down.
func Open(msg any) any {
	for {
		env, ok := msg.(Envelope)
		if !ok || env == nil {
			return msg
		}
		if a, isAsync := env.(*Async); isAsync && a == nil {
			return msg
		}
		msg = env.Open()
	}
}
