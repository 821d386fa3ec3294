package llm

import (
	"context"
	"time"
)

// Priority decides which queue a backend call waits in.
type Priority int

const (
	// PriorityReply is the user-facing reply; it is always served first.
	PriorityReply Priority = 0
	// PriorityClassify is intent classification, which can degrade to general_chat.
	PriorityClassify Priority = 1
)

func (p Priority) String() string {
	if p == PriorityReply {
		return "reply"
	}
	return "classify"
}

// Request encapsulates one backend call
type Request struct {
	ID       string
	Priority Priority
	Context  context.Context

	URL     string
	Payload map[string]interface{}

	ResponseCh chan<- *Response
	ErrorCh    chan<- error

	SubmitTime time.Time
	Timeout    time.Duration
}

// Response encapsulates backend output
type Response struct {
	StatusCode int
	Body       []byte
}

// Metrics tracks queue performance
type Metrics struct {
	ReplyEnqueued     int64
	ReplyProcessed    int64
	ReplyDropped      int64
	ClassifyEnqueued  int64
	ClassifyProcessed int64
	ClassifyDropped   int64
	CurrentQueueDepth map[Priority]int
}
