// Package topicrouter implements the optional forum-topic auto-routing
// feature: classifying whether an inbound message should stay in its
// current topic, resume a recently active one, or start a new topic.
package topicrouter

// Action is the routing verdict for one inbound message.
type Action string

const (
	ActionPassthrough Action = "passthrough"
	ActionStay        Action = "stay"
	ActionResume      Action = "resume"
	ActionNew         Action = "new"
)

// TopicContext summarizes one candidate topic for the classifier prompt and
// for mapping its chosen label back to a concrete thread.
type TopicContext struct {
	Label               string // "A", "B", "C"... assigned when building the prompt
	ThreadID            int64  // platform forum topic id
	InternalID          int64  // our own Thread row id
	Title               string
	RecentUserMessages []string
}

// ClassifierResult is the strict-JSON output of the small-model routing
// call: {"action":"stay"|"resume"|"new","topic":"A","title":"..."}.
type ClassifierResult struct {
	Action Action `json:"action"`
	Topic  string `json:"topic,omitempty"`
	Title  string `json:"title,omitempty"`
}

// RouteRequest describes one inbound message being considered for routing.
type RouteRequest struct {
	ChatID             int64
	UserID             int64
	ThreadID           int64 // 0 means the message arrived in the chat's General topic
	Text               string
	IsForumPrivateChat bool
}

// RouteResult is the routing decision returned to the caller.
type RouteResult struct {
	Action           Action
	OverrideThreadID int64
	Title            string
	NeedsTopicNaming bool
}

var passthrough = RouteResult{Action: ActionPassthrough}
