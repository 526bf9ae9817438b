package models

import "time"

// Tag name conventions used on inbound events.
const (
	// TagMention ("p") names a specific agent as the intended recipient.
	TagMention = "p"
	// TagReply ("e") references the event this one replies to.
	TagReply = "e"
	// TagReplyRoot ("E") references the root event of a thread.
	TagReplyRoot = "E"
	// TagPhase requests an explicit phase transition.
	TagPhase = "phase"
)

// Event is an inbound or outbound pub/sub event. The transport's
// cryptographic format is out of scope; only the routed fields are modeled.
type Event struct {
	// ID is the transport-assigned event identifier.
	ID string `json:"id"`
	// Pubkey identifies the author (user or agent).
	Pubkey string `json:"pubkey"`
	// Content is the message body.
	Content string `json:"content"`
	// Tags is the ordered list of transport tags ([name, value, ...]).
	Tags [][]string `json:"tags"`
	// CreatedAt is the author-supplied creation time.
	CreatedAt time.Time `json:"created_at"`
}

// TagValues returns the first value of every tag with the given name,
// preserving tag order.
func (e Event) TagValues(name string) []string {
	var vals []string
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			vals = append(vals, tag[1])
		}
	}
	return vals
}

// Mentions returns the pubkeys explicitly addressed via p-tags.
func (e Event) Mentions() []string {
	return e.TagValues(TagMention)
}

// HasMentions reports whether the event explicitly addresses any agent.
func (e Event) HasMentions() bool {
	return len(e.Mentions()) > 0
}

// ReplyTo returns the event id this event replies to. The last e-tag wins;
// an E-tag (thread root) is used only when no e-tag is present.
func (e Event) ReplyTo() string {
	var root string
	var reply string
	for _, tag := range e.Tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case TagReply:
			reply = tag[1]
		case TagReplyRoot:
			root = tag[1]
		}
	}
	if reply != "" {
		return reply
	}
	return root
}

// ReplyReferences returns every event id this event references: reply
// targets first (last e-tag first), then thread roots, deduplicated. A reply
// threaded onto an unrecorded event can still be resolved through its root.
func (e Event) ReplyReferences() []string {
	var replies, roots []string
	for _, tag := range e.Tags {
		if len(tag) < 2 || tag[1] == "" {
			continue
		}
		switch tag[0] {
		case TagReply:
			replies = append([]string{tag[1]}, replies...)
		case TagReplyRoot:
			roots = append(roots, tag[1])
		}
	}
	seen := map[string]bool{}
	var out []string
	for _, id := range append(replies, roots...) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// PhaseTag returns the explicitly requested phase, if any.
func (e Event) PhaseTag() (Phase, bool) {
	vals := e.TagValues(TagPhase)
	if len(vals) == 0 {
		return "", false
	}
	p, ok := ParsePhase(vals[0])
	if !ok {
		return "", false
	}
	return p, true
}
