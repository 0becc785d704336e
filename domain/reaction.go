package domain

// ReactionEntry is the per-emoji view of a message's reactions, relative to
// one observing user.
type ReactionEntry struct {
	Count            int  `json:"count"`
	ViewerHasReacted bool `json:"viewerHasReacted"`
}

// ReactionSummary maps an emoji to its entry. An emoji is present only while
// its count is positive.
type ReactionSummary map[string]ReactionEntry

// ReactionEdge is the durable fact "user reacted to message with emoji".
type ReactionEdge struct {
	MessageID string
	UserID    string
	Emoji     string
}

// ReactionDelta describes one toggle as broadcast to a room.
type ReactionDelta struct {
	Emoji  string
	UserID string
	Added  bool
}

// Apply merges delta into s as seen by viewerID and returns the summary,
// allocating it when s is nil. Removing an unknown emoji is a no-op.
func (s ReactionSummary) Apply(delta ReactionDelta, viewerID string) ReactionSummary {
	if s == nil {
		s = ReactionSummary{}
	}
	byViewer := delta.UserID == viewerID
	entry, exists := s[delta.Emoji]
	switch {
	case delta.Added && !exists:
		s[delta.Emoji] = ReactionEntry{Count: 1, ViewerHasReacted: byViewer}
	case delta.Added:
		entry.Count++
		entry.ViewerHasReacted = entry.ViewerHasReacted || byViewer
		s[delta.Emoji] = entry
	case exists:
		entry.Count = max(0, entry.Count-1)
		if byViewer {
			entry.ViewerHasReacted = false
		}
		if entry.Count == 0 {
			delete(s, delta.Emoji)
		} else {
			s[delta.Emoji] = entry
		}
	}
	return s
}

// Clone returns an independent copy of s.
func (s ReactionSummary) Clone() ReactionSummary {
	out := make(ReactionSummary, len(s))
	for emoji, entry := range s {
		out[emoji] = entry
	}
	return out
}

// Summarize projects raw edges into the summary viewerID would see.
func Summarize(edges []ReactionEdge, viewerID string) ReactionSummary {
	summary := ReactionSummary{}
	for _, edge := range edges {
		summary = summary.Apply(ReactionDelta{Emoji: edge.Emoji, UserID: edge.UserID, Added: true}, viewerID)
	}
	return summary
}
