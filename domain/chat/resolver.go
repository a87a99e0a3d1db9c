package chat

import "github.com/samber/lo"

// MaxReplyDepth bounds the walk up a reply chain. Chains come from the
// network and are not trusted to be finite.
const MaxReplyDepth = 64

// IsReportedBy reports whether userID appears in the reports of the event itself.
func IsReportedBy(e Event, userID string) bool {
	return lo.ContainsBy(e.Reports, func(r Report) bool {
		return r.UserID == userID
	})
}

// IsReactedBy reports whether userID reacted with reactionType to the event,
// or to any ancestor reached through ReplyTo. The walk stops after
// MaxReplyDepth hops or when an event id is seen twice.
func IsReactedBy(e Event, userID, reactionType string) bool {
	visited := make(map[string]struct{})
	current := &e
	for depth := 0; current != nil && depth < MaxReplyDepth; depth++ {
		if current.ID != "" {
			if _, seen := visited[current.ID]; seen {
				return false
			}
			visited[current.ID] = struct{}{}
		}
		if hasReacted(*current, userID, reactionType) {
			return true
		}
		current = current.ReplyTo
	}
	return false
}

func hasReacted(e Event, userID, reactionType string) bool {
	reaction, ok := lo.Find(e.Reactions, func(r Reaction) bool {
		return r.Type == reactionType
	})
	return ok && lo.Contains(reaction.Users, userID)
}
