package discovery

import "strings"

// intentPenalty implements the §4.5 "Intent penalty" table: a score
// reduction applied when the query's dominant action disagrees with the
// candidate's raw tool name semantics.
func intentPenalty(dominantAction, rawName string) float64 {
	name := strings.ToLower(rawName)
	hasRead := strings.Contains(name, "read")
	hasWrite := strings.Contains(name, "write") || strings.Contains(name, "edit")
	hasCreate := strings.Contains(name, "create") || strings.Contains(name, "add")
	hasDelete := strings.Contains(name, "delete")

	switch dominantAction {
	case "save", "write", "create", "add":
		if hasRead && !hasWrite {
			return -0.3
		}
	case "read", "view", "get":
		if (strings.Contains(name, "write") || strings.Contains(name, "create") || hasDelete) && !hasRead {
			return -0.2
		}
	case "delete", "remove":
		if hasCreate {
			return -0.3
		}
	}
	return 0
}

// literalNameOverlapBoost breaks ties by rewarding candidates whose raw name
// contains query tokens literally, proportional to how many of them appear.
func literalNameOverlapBoost(tokens []Token, rawName string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	name := strings.ToLower(rawName)
	matches := 0
	for _, t := range tokens {
		if strings.Contains(name, t.Text) {
			matches++
		}
	}
	return 0.01 * float64(matches) / float64(len(tokens))
}
