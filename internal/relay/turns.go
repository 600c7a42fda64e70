package relay

import (
	"chatrelay-backend/internal/models"
)

// LastUserTurn returns the content of the most recent user turn. Earlier
// turns and every assistant turn are dropped: the backend receives a single
// input string and keeps no history of its own that we know of.
func LastUserTurn(turns []models.Turn) (string, error) {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role != models.RoleUser {
			continue
		}
		if turns[i].Content == "" {
			break
		}
		return turns[i].Content, nil
	}
	return "", ErrEmptyInput
}
