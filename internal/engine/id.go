package engine

import "github.com/google/uuid"

// GenerateID creates a new UUID for a run.
func GenerateID() string {
	return uuid.New().String()
}
