// Package risk maps a numeric questionnaire score to a risk category.
//
// Boundaries are 0-40 conservative, 41-70 balanced, 71-100 aggressive.
// The workflow decision table and the reviewer-facing display both key
// off this single mapping.
package risk

import (
	"errors"
	"fmt"
)

type Category string

const (
	Conservative Category = "conservative"
	Balanced     Category = "balanced"
	Aggressive   Category = "aggressive"
)

var ErrInvalidScore = errors.New("risk score must be between 0 and 100")

// Classify is pure and deterministic; it never touches I/O.
func Classify(score int) (Category, error) {
	if score < 0 || score > 100 {
		return "", fmt.Errorf("%w: got %d", ErrInvalidScore, score)
	}
	switch {
	case score <= 40:
		return Conservative, nil
	case score <= 70:
		return Balanced, nil
	default:
		return Aggressive, nil
	}
}
