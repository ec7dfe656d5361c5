package classifier

import (
	"context"
	"fmt"

	"github.com/xaenox/teams-extractor/internal/models"
)

// ClassificationError means the classification backend could not produce
// a usable payload: the request failed or the response was malformed. It
// is terminal for the record being processed.
type ClassificationError struct {
	Reason string
	Err    error
}

func (e *ClassificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("classification: %s: %v", e.Reason, e.Err)
	}
	return "classification: " + e.Reason
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// Classifier turns a resolution bundle into a structured issue payload.
// Implementations must return a *ClassificationError for any backend or
// parse failure, never a raw decoding error.
type Classifier interface {
	Classify(ctx context.Context, res models.Resolution) (*models.Payload, error)
	Model() string
}
