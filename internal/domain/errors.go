package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// ErrAllocation is fatal for a batch: no item is generated after it.
	ErrAllocation = errors.New("identifier allocation failed")
	// ErrIdentifierCountMismatch wraps ErrAllocation and is never retried.
	ErrIdentifierCountMismatch = fmt.Errorf("%w: identifier count mismatch", ErrAllocation)

	ErrNothingToPrint       = errors.New("nothing to print")
	ErrSubmission           = errors.New("print submission failed")
	ErrProcessingInProgress = errors.New("processing in progress")
	ErrCooldown             = errors.New("submission cooldown active")
)
