package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                  = errors.New("NOT_FOUND: resource not found")
	ErrInvalidTransition         = errors.New("INVALID_TRANSITION: state transition not allowed")
	ErrAmbiguousReviewerIdentity = errors.New("AMBIGUOUS_REVIEWER: email does not identify exactly one reviewer")
	ErrStorageUnavailable        = errors.New("STORAGE_UNAVAILABLE: storage did not answer")
	ErrInvalidNomination         = errors.New("INVALID_NOMINATION: nomination is malformed")

	ErrNominationNotFound = fmt.Errorf("%w: nomination not found", ErrNotFound)
	ErrReviewerNotFound   = fmt.Errorf("%w: reviewer not found", ErrNotFound)
	ErrMemberNotFound     = fmt.Errorf("%w: member not found", ErrNotFound)
	ErrAssessmentNotFound = fmt.Errorf("%w: participant assessment not found", ErrNotFound)
)
