package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents an Agora error code.
type ErrorCode string

const (
	ErrInvalidRequest        ErrorCode = "INVALID_REQUEST"        // 400
	ErrNoActiveRound         ErrorCode = "NO_ACTIVE_ROUND"        // 400
	ErrEmptyRound            ErrorCode = "EMPTY_ROUND"            // 400
	ErrNotFound              ErrorCode = "NOT_FOUND"              // 404
	ErrRoundNotActive        ErrorCode = "ROUND_NOT_ACTIVE"       // 409
	ErrRoundAlreadyActive    ErrorCode = "ROUND_ALREADY_ACTIVE"   // 409
	ErrStoreConflict         ErrorCode = "STORE_CONFLICT"         // 409
	ErrRoundLimitExceeded    ErrorCode = "ROUND_LIMIT_EXCEEDED"   // 422
	ErrInternal              ErrorCode = "INTERNAL"               // 500
	ErrSummarizerUnavailable ErrorCode = "SUMMARIZER_UNAVAILABLE" // 503, diagnostic only
)

// AgoraError represents a structured error with code, status, and details.
type AgoraError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	cause   error
}

// Error implements the error interface.
func (e *AgoraError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *AgoraError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for missing or malformed input.
func NewInvalidRequest(msg string) *AgoraError {
	return &AgoraError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing topic, round, comment or summary.
func NewNotFound(entity, id string) *AgoraError {
	return &AgoraError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", entity, id),
		Details: map[string]any{"entity": entity, "id": id},
	}
}

// NewTopicArchived reports an archived topic. Archived topics are
// indistinguishable from missing ones for round and admission actions.
func NewTopicArchived(topicID string) *AgoraError {
	return &AgoraError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("topic is archived: %s", topicID),
		Details: map[string]any{"entity": "topic", "id": topicID, "archived": true},
	}
}

// NewNoActiveRound creates a 400 error for a topic without a current round.
func NewNoActiveRound(topicID string) *AgoraError {
	return &AgoraError{
		Code:    ErrNoActiveRound,
		Status:  400,
		Message: fmt.Sprintf("topic %s has no active round", topicID),
		Details: map[string]any{"topic_id": topicID},
	}
}

// NewRoundNotActive creates a 409 error when an action targets a completed round.
func NewRoundNotActive(roundID string) *AgoraError {
	return &AgoraError{
		Code:    ErrRoundNotActive,
		Status:  409,
		Message: fmt.Sprintf("round is not active: %s", roundID),
		Details: map[string]any{"round_id": roundID},
	}
}

// NewRoundAlreadyActive creates a 409 error when opening a round while another is still active.
func NewRoundAlreadyActive(topicID string, roundNumber int) *AgoraError {
	return &AgoraError{
		Code:    ErrRoundAlreadyActive,
		Status:  409,
		Message: fmt.Sprintf("round %d of topic %s is still active", roundNumber, topicID),
		Details: map[string]any{"topic_id": topicID, "round_number": roundNumber},
	}
}

// NewRoundLimitExceeded creates a 422 error when the round ceiling is reached.
func NewRoundLimitExceeded(topicID string, maxRounds int) *AgoraError {
	return &AgoraError{
		Code:    ErrRoundLimitExceeded,
		Status:  422,
		Message: fmt.Sprintf("topic %s reached its maximum of %d rounds", topicID, maxRounds),
		Details: map[string]any{"topic_id": topicID, "max_rounds": maxRounds},
	}
}

// NewEmptyRound creates a 400 error when summarization is attempted on a round without comments.
func NewEmptyRound(roundID string) *AgoraError {
	return &AgoraError{
		Code:    ErrEmptyRound,
		Status:  400,
		Message: fmt.Sprintf("round has no comments to summarize: %s", roundID),
		Details: map[string]any{"round_id": roundID},
	}
}

// NewSummarizerUnavailable wraps a summarizer failure. It is logged, never returned to callers
// of round advancement.
func NewSummarizerUnavailable(err error) *AgoraError {
	msg := "summarizer unavailable"
	if err != nil {
		msg = fmt.Sprintf("summarizer unavailable: %v", err)
	}
	return &AgoraError{
		Code:    ErrSummarizerUnavailable,
		Status:  503,
		Message: msg,
		cause:   err,
	}
}

// NewStoreConflict creates a 409 error when an atomic update lost a race.
func NewStoreConflict(msg string) *AgoraError {
	return &AgoraError{
		Code:    ErrStoreConflict,
		Status:  409,
		Message: msg,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *AgoraError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &AgoraError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if an error (or anything it wraps) is an AgoraError with the given code.
func Is(err error, code ErrorCode) bool {
	var aErr *AgoraError
	if stderrors.As(err, &aErr) {
		return aErr.Code == code
	}
	return false
}

// As returns the AgoraError in err's chain, if any.
func As(err error) (*AgoraError, bool) {
	var aErr *AgoraError
	if stderrors.As(err, &aErr) {
		return aErr, true
	}
	return nil, false
}
