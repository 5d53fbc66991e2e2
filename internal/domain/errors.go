package domain

import "errors"

var (
	// ErrSessionNotFound is returned when the store has no entry for a session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrForbidden is returned when a session does not belong to the caller.
	ErrForbidden = errors.New("session belongs to another user")
	// ErrConflict covers out-of-order submissions and operations on terminal sessions.
	ErrConflict = errors.New("conflicting session operation")
	// ErrPolicyViolation is returned when the attempt limit is exceeded or the quiz is inactive.
	ErrPolicyViolation = errors.New("quiz policy violation")
	// ErrPersistence indicates the durable transaction failed; the session stays in progress for retry.
	ErrPersistence = errors.New("durable write failed")
	// ErrVersionConflict indicates a concurrent writer saved the session first.
	ErrVersionConflict = errors.New("session version conflict")
	// ErrQuizNotFound indicates the quiz definition could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a submitted question id is invalid.
	ErrQuestionNotFound = errors.New("question not found")
)
