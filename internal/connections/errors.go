package connections

import "errors"

var (
	// ErrInvalidInput indicates a missing, malformed, or self-referential identifier.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDuplicateRelationship indicates an edge already exists between the two users.
	ErrDuplicateRelationship = errors.New("connection already exists between users")
	// ErrNotFound indicates the target connection is absent or not in the required state.
	ErrNotFound = errors.New("connection not found")
	// ErrUserNotFound indicates a request names a user that does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrTransactionFailure indicates the store failed during a multi-statement
	// operation. The transaction has been rolled back.
	ErrTransactionFailure = errors.New("connection transaction failed")
)

func isDomainError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrDuplicateRelationship) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUserNotFound)
}
