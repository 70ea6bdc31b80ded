package automation

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeInvalidGrant = "INVALID_GRANT"
	ErrCodeTagExists    = "TAG_EXISTS"
	ErrCodeTagNotFound  = "TAG_NOT_FOUND"
	ErrCodeUserNotFound = "USER_NOT_FOUND"
	ErrCodeActionFailed = "ACTION_FAILED"
)

var (
	ErrInvalidGrant = apperrors.New("invalid tag grant", apperrors.CategoryValidation).
			WithTextCode(ErrCodeInvalidGrant)
	ErrTagExists = apperrors.New("tag already exists", apperrors.CategoryConflict).
			WithTextCode(ErrCodeTagExists)
	ErrTagNotFound = apperrors.New("tag not found", apperrors.CategoryNotFound).
			WithTextCode(ErrCodeTagNotFound)
	ErrUserNotFound = apperrors.New("user not found", apperrors.CategoryNotFound).
			WithTextCode(ErrCodeUserNotFound)
	ErrActionFailed = apperrors.New("action failed", apperrors.CategoryInternal).
			WithTextCode(ErrCodeActionFailed)
)

// newError clones a sentinel so callers never mutate the shared value.
func newError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// actionFailed reports a required write that failed, naming the action and its
// target so the caller can retry just that piece.
func actionFailed(action, target string, source error) *apperrors.Error {
	return newError(ErrActionFailed, action+" failed for "+target, source, map[string]any{
		"action": action,
		"target": target,
	})
}

// ErrorCode returns the text code carried by an engine error, or "".
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

func IsTagExists(err error) bool { return ErrorCode(err) == ErrCodeTagExists }

// FailedAction returns the action name attached to an ACTION_FAILED error.
func FailedAction(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) && ge.TextCode == ErrCodeActionFailed {
		if action, ok := ge.Metadata["action"].(string); ok {
			return action
		}
	}
	return ""
}
