package domain

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrItemNotFound    = errors.New("program item not found")
	ErrNoteNotFound    = errors.New("note not found")
	ErrMediaNotFound   = errors.New("media not found")
	ErrInvalidOrder    = errors.New("item order must list every item of the session exactly once")
	ErrSettingNotFound = errors.New("setting not found")
)
