package session

import (
	"errors"

	"conchat/internal/dom"
	"conchat/internal/security"
)

// Precondition failures. They are returned before any backend call.
var (
	ErrNotStarted         = errors.New("session not started, run /start first")
	ErrNameAlreadySet     = errors.New("display name already set")
	ErrNameNotSet         = errors.New("display name not set, run /name first")
	ErrInvalidInput       = security.ErrInvalidInput
	ErrInvalidLanguage    = errors.New("language must be 'js' or 'react'")
	ErrInvalidPosition    = dom.ErrInvalidPosition
	ErrInvalidStyle       = dom.ErrInvalidStyle
	ErrNotInDebugRoom     = errors.New("only available in a debug room")
	ErrAlreadyInRoom      = errors.New("already in this room")
	ErrElementNotSelected = errors.New("no element selected, run /select first")
	ErrElementInvalid     = errors.New("selected element is not on the page")
	ErrFrameworkMode      = errors.New("the root element cannot be edited in react mode")
	ErrReactOnly          = errors.New("only available in react mode")
	ErrComponentNotFound  = errors.New("component not found")
	ErrRateLimited        = errors.New("sending too fast, slow down")
)
