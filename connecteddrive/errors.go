package connecteddrive

import apperrors "github.com/jrsteele09/go-connecteddrive/internal/errors"

// Errors returned by the client. Match them with errors.Is.
var (
	ErrTransport          = apperrors.ErrTransport
	ErrAuthStage          = apperrors.ErrAuthStage
	ErrMissingCaptcha     = apperrors.ErrMissingCaptcha
	ErrThrottled          = apperrors.ErrThrottled
	ErrNotLoggedIn        = apperrors.ErrNotLoggedIn
	ErrUnsupportedService = apperrors.ErrUnsupportedService
	ErrInvalidArgument    = apperrors.ErrInvalidArgument
	ErrDecode             = apperrors.ErrDecode
	ErrHTTPStatus         = apperrors.ErrHTTPStatus
	ErrStore              = apperrors.ErrStore
)

// Error types carrying detail. Extract them with errors.As.
type (
	TransportError  = apperrors.TransportError
	AuthStageError  = apperrors.AuthStageError
	HTTPStatusError = apperrors.HTTPStatusError
	DecodeError     = apperrors.DecodeError
)
