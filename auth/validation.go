package auth

import (
	"fmt"
	"strings"

	apperrors "github.com/jrsteele09/go-connecteddrive/internal/errors"
)

// ValidateLoginRequest checks the inputs of a full login before any request
// leaves the process.
func ValidateLoginRequest(req LoginRequest) error {
	if err := validateRegion(req.Region); err != nil {
		return err
	}
	if strings.TrimSpace(req.Username) == "" {
		return fmt.Errorf("username is required: %w", apperrors.ErrInvalidArgument)
	}
	if req.Password == "" {
		return fmt.Errorf("password is required: %w", apperrors.ErrInvalidArgument)
	}
	if req.SessionID == "" {
		return fmt.Errorf("session id is required: %w", apperrors.ErrInvalidArgument)
	}
	// Every login goes through the captcha protected endpoint.
	if req.Captcha == "" {
		return apperrors.ErrMissingCaptcha
	}
	return nil
}

// ValidateRefreshRequest checks the inputs of a refresh.
func ValidateRefreshRequest(req RefreshRequest) error {
	if err := validateRegion(req.Region); err != nil {
		return err
	}
	if req.RefreshToken == "" {
		return fmt.Errorf("refresh token is required: %w", apperrors.ErrInvalidArgument)
	}
	if req.SessionID == "" {
		return fmt.Errorf("session id is required: %w", apperrors.ErrInvalidArgument)
	}
	return nil
}

func validateRegion(region Region) error {
	if region.APIHost == "" {
		return fmt.Errorf("region %q has no api host: %w", region.Name, apperrors.ErrInvalidArgument)
	}
	return nil
}
