package sessions

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/jrsteele09/go-connecteddrive/auth"
	apperrors "github.com/jrsteele09/go-connecteddrive/internal/errors"
)

// Credential identifies the account a Session logs in with. It is supplied
// once and never changes.
type Credential struct {
	Username string
	Password string // also the key for token material at rest
	Captcha  string // only needed for a login without a usable refresh token
	Region   auth.Region
}

// AccountKey is the store key of the account: a SHA-256 of the lower-cased
// username, so the username never appears in the store in clear.
func (c Credential) AccountKey() string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(c.Username))))
	return hex.EncodeToString(sum[:])
}

func (c Credential) validate() error {
	if strings.TrimSpace(c.Username) == "" {
		return fmt.Errorf("username is required: %w", apperrors.ErrInvalidArgument)
	}
	if c.Password == "" {
		return fmt.Errorf("password is required: %w", apperrors.ErrInvalidArgument)
	}
	if c.Region.APIHost == "" {
		return fmt.Errorf("region is required: %w", apperrors.ErrInvalidArgument)
	}
	return nil
}
