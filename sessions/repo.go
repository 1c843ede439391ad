package sessions

import "context"

// Record is the persisted form of a Session. Token material is encrypted with
// the account password; the password itself is never stored.
type Record struct {
	Expires     int64  `json:"expires"`               // epoch ms of the proactive refresh deadline
	RealExpires int64  `json:"realExpires,omitempty"` // epoch ms of the provider's expiry
	Type        string `json:"type"`
	Session     string `json:"session"`
	State       State  `json:"state"`
	Token       string `json:"token"`
	Refresh     string `json:"refresh"`
	Captcha     string `json:"captcha"` // "bcryptHash.createdAtMs"
}

// IsZero reports whether r carries nothing, as on first run.
func (r Record) IsZero() bool {
	return r == Record{}
}

// Store persists one Record per account key.
type Store interface {
	// Get returns the record for account, or an empty record when none exists.
	Get(ctx context.Context, account string) (Record, error)

	// Update hands fn the current record (empty on first run) and persists
	// whatever fn leaves in it. Nothing is written when fn returns an error.
	Update(ctx context.Context, account string, fn func(rec *Record) error) error
}
