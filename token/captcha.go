package token

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// CaptchaMark is the persisted trace of a captcha token: a bcrypt hash of the
// token and the moment it was first seen. A zero CreatedAt means the captcha
// has been consumed by a successful login.
type CaptchaMark struct {
	Hash      string
	CreatedAt time.Time
}

// captchaDigest pre-hashes the token; captcha tokens are far longer than the
// 72 bytes bcrypt accepts.
func captchaDigest(captcha string) []byte {
	sum := sha256.Sum256([]byte(captcha))
	return []byte(hex.EncodeToString(sum[:]))
}

// NewCaptchaMark hashes captcha and stamps it with createdAt.
func NewCaptchaMark(captcha string, createdAt time.Time) (CaptchaMark, error) {
	hash, err := bcrypt.GenerateFromPassword(captchaDigest(captcha), bcrypt.DefaultCost)
	if err != nil {
		return CaptchaMark{}, errors.Wrap(err, "NewCaptchaMark bcrypt")
	}
	return CaptchaMark{Hash: string(hash), CreatedAt: createdAt}, nil
}

// ParseCaptchaMark parses the "hash.timestamp" form. The bcrypt alphabet
// contains '.', so the timestamp is everything after the last one.
func ParseCaptchaMark(s string) (CaptchaMark, bool) {
	i := strings.LastIndexByte(s, '.')
	if i <= 0 || i == len(s)-1 {
		return CaptchaMark{}, false
	}
	ms, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil || ms < 0 {
		return CaptchaMark{}, false
	}
	m := CaptchaMark{Hash: s[:i]}
	if ms > 0 {
		m.CreatedAt = time.UnixMilli(ms)
	}
	return m, true
}

func (m CaptchaMark) String() string {
	if m.Hash == "" {
		return ""
	}
	var ms int64
	if !m.CreatedAt.IsZero() {
		ms = m.CreatedAt.UnixMilli()
	}
	return m.Hash + "." + strconv.FormatInt(ms, 10)
}

// Matches reports whether captcha is the token this mark was made from.
func (m CaptchaMark) Matches(captcha string) bool {
	if m.Hash == "" || captcha == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(m.Hash), captchaDigest(captcha)) == nil
}

// Consumed reports whether the captcha was already used for a login.
func (m CaptchaMark) Consumed() bool {
	return m.Hash != "" && m.CreatedAt.IsZero()
}

// Consume returns the mark with its timestamp cleared.
func (m CaptchaMark) Consume() CaptchaMark {
	return CaptchaMark{Hash: m.Hash}
}
