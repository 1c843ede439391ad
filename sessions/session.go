package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-connecteddrive/auth"
	apperrors "github.com/jrsteele09/go-connecteddrive/internal/errors"
	"github.com/jrsteele09/go-connecteddrive/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRefreshMargin        = 15 * time.Minute
	DefaultRefreshRetryInterval = time.Minute
	DefaultCaptchaTTL           = 2 * time.Minute

	// maxPasses bounds Token: evaluate, authenticate, re-evaluate.
	maxPasses = 3
)

// Negotiator performs the login and refresh handshakes. *auth.Negotiator
// implements it.
type Negotiator interface {
	Login(ctx context.Context, req auth.LoginRequest) (*token.Data, error)
	Refresh(ctx context.Context, req auth.RefreshRequest) (*token.Data, error)
}

var _ Negotiator = (*auth.Negotiator)(nil)

// attempt is one in-flight login or refresh. done is closed once err is set
// and the session reflects the outcome. stale is set when a refresh failed
// but the current token is still inside the hard line.
type attempt struct {
	done  chan struct{}
	err   error
	stale *token.Data
}

// Session owns the authentication state of one account. It serialises
// concurrent callers onto a single in-flight login or refresh.
type Session struct {
	cred       Credential
	account    string
	negotiator Negotiator
	store      Store
	encryptor  *token.Encryptor

	logger        zerolog.Logger
	nowFunc       func() time.Time
	margin        time.Duration
	retryInterval time.Duration
	captchaTTL    time.Duration

	mu             sync.Mutex
	state          State
	accessToken    string
	tokenType      string
	refreshToken   string
	expireAt       time.Time // proactive refresh deadline
	realExpireAt   time.Time // hard line; refresh failures before it are tolerated
	refreshRetryAt time.Time
	sessionID      string
	captcha        token.CaptchaMark
	inflight       *attempt
}

// SessionOption defines a function type to modify the Session instance.
type SessionOption func(*Session)

func WithLogger(logger zerolog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(nowFunc func() time.Time) SessionOption {
	return func(s *Session) {
		s.nowFunc = nowFunc
	}
}

// WithRefreshMargin sets how long before real expiry a refresh is attempted.
func WithRefreshMargin(margin time.Duration) SessionOption {
	return func(s *Session) {
		if margin >= 0 {
			s.margin = margin
		}
	}
}

// WithRefreshRetryInterval sets the pause after a tolerated refresh failure.
// Non-positive values keep the default.
func WithRefreshRetryInterval(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.retryInterval = d
		}
	}
}

// WithCaptchaTTL sets how long a captcha stays usable after it is first seen.
func WithCaptchaTTL(ttl time.Duration) SessionOption {
	return func(s *Session) {
		if ttl > 0 {
			s.captchaTTL = ttl
		}
	}
}

// New builds a Session and seeds it from store.
func New(ctx context.Context, cred Credential, negotiator Negotiator, store Store, options ...SessionOption) (*Session, error) {
	if err := cred.validate(); err != nil {
		return nil, err
	}
	if negotiator == nil {
		return nil, errors.New("[sessions.New] negotiator is required")
	}
	if store == nil {
		return nil, errors.New("[sessions.New] store is required")
	}
	encryptor, err := token.NewEncryptor(cred.Password)
	if err != nil {
		return nil, errors.Wrap(err, "[sessions.New] encryptor")
	}

	s := &Session{
		cred:          cred,
		account:       cred.AccountKey(),
		negotiator:    negotiator,
		store:         store,
		encryptor:     encryptor,
		logger:        log.Logger,
		nowFunc:       time.Now,
		margin:        DefaultRefreshMargin,
		retryInterval: DefaultRefreshRetryInterval,
		captchaTTL:    DefaultCaptchaTTL,
		state:         LoggedOut,
	}
	for _, opt := range options {
		opt(s)
	}
	s.logger = s.logger.With().Str("account", s.account[:12]).Logger()

	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// load seeds the in-memory state from the store. Unreadable token material
// leaves the session logged out.
func (s *Session) load(ctx context.Context) error {
	rec, err := s.store.Get(ctx, s.account)
	if err != nil {
		s.logger.Warn().Err(err).Msg("token store unreadable, starting logged out")
		rec = Record{}
	}

	s.mu.Lock()
	s.sessionID = rec.Session
	s.tokenType = rec.Type
	if rec.Expires > 0 {
		s.expireAt = time.UnixMilli(rec.Expires)
		// Records without the provider's expiry get no grace past expireAt.
		s.realExpireAt = s.expireAt
		if rec.RealExpires > rec.Expires {
			s.realExpireAt = time.UnixMilli(rec.RealExpires)
		}
	}
	if mark, ok := token.ParseCaptchaMark(rec.Captcha); ok {
		s.captcha = mark
	}

	if rec.Token != "" || rec.Refresh != "" {
		access, refresh, err := s.decryptTokens(rec)
		if err != nil {
			s.logger.Warn().Err(err).Msg("stored tokens cannot be decrypted, starting logged out")
			s.clearTokensLocked()
		} else {
			s.accessToken, s.refreshToken = access, refresh
		}
	}

	switch {
	case s.accessToken != "" && (rec.State == LoggedIn || rec.State == Authenticating):
		// An Authenticating record was written by a process that died mid-attempt.
		s.state = LoggedIn
	default:
		s.state = LoggedOut
		s.accessToken = ""
	}

	captchaChanged := false
	if s.cred.Captcha != "" && !s.captcha.Matches(s.cred.Captcha) {
		mark, err := token.NewCaptchaMark(s.cred.Captcha, s.nowFunc())
		if err != nil {
			s.mu.Unlock()
			return errors.Wrap(err, "[sessions.New] captcha")
		}
		s.captcha = mark
		captchaChanged = true
	}

	s.logger.Debug().Str("state", s.state.String()).Time("expireAt", s.expireAt).Msg("session loaded")
	if !captchaChanged {
		s.mu.Unlock()
		return nil
	}
	rec = s.recordLocked()
	s.mu.Unlock()

	// Remember when the captcha was first seen so its TTL survives a restart.
	s.persist(ctx, rec)
	return nil
}

func (s *Session) decryptTokens(rec Record) (access, refresh string, err error) {
	if rec.Token != "" {
		if access, err = s.encryptor.Decrypt(rec.Token); err != nil {
			return "", "", err
		}
	}
	if rec.Refresh != "" {
		if refresh, err = s.encryptor.Decrypt(rec.Refresh); err != nil {
			return "", "", err
		}
	}
	return access, refresh, nil
}

// State reports the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ExpireAt reports the proactive refresh deadline of the current token.
func (s *Session) ExpireAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expireAt
}

// SessionID reports the correlation id of the current login.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Token returns a usable access token, logging in or refreshing first when
// needed. Concurrent callers share one in-flight attempt. A caller whose ctx
// ends stops waiting; the attempt itself runs to completion.
func (s *Session) Token(ctx context.Context) (token.Data, error) {
	for pass := 0; pass < maxPasses; pass++ {
		s.mu.Lock()
		a := s.inflight
		if a == nil {
			if tok, ok := s.usableLocked(s.nowFunc()); ok {
				s.mu.Unlock()
				return tok, nil
			}
			a = s.startLocked(ctx)
		}
		s.mu.Unlock()

		select {
		case <-a.done:
		case <-ctx.Done():
			return token.Data{}, ctx.Err()
		}
		if a.err != nil {
			return token.Data{}, a.err
		}
		if a.stale != nil {
			return *a.stale, nil
		}
	}
	return token.Data{}, fmt.Errorf("session did not settle after %d passes: %w", maxPasses, apperrors.ErrNotLoggedIn)
}

// usableLocked returns the current token when it may be used without
// authenticating. A token past its proactive deadline is still served while a
// failed refresh waits for its retry slot, up to the hard line.
func (s *Session) usableLocked(now time.Time) (token.Data, bool) {
	if s.state != LoggedIn || s.accessToken == "" {
		return token.Data{}, false
	}
	fresh := now.Before(s.expireAt)
	waitingRetry := now.Before(s.refreshRetryAt) && now.Before(s.realExpireAt)
	if !fresh && !waitingRetry {
		return token.Data{}, false
	}
	return s.currentLocked(now), true
}

func (s *Session) currentLocked(now time.Time) token.Data {
	return token.Data{
		AccessToken: s.accessToken,
		TokenType:   s.tokenType,
		Lifetime:    s.realExpireAt.Sub(now),
	}
}

func (s *Session) startLocked(ctx context.Context) *attempt {
	a := &attempt{done: make(chan struct{})}
	s.inflight = a
	s.state = Authenticating
	go s.authenticate(context.WithoutCancel(ctx), a)
	return a
}

// authenticate runs one attempt: refresh when a refresh token exists, login
// otherwise or after a refresh failure past the hard line.
func (s *Session) authenticate(ctx context.Context, a *attempt) {
	a.stale, a.err = s.negotiate(ctx)

	s.mu.Lock()
	s.inflight = nil
	s.mu.Unlock()
	close(a.done)
}

// negotiate returns the stale token when a refresh failure was tolerated.
func (s *Session) negotiate(ctx context.Context) (*token.Data, error) {
	s.mu.Lock()
	refreshToken, sessionID := s.refreshToken, s.sessionID
	s.mu.Unlock()

	if refreshToken != "" {
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		data, err := s.negotiator.Refresh(ctx, auth.RefreshRequest{
			Region:       s.cred.Region,
			RefreshToken: refreshToken,
			SessionID:    sessionID,
		})
		if err == nil {
			s.logger.Info().Msg("token refreshed")
			s.apply(ctx, data, sessionID, false)
			return nil, nil
		}
		if stale, ok := s.tolerateRefreshFailure(ctx, err); ok {
			return &stale, nil
		}
		if !s.hasLiveCaptcha() {
			return nil, err
		}
		s.logger.Info().Msg("refresh failed past expiry, logging in again")
	}

	return nil, s.login(ctx)
}

// tolerateRefreshFailure keeps the stale token when the refresh failed before
// the hard line. Otherwise the session is logged out.
func (s *Session) tolerateRefreshFailure(ctx context.Context, err error) (token.Data, bool) {
	s.mu.Lock()
	now := s.nowFunc()
	if s.accessToken != "" && now.Before(s.realExpireAt) {
		s.state = LoggedIn
		s.refreshRetryAt = now.Add(s.retryInterval)
		stale := s.currentLocked(now)
		rec := s.recordLocked()
		s.mu.Unlock()

		s.logger.Warn().Err(err).Time("retryAt", now.Add(s.retryInterval)).Msg("refresh failed, keeping current token")
		s.persist(ctx, rec)
		return stale, true
	}

	s.clearTokensLocked()
	s.state = LoggedOut
	rec := s.recordLocked()
	s.mu.Unlock()

	s.logger.Warn().Err(err).Msg("refresh failed after expiry, logged out")
	s.persist(ctx, rec)
	return token.Data{}, false
}

func (s *Session) login(ctx context.Context) error {
	s.mu.Lock()
	if !s.hasLiveCaptchaLocked(s.nowFunc()) {
		s.clearTokensLocked()
		s.state = LoggedOut
		s.mu.Unlock()
		s.logger.Warn().Msg("login needs a fresh captcha")
		return apperrors.ErrMissingCaptcha
	}
	sessionID := uuid.NewString()
	s.mu.Unlock()

	data, err := s.negotiator.Login(ctx, auth.LoginRequest{
		Region:    s.cred.Region,
		Username:  s.cred.Username,
		Password:  s.cred.Password,
		SessionID: sessionID,
		Captcha:   s.cred.Captcha,
	})
	if err != nil {
		s.mu.Lock()
		s.clearTokensLocked()
		s.state = LoggedOut
		rec := s.recordLocked()
		s.mu.Unlock()

		s.logger.Error().Err(err).Msg("login failed")
		s.persist(ctx, rec)
		return err
	}

	s.logger.Info().Msg("logged in")
	s.apply(ctx, data, sessionID, true)
	return nil
}

// apply stores a fresh token pair and persists it.
func (s *Session) apply(ctx context.Context, data *token.Data, sessionID string, consumeCaptcha bool) {
	s.mu.Lock()
	now := s.nowFunc()
	margin := s.margin
	if half := data.Lifetime / 2; margin > half {
		margin = half
	}
	s.state = LoggedIn
	s.accessToken = data.AccessToken
	s.tokenType = data.TokenType
	if data.RefreshToken != "" {
		s.refreshToken = data.RefreshToken
	}
	s.realExpireAt = now.Add(data.Lifetime)
	s.expireAt = s.realExpireAt.Add(-margin)
	s.refreshRetryAt = time.Time{}
	s.sessionID = sessionID
	if consumeCaptcha {
		s.captcha = s.captcha.Consume()
	}
	rec := s.recordLocked()
	s.mu.Unlock()

	s.persist(ctx, rec)
}

func (s *Session) clearTokensLocked() {
	s.accessToken = ""
	s.tokenType = ""
	s.refreshToken = ""
	s.expireAt = time.Time{}
	s.realExpireAt = time.Time{}
	s.refreshRetryAt = time.Time{}
}

func (s *Session) hasLiveCaptcha() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasLiveCaptchaLocked(s.nowFunc())
}

func (s *Session) hasLiveCaptchaLocked(now time.Time) bool {
	if s.cred.Captcha == "" || s.captcha.Consumed() || s.captcha.CreatedAt.IsZero() {
		return false
	}
	return now.Before(s.captcha.CreatedAt.Add(s.captchaTTL))
}

// recordLocked renders the persisted form. Encryption failures drop the
// token from the record rather than storing it in clear.
func (s *Session) recordLocked() Record {
	rec := Record{
		Type:    s.tokenType,
		Session: s.sessionID,
		State:   s.state,
		Captcha: s.captcha.String(),
	}
	if !s.expireAt.IsZero() {
		rec.Expires = s.expireAt.UnixMilli()
	}
	if !s.realExpireAt.IsZero() {
		rec.RealExpires = s.realExpireAt.UnixMilli()
	}
	var err error
	if s.accessToken != "" {
		if rec.Token, err = s.encryptor.Encrypt(s.accessToken); err != nil {
			s.logger.Error().Err(err).Msg("encrypt access token")
			rec.Token = ""
		}
	}
	if s.refreshToken != "" {
		if rec.Refresh, err = s.encryptor.Encrypt(s.refreshToken); err != nil {
			s.logger.Error().Err(err).Msg("encrypt refresh token")
			rec.Refresh = ""
		}
	}
	return rec
}

// persist writes rec. Failures are logged; the in-memory session stays valid.
func (s *Session) persist(ctx context.Context, rec Record) {
	err := s.store.Update(ctx, s.account, func(stored *Record) error {
		*stored = rec
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("state", rec.State.String()).Msg("persist session")
	}
}
