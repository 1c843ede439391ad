package sessions_test

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/jrsteele09/go-connecteddrive/auth"
	apperrors "github.com/jrsteele09/go-connecteddrive/internal/errors"
	"github.com/jrsteele09/go-connecteddrive/sessions"
	"github.com/jrsteele09/go-connecteddrive/sessions/repofakes"
	"github.com/jrsteele09/go-connecteddrive/token"
)

const (
	testPassword = "p4ssword"
	testCaptcha  = "captcha-1"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// fakeNegotiator counts handshakes and hands out numbered tokens.
type fakeNegotiator struct {
	mu         sync.Mutex
	logins     int
	refreshes  int
	issued     int
	lifetime   time.Duration
	loginErr   error
	refreshErr error
	gate       chan struct{}
	sessionIDs []string
	refreshed  []string
}

func newFakeNegotiator() *fakeNegotiator {
	return &fakeNegotiator{lifetime: time.Hour}
}

func (n *fakeNegotiator) Login(_ context.Context, req auth.LoginRequest) (*token.Data, error) {
	if n.gate != nil {
		<-n.gate
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.logins++
	n.sessionIDs = append(n.sessionIDs, req.SessionID)
	if n.loginErr != nil {
		return nil, n.loginErr
	}
	return n.issueLocked(), nil
}

func (n *fakeNegotiator) Refresh(_ context.Context, req auth.RefreshRequest) (*token.Data, error) {
	if n.gate != nil {
		<-n.gate
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refreshes++
	n.sessionIDs = append(n.sessionIDs, req.SessionID)
	n.refreshed = append(n.refreshed, req.RefreshToken)
	if n.refreshErr != nil {
		return nil, n.refreshErr
	}
	return n.issueLocked(), nil
}

func (n *fakeNegotiator) issueLocked() *token.Data {
	n.issued++
	return &token.Data{
		AccessToken:  fmt.Sprintf("access-%d", n.issued),
		RefreshToken: fmt.Sprintf("refresh-%d", n.issued),
		TokenType:    "Bearer",
		Lifetime:     n.lifetime,
	}
}

func (n *fakeNegotiator) counts() (logins, refreshes int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.logins, n.refreshes
}

func (n *fakeNegotiator) setRefreshErr(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refreshErr = err
}

type testFixture struct {
	clock      *clock
	negotiator *fakeNegotiator
	store      *repofakes.FakeTokenStore
	cred       sessions.Credential
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	return &testFixture{
		clock:      &clock{now: t0},
		negotiator: newFakeNegotiator(),
		store:      repofakes.NewFakeTokenStore(),
		cred: sessions.Credential{
			Username: "Driver@Example.com",
			Password: testPassword,
			Captcha:  testCaptcha,
			Region:   auth.Region{Name: "test", APIHost: "api.example.test", UserAgentSuffix: "row"},
		},
	}
}

func (f *testFixture) newSession(t *testing.T, options ...sessions.SessionOption) *sessions.Session {
	t.Helper()
	opts := append([]sessions.SessionOption{
		sessions.WithNowFunc(f.clock.Now),
		sessions.WithLogger(zerolog.Nop()),
	}, options...)
	s, err := sessions.New(context.Background(), f.cred, f.negotiator, f.store, opts...)
	require.NoError(t, err)
	return s
}

func (f *testFixture) record(t *testing.T) sessions.Record {
	t.Helper()
	rec, err := f.store.Get(context.Background(), f.cred.AccountKey())
	require.NoError(t, err)
	return rec
}

func TestSession_ConcurrentCallersShareOneLogin(t *testing.T) {
	f := setupTestFixture(t)
	f.negotiator.gate = make(chan struct{})
	s := f.newSession(t)

	var g errgroup.Group
	tokens := make([]string, 20)
	for i := range tokens {
		i := i
		g.Go(func() error {
			tok, err := s.Token(context.Background())
			tokens[i] = tok.AccessToken
			return err
		})
	}
	time.Sleep(20 * time.Millisecond)
	close(f.negotiator.gate)
	require.NoError(t, g.Wait())

	logins, refreshes := f.negotiator.counts()
	require.Equal(t, 1, logins)
	require.Equal(t, 0, refreshes)
	for _, tok := range tokens {
		require.Equal(t, "access-1", tok)
	}
	require.Equal(t, sessions.LoggedIn, s.State())
}

func TestSession_LoginSetsProactiveDeadline(t *testing.T) {
	f := setupTestFixture(t)
	s := f.newSession(t)

	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Bearer access-1", tok.AuthorizationHeader())
	require.Equal(t, t0.Add(45*time.Minute), s.ExpireAt())
	require.NotEmpty(t, s.SessionID())
}

func TestSession_MarginCappedAtHalfLifetime(t *testing.T) {
	f := setupTestFixture(t)
	f.negotiator.lifetime = 10 * time.Minute
	s := f.newSession(t)

	_, err := s.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, t0.Add(5*time.Minute), s.ExpireAt())
}

func TestSession_FutureExpiryNeverReauthenticates(t *testing.T) {
	f := setupTestFixture(t)
	s := f.newSession(t)

	_, err := s.Token(context.Background())
	require.NoError(t, err)

	f.clock.Set(s.ExpireAt().Add(-time.Second))
	for i := 0; i < 5; i++ {
		tok, err := s.Token(context.Background())
		require.NoError(t, err)
		require.Equal(t, "access-1", tok.AccessToken)
	}
	logins, refreshes := f.negotiator.counts()
	require.Equal(t, 1, logins)
	require.Equal(t, 0, refreshes)
}

func TestSession_PastExpiryRefreshesExactlyOnce(t *testing.T) {
	f := setupTestFixture(t)
	s := f.newSession(t)

	_, err := s.Token(context.Background())
	require.NoError(t, err)
	sessionID := s.SessionID()

	f.clock.Set(s.ExpireAt().Add(time.Second))
	f.negotiator.gate = make(chan struct{})

	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			tok, err := s.Token(context.Background())
			if err == nil && tok.AccessToken != "access-2" {
				return fmt.Errorf("unexpected token %q", tok.AccessToken)
			}
			return err
		})
	}
	time.Sleep(20 * time.Millisecond)
	close(f.negotiator.gate)
	require.NoError(t, g.Wait())

	logins, refreshes := f.negotiator.counts()
	require.Equal(t, 1, logins)
	require.Equal(t, 1, refreshes)
	require.Equal(t, []string{"refresh-1"}, f.negotiator.refreshed)
	require.Equal(t, sessionID, s.SessionID(), "refresh keeps the login's session id")
}

func TestSession_SoftRefreshFailureKeepsStaleToken(t *testing.T) {
	f := setupTestFixture(t)
	s := f.newSession(t, sessions.WithRefreshRetryInterval(time.Minute))

	_, err := s.Token(context.Background())
	require.NoError(t, err)

	f.negotiator.setRefreshErr(&apperrors.AuthStageError{Stage: auth.StageRefresh, StatusCode: http.StatusTooManyRequests})
	f.clock.Set(s.ExpireAt().Add(time.Second))

	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-1", tok.AccessToken)
	require.Equal(t, sessions.LoggedIn, s.State())

	// Within the retry interval the stale token is served without another attempt.
	f.clock.Set(s.ExpireAt().Add(30 * time.Second))
	tok, err = s.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-1", tok.AccessToken)
	_, refreshes := f.negotiator.counts()
	require.Equal(t, 1, refreshes)

	// After it, the refresh is retried and succeeds.
	f.negotiator.setRefreshErr(nil)
	f.clock.Set(s.ExpireAt().Add(2 * time.Minute))
	tok, err = s.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-2", tok.AccessToken)
	_, refreshes = f.negotiator.counts()
	require.Equal(t, 2, refreshes)
}

func TestSession_SoftRefreshFailureServesEveryWaiter(t *testing.T) {
	f := setupTestFixture(t)
	s := f.newSession(t)

	_, err := s.Token(context.Background())
	require.NoError(t, err)

	f.negotiator.setRefreshErr(&apperrors.AuthStageError{Stage: auth.StageRefresh, StatusCode: http.StatusTooManyRequests})
	f.clock.Set(s.ExpireAt().Add(time.Second))
	f.negotiator.gate = make(chan struct{})

	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			tok, err := s.Token(context.Background())
			if err == nil && tok.AccessToken != "access-1" {
				return fmt.Errorf("unexpected token %q", tok.AccessToken)
			}
			return err
		})
	}
	time.Sleep(20 * time.Millisecond)
	close(f.negotiator.gate)
	require.NoError(t, g.Wait())

	_, refreshes := f.negotiator.counts()
	require.Equal(t, 1, refreshes)
	require.Equal(t, sessions.LoggedIn, s.State())
}

func TestSession_ZeroRetryIntervalKeepsDefault(t *testing.T) {
	f := setupTestFixture(t)
	s := f.newSession(t, sessions.WithRefreshRetryInterval(0))

	_, err := s.Token(context.Background())
	require.NoError(t, err)

	f.negotiator.setRefreshErr(&apperrors.AuthStageError{Stage: auth.StageRefresh, StatusCode: http.StatusTooManyRequests})
	f.clock.Set(s.ExpireAt().Add(time.Second))

	for i := 0; i < 3; i++ {
		tok, err := s.Token(context.Background())
		require.NoError(t, err)
		require.Equal(t, "access-1", tok.AccessToken)
	}
	_, refreshes := f.negotiator.counts()
	require.Equal(t, 1, refreshes)
}

func TestSession_HardLineSurvivesRestartWithCappedMargin(t *testing.T) {
	f := setupTestFixture(t)
	f.negotiator.lifetime = 20 * time.Minute
	_, err := f.newSession(t).Token(context.Background())
	require.NoError(t, err)

	rec := f.record(t)
	require.Equal(t, t0.Add(10*time.Minute).UnixMilli(), rec.Expires)
	require.Equal(t, t0.Add(20*time.Minute).UnixMilli(), rec.RealExpires)

	f.cred.Captcha = ""
	restarted := f.newSession(t)
	f.negotiator.setRefreshErr(&apperrors.AuthStageError{Stage: auth.StageRefresh, StatusCode: http.StatusTooManyRequests})
	f.clock.Set(t0.Add(21 * time.Minute))

	_, err = restarted.Token(context.Background())
	require.ErrorIs(t, err, apperrors.ErrAuthStage)
	require.Equal(t, sessions.LoggedOut, restarted.State())
}

func TestSession_MarginChangeKeepsStoredHardLine(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.newSession(t, sessions.WithRefreshMargin(5*time.Minute)).Token(context.Background())
	require.NoError(t, err)

	f.cred.Captcha = ""
	restarted := f.newSession(t, sessions.WithRefreshMargin(30*time.Minute))
	f.negotiator.setRefreshErr(&apperrors.AuthStageError{Stage: auth.StageRefresh, StatusCode: http.StatusTooManyRequests})
	f.clock.Set(t0.Add(time.Hour + time.Minute))

	_, err = restarted.Token(context.Background())
	require.ErrorIs(t, err, apperrors.ErrAuthStage)
	require.Equal(t, sessions.LoggedOut, restarted.State())
}

func TestSession_HardRefreshFailureLogsOut(t *testing.T) {
	f := setupTestFixture(t)
	s := f.newSession(t)

	_, err := s.Token(context.Background())
	require.NoError(t, err)

	f.negotiator.setRefreshErr(&apperrors.AuthStageError{Stage: auth.StageRefresh, StatusCode: http.StatusTooManyRequests})
	// Past the real expiry: one hour after login.
	f.clock.Set(t0.Add(time.Hour + time.Second))

	_, err = s.Token(context.Background())
	require.ErrorIs(t, err, apperrors.ErrAuthStage)
	var stageErr *apperrors.AuthStageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, auth.StageRefresh, stageErr.Stage)
	require.Equal(t, sessions.LoggedOut, s.State())

	rec := f.record(t)
	require.Equal(t, sessions.LoggedOut, rec.State)
	require.Empty(t, rec.Token)
	require.Empty(t, rec.Refresh)

	logins, _ := f.negotiator.counts()
	require.Equal(t, 1, logins, "the consumed captcha cannot be used again")
}

func TestSession_HardRefreshFailureFallsBackToLoginWithFreshCaptcha(t *testing.T) {
	f := setupTestFixture(t)
	s := f.newSession(t)
	_, err := s.Token(context.Background())
	require.NoError(t, err)

	f.clock.Set(t0.Add(time.Hour + time.Second))
	f.cred.Captcha = "captcha-2"
	f.negotiator.setRefreshErr(&apperrors.AuthStageError{Stage: auth.StageRefresh, StatusCode: http.StatusBadRequest})
	restarted := f.newSession(t)

	tok, err := restarted.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-2", tok.AccessToken)

	logins, refreshes := f.negotiator.counts()
	require.Equal(t, 2, logins)
	require.Equal(t, 1, refreshes)
	require.NotEqual(t, f.negotiator.sessionIDs[0], f.negotiator.sessionIDs[2], "a new login gets a new session id")
}

func TestSession_MissingCaptcha(t *testing.T) {
	f := setupTestFixture(t)
	f.cred.Captcha = ""
	s := f.newSession(t)

	_, err := s.Token(context.Background())
	require.ErrorIs(t, err, apperrors.ErrMissingCaptcha)
	require.Equal(t, sessions.LoggedOut, s.State())
	logins, _ := f.negotiator.counts()
	require.Equal(t, 0, logins)
}

func TestSession_ExpiredCaptcha(t *testing.T) {
	f := setupTestFixture(t)
	s := f.newSession(t, sessions.WithCaptchaTTL(2*time.Minute))

	f.clock.Set(t0.Add(3 * time.Minute))
	_, err := s.Token(context.Background())
	require.ErrorIs(t, err, apperrors.ErrMissingCaptcha)
}

func TestSession_CaptchaTTLSurvivesRestart(t *testing.T) {
	f := setupTestFixture(t)
	f.newSession(t, sessions.WithCaptchaTTL(2*time.Minute))

	// The same captcha seen again later keeps its first-seen time.
	f.clock.Set(t0.Add(3 * time.Minute))
	s := f.newSession(t, sessions.WithCaptchaTTL(2*time.Minute))
	_, err := s.Token(context.Background())
	require.ErrorIs(t, err, apperrors.ErrMissingCaptcha)
}

func TestSession_LoginFailure(t *testing.T) {
	f := setupTestFixture(t)
	f.negotiator.loginErr = &apperrors.AuthStageError{Stage: auth.StageAuthenticate, StatusCode: http.StatusUnauthorized}
	s := f.newSession(t)

	_, err := s.Token(context.Background())
	require.ErrorIs(t, err, apperrors.ErrAuthStage)
	require.Equal(t, sessions.LoggedOut, s.State())
}

func TestSession_PersistsEncryptedTokens(t *testing.T) {
	f := setupTestFixture(t)
	s := f.newSession(t)
	_, err := s.Token(context.Background())
	require.NoError(t, err)

	rec := f.record(t)
	require.Equal(t, sessions.LoggedIn, rec.State)
	require.Equal(t, "Bearer", rec.Type)
	require.Equal(t, s.SessionID(), rec.Session)
	require.Equal(t, s.ExpireAt().UnixMilli(), rec.Expires)
	require.NotContains(t, rec.Token, "access-1")
	require.NotContains(t, rec.Refresh, "refresh-1")

	access, err := token.Decrypt(testPassword, rec.Token)
	require.NoError(t, err)
	require.Equal(t, "access-1", access)

	mark, ok := token.ParseCaptchaMark(rec.Captcha)
	require.True(t, ok)
	require.True(t, mark.Consumed())
	require.True(t, mark.Matches(testCaptcha))
}

func TestSession_RestoresFromStore(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.newSession(t).Token(context.Background())
	require.NoError(t, err)

	f.cred.Captcha = ""
	restored := f.newSession(t)
	require.Equal(t, sessions.LoggedIn, restored.State())

	tok, err := restored.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-1", tok.AccessToken)
	logins, refreshes := f.negotiator.counts()
	require.Equal(t, 1, logins)
	require.Equal(t, 0, refreshes)
}

func TestSession_AuthenticatingRecordRestoresAsLoggedIn(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.newSession(t).Token(context.Background())
	require.NoError(t, err)

	require.NoError(t, f.store.Update(context.Background(), f.cred.AccountKey(), func(rec *sessions.Record) error {
		rec.State = sessions.Authenticating
		return nil
	}))
	require.Equal(t, sessions.LoggedIn, f.newSession(t).State())
}

func TestSession_WrongPasswordStartsLoggedOut(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.newSession(t).Token(context.Background())
	require.NoError(t, err)

	f.cred.Password = "another password"
	f.cred.Captcha = ""
	s := f.newSession(t)
	require.Equal(t, sessions.LoggedOut, s.State())

	_, err = s.Token(context.Background())
	require.ErrorIs(t, err, apperrors.ErrMissingCaptcha)
}

func TestSession_PersistFailureDoesNotSurface(t *testing.T) {
	f := setupTestFixture(t)
	s := f.newSession(t)
	f.store.FailWrites(apperrors.ErrStore)

	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-1", tok.AccessToken)
	require.Equal(t, sessions.LoggedIn, s.State())
}

func TestSession_UnreadableStoreStartsLoggedOut(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.newSession(t).Token(context.Background())
	require.NoError(t, err)

	f.store.FailReads(apperrors.ErrStore)
	f.cred.Captcha = "captcha-2"
	s := f.newSession(t)
	require.Equal(t, sessions.LoggedOut, s.State())

	f.store.FailReads(nil)
	writes := f.store.Writes()
	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-2", tok.AccessToken)
	require.Greater(t, f.store.Writes(), writes)

	logins, _ := f.negotiator.counts()
	require.Equal(t, 2, logins)
}

func TestSession_CallerContextEndsWait(t *testing.T) {
	f := setupTestFixture(t)
	f.negotiator.gate = make(chan struct{})
	s := f.newSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Token(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// The abandoned attempt still completes and is shared with later callers.
	close(f.negotiator.gate)
	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-1", tok.AccessToken)
	logins, _ := f.negotiator.counts()
	require.Equal(t, 1, logins)
}

func TestCredential_AccountKey(t *testing.T) {
	a := sessions.Credential{Username: "Driver@Example.com"}
	b := sessions.Credential{Username: " driver@example.com "}
	require.Equal(t, a.AccountKey(), b.AccountKey())
	require.Len(t, a.AccountKey(), 64)
	require.NotContains(t, a.AccountKey(), "driver")
}

func TestNew_Validation(t *testing.T) {
	f := setupTestFixture(t)

	_, err := sessions.New(context.Background(), sessions.Credential{}, f.negotiator, f.store)
	require.ErrorIs(t, err, apperrors.ErrInvalidArgument)

	_, err = sessions.New(context.Background(), f.cred, nil, f.store)
	require.Error(t, err)

	_, err = sessions.New(context.Background(), f.cred, f.negotiator, nil)
	require.Error(t, err)
}
