package sessions

// State is the authentication state of a Session.
type State string

const (
	LoggedOut      State = "logged_out"
	Authenticating State = "authenticating"
	LoggedIn       State = "logged_in"
)

func (s State) String() string { return string(s) }
