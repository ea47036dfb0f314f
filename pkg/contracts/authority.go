package contracts

// AuthorityClass ranks the actors that may bind decisions and grant
// authorizations. HUMAN outranks SYSTEM; SYSTEM can never self-authorize.
type AuthorityClass string

const (
	AuthorityHuman  AuthorityClass = "HUMAN"
	AuthoritySystem AuthorityClass = "SYSTEM"
)

// Rank returns the numeric rank of the class. Higher outranks lower; an
// unknown class ranks below everything.
func (a AuthorityClass) Rank() int {
	switch a {
	case AuthorityHuman:
		return 2
	case AuthoritySystem:
		return 1
	}
	return 0
}

// Outranks reports whether a strictly outranks b.
func (a AuthorityClass) Outranks(b AuthorityClass) bool { return a.Rank() > b.Rank() }

// CanAuthorize reports whether the class may convert an intent into an
// authorization. Only HUMAN-backed decisions carry that power.
func (a AuthorityClass) CanAuthorize() bool { return a == AuthorityHuman }

// Identity names one actor in the system.
type Identity struct {
	ID    string         `json:"id"`
	Class AuthorityClass `json:"class"`
}

// SystemIdentity is the fixed identity the core uses for synthesized acts
// (timeout aborts, forced halts). It is loaded once and never mutated.
var SystemIdentity = Identity{ID: "warden-core", Class: AuthoritySystem}
