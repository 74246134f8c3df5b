package core

import (
	"fmt"
	"strings"
	"time"
)

// Session is the cached authorization for the analysis backend
type Session struct {
	Token     string    // Opaque bearer token issued by the backend
	ExpiresAt time.Time // Absolute expiry, second precision
	SubjectID string    // Messaging identity the wallet is linked to, when known
}

// Valid reports whether the session carries a token that has not expired at now
func (s Session) Valid(now time.Time) bool {
	return s.Token != "" && s.ExpiresAt.Unix() > now.Unix()
}

// Grant is what the backend returns when it links or re-links a wallet
type Grant struct {
	Token     string
	TTL       time.Duration
	SubjectID string
}

// Assertion is the payload handed to the identity widget callback
type Assertion struct {
	SubjectID string `json:"subject_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty"`
	AuthDate  int64  `json:"auth_date"`
	Hash      string `json:"hash"`
}

// Validate checks the fields the backend needs to verify the assertion
func (a Assertion) Validate() error {
	if strings.TrimSpace(a.SubjectID) == "" || a.Hash == "" || a.AuthDate <= 0 {
		return ErrInvalidAssertion
	}
	return nil
}

// Profile returns the display fields worth caching for the UI
func (a Assertion) Profile() Profile {
	return Profile{
		SubjectID: a.SubjectID,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Username:  a.Username,
		PhotoURL:  a.PhotoURL,
	}
}

// Profile holds non-authoritative display fields of the linked identity
type Profile struct {
	SubjectID string `json:"telegram_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	PhotoURL  string `json:"photo_url"`
}

// MintRequest is the body sent to the session-mint endpoint
type MintRequest struct {
	Assertion
	WalletAddress string `json:"wallet_address"`
	NotifyOptIn   bool   `json:"notify_opt_in"`
	Locale        string `json:"locale"`
}

// LinkState is the linking state machine's state
type LinkState int

const (
	StateResolving LinkState = iota
	StateLinked
	StateUnlinked
)

func (s LinkState) String() string {
	switch s {
	case StateResolving:
		return "RESOLVING"
	case StateLinked:
		return "LINKED"
	case StateUnlinked:
		return "UNLINKED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state by name in JSON payloads
func (s LinkState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name
func (s *LinkState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "RESOLVING":
		*s = StateResolving
	case "LINKED":
		*s = StateLinked
	case "UNLINKED":
		*s = StateUnlinked
	default:
		return fmt.Errorf("unknown link state %q", text)
	}
	return nil
}

// LinkStatus is a point-in-time snapshot of the linker
type LinkStatus struct {
	State         LinkState `json:"state"`
	DialogVisible bool      `json:"dialog_visible"`
	Resolved      bool      `json:"resolved"`
	Wallet        string    `json:"wallet,omitempty"`
}

// Element is a node injected into a widget mount point
type Element struct {
	ID    string
	Tag   string
	Attrs map[string]string
}
