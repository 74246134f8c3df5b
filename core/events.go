package core

import "time"

const (
	// TopicSessionInvalidated is raised by any caller whose authorized request was rejected
	TopicSessionInvalidated = "smartlink.session.invalidated"

	// TopicLinked is broadcast once a wallet becomes linked
	TopicLinked = "smartlink.linked"
)

// Event is the envelope carried on the signal bus
type Event struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Reason    string    `json:"reason,omitempty"`
	SubjectID string    `json:"subject_id,omitempty"`
	Wallet    string    `json:"wallet,omitempty"`
	At        time.Time `json:"at"`
}
