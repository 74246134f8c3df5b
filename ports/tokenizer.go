package ports

import "github.com/apolo-dex/smartlink/core"

// Tokenizer converts between linked sessions and bearer tokens
type Tokenizer interface {
	SessionToToken(session *core.Session, wallet string) (string, error)
	TokenToSession(token string) (*core.Session, error)
}
