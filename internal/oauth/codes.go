package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// authCode is a single-use proof of a completed authorization step. The
// redirect URI and PKCE challenge recorded here are verified again at
// token-exchange time.
type authCode struct {
	clientID            string
	redirectURI         string
	codeChallenge       string
	codeChallengeMethod string
	expiresAt           time.Time
}

// codeStore holds short-lived authorization codes. Consumption is an atomic
// lookup-and-delete under one lock: of any number of concurrent exchanges of
// the same code, exactly one succeeds.
type codeStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	codes map[string]authCode
	now   func() time.Time // injectable for tests
}

func newCodeStore(ttl time.Duration) *codeStore {
	return &codeStore{
		ttl:   ttl,
		codes: make(map[string]authCode),
		now:   time.Now,
	}
}

// issue stores a fresh code bound to the client and redirect target.
func (s *codeStore) issue(clientID, redirectURI, challenge, method string) string {
	code := randomToken()
	s.mu.Lock()
	s.codes[code] = authCode{
		clientID:            clientID,
		redirectURI:         redirectURI,
		codeChallenge:       challenge,
		codeChallengeMethod: method,
		expiresAt:           s.now().Add(s.ttl),
	}
	s.mu.Unlock()
	return code
}

// consume removes and returns the code's record. Absent or expired codes
// return false; an expired entry is deleted on the way out.
func (s *codeStore) consume(code string) (authCode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.codes[code]
	if !ok {
		return authCode{}, false
	}
	delete(s.codes, code)
	if !s.now().Before(entry.expiresAt) {
		return authCode{}, false
	}
	return entry, true
}

// randomToken returns a 256-bit URL-safe opaque identifier, used for both
// authorization codes and bearer tokens.
func randomToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; if it does the
		// process cannot mint credentials at all.
		panic("oauth: crypto/rand failure: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
