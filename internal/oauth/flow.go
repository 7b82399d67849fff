package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// AuthorizeRequest carries the query/form parameters of one authorize attempt.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// AuthorizeResult is the outcome of BeginAuthorize. Exactly one of Code or
// PasswordRequired is meaningful: a non-empty Code means the caller should be
// redirected immediately, PasswordRequired means the interactive credential
// form must be rendered first.
type AuthorizeResult struct {
	Code             string
	PasswordRequired bool
}

// TokenRequest carries the body of one token-endpoint call.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	ClientID     string
	ClientSecret string
}

// Token is an issued bearer credential. The token value is an opaque random
// identifier; it is not persisted or later introspected (see package doc).
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// BeginAuthorize starts an authorization attempt. With no password configured
// the code is issued immediately; otherwise the caller must collect a
// password and call SubmitPassword with the same parameters.
func (s *Server) BeginAuthorize(req AuthorizeRequest) AuthorizeResult {
	if s.PasswordRequired() {
		return AuthorizeResult{PasswordRequired: true}
	}
	code := s.codes.issue(req.ClientID, req.RedirectURI, req.CodeChallenge, req.CodeChallengeMethod)
	s.logger.Info().Str("client_id", req.ClientID).Msg("authorization auto-approved")
	return AuthorizeResult{Code: code}
}

// SubmitPassword validates the rate limit and the password for one caller,
// then issues an authorization code. callerID identifies the caller for rate
// limiting, typically the source address. The rate-limit check, credential
// comparison, and counter update run in that fixed order, synchronously.
func (s *Server) SubmitPassword(req AuthorizeRequest, password, callerID string) (string, error) {
	if msg, locked := s.limiter.Check(callerID); locked {
		s.logger.Warn().Str("caller", callerID).Msg("authorization attempt while locked out")
		return "", rateLimited(msg)
	}
	if !secretsEqual(password, s.cfg.Password) {
		lockedNow := s.limiter.RecordFailure(callerID)
		s.logger.Warn().Str("caller", callerID).Bool("locked", lockedNow).Msg("invalid password")
		return "", unauthorized("invalid password")
	}
	s.limiter.Clear(callerID)
	code := s.codes.issue(req.ClientID, req.RedirectURI, req.CodeChallenge, req.CodeChallengeMethod)
	s.logger.Info().Str("client_id", req.ClientID).Msg("authorization approved")
	return code, nil
}

// ExchangeToken implements the token endpoint's two grants.
//
// client_credentials performs no password check; it is intended for
// already-trusted machine callers reachable only over a secured channel; an
// unknown client_id is auto-registered. authorization_code consumes the code
// (single use) and verifies the redirect URI and, when a PKCE challenge was
// recorded, the code verifier.
func (s *Server) ExchangeToken(req TokenRequest) (*Token, error) {
	switch req.GrantType {
	case "client_credentials":
		if req.ClientID == "" {
			return nil, invalidRequest("client_id is required for the client_credentials grant")
		}
		client := s.clients.getOrAutoRegister(req.ClientID, req.ClientSecret)
		s.logger.Info().Str("client_id", client.ID).Msg("token issued via client_credentials")
		return s.issueToken(), nil

	case "authorization_code":
		entry, ok := s.codes.consume(req.Code)
		if !ok {
			return nil, invalidGrant("authorization code is invalid or expired")
		}
		if entry.redirectURI != "" && req.RedirectURI != entry.redirectURI {
			return nil, invalidGrant("redirect_uri does not match the authorization request")
		}
		if err := verifyPKCE(entry, req.CodeVerifier); err != nil {
			return nil, err
		}
		s.logger.Info().Str("client_id", entry.clientID).Msg("token issued via authorization_code")
		return s.issueToken(), nil

	default:
		return nil, unsupportedGrantType(req.GrantType)
	}
}

func (s *Server) issueToken() *Token {
	return &Token{
		AccessToken: randomToken(),
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.cfg.TokenTTL.Seconds()),
	}
}

// verifyPKCE checks the code verifier against the challenge recorded at
// authorize time. Codes issued without a challenge pass unconditionally.
func verifyPKCE(entry authCode, verifier string) error {
	if entry.codeChallenge == "" {
		return nil
	}
	if verifier == "" {
		return invalidGrant("code_verifier is required")
	}
	switch entry.codeChallengeMethod {
	case "", "plain":
		if subtle.ConstantTimeCompare([]byte(verifier), []byte(entry.codeChallenge)) != 1 {
			return invalidGrant("code_verifier does not match the challenge")
		}
	case "S256":
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(computed), []byte(entry.codeChallenge)) != 1 {
			return invalidGrant("code_verifier does not match the challenge")
		}
	default:
		return invalidGrant("unsupported code_challenge_method %q", entry.codeChallengeMethod)
	}
	return nil
}
