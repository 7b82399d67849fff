package oauth

import (
	"encoding/json"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Routes registers the authorization server's HTTP surface on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/register", s.handleRegister)
	mux.HandleFunc("/oauth/register", s.handleRegister)
	mux.HandleFunc("/oauth/authorize", s.handleAuthorize)
	mux.HandleFunc("/oauth/token", s.handleToken)
	mux.HandleFunc("/.well-known/oauth-authorization-server", s.handleAuthServerMetadata)
	mux.HandleFunc("/.well-known/oauth-protected-resource", s.handleProtectedResourceMetadata)
}

// registrationRequest is the dynamic client registration body (RFC 7591
// field names).
type registrationRequest struct {
	RedirectURIs []string `json:"redirect_uris"`
	ClientName   string   `json:"client_name"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req registrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOAuthError(w, invalidRequest("request body is not valid JSON"))
		return
	}
	client, err := s.clients.register(req.RedirectURIs, req.ClientName)
	if err != nil {
		writeOAuthError(w, err)
		return
	}
	s.logger.Info().Str("client_id", client.ID).Str("client_name", client.Name).Msg("client registered")
	writeJSON(w, http.StatusCreated, map[string]any{
		"client_id":                  client.ID,
		"client_id_issued_at":        client.CreatedAt.Unix(),
		"redirect_uris":              client.RedirectURIs,
		"client_name":                client.Name,
		"token_endpoint_auth_method": "none",
	})
}

var loginFormTmpl = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><title>Authorize</title></head>
<body>
<h1>Database access authorization</h1>
{{if .Error}}<p style="color:#b00">{{.Error}}</p>{{end}}
<form method="POST" action="/oauth/authorize">
  <input type="hidden" name="client_id" value="{{.ClientID}}">
  <input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
  <input type="hidden" name="state" value="{{.State}}">
  <input type="hidden" name="code_challenge" value="{{.CodeChallenge}}">
  <input type="hidden" name="code_challenge_method" value="{{.CodeChallengeMethod}}">
  <label>Password: <input type="password" name="password" autofocus></label>
  <button type="submit">Authorize</button>
</form>
</body>
</html>
`))

type loginFormData struct {
	AuthorizeRequest
	Error string
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		req := AuthorizeRequest{
			ClientID:            r.URL.Query().Get("client_id"),
			RedirectURI:         r.URL.Query().Get("redirect_uri"),
			State:               r.URL.Query().Get("state"),
			CodeChallenge:       r.URL.Query().Get("code_challenge"),
			CodeChallengeMethod: r.URL.Query().Get("code_challenge_method"),
		}
		if req.RedirectURI == "" {
			writeOAuthError(w, invalidRequest("redirect_uri is required"))
			return
		}
		result := s.BeginAuthorize(req)
		if result.PasswordRequired {
			s.renderLoginForm(w, http.StatusOK, loginFormData{AuthorizeRequest: req})
			return
		}
		redirectWithCode(w, r, req, result.Code)

	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			writeOAuthError(w, invalidRequest("request body is not a valid form"))
			return
		}
		req := AuthorizeRequest{
			ClientID:            r.PostFormValue("client_id"),
			RedirectURI:         r.PostFormValue("redirect_uri"),
			State:               r.PostFormValue("state"),
			CodeChallenge:       r.PostFormValue("code_challenge"),
			CodeChallengeMethod: r.PostFormValue("code_challenge_method"),
		}
		if req.RedirectURI == "" {
			writeOAuthError(w, invalidRequest("redirect_uri is required"))
			return
		}
		code, err := s.SubmitPassword(req, r.PostFormValue("password"), callerIdentifier(r))
		if err != nil {
			oerr, ok := err.(*Error)
			if !ok {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			s.renderLoginForm(w, oerr.Status, loginFormData{AuthorizeRequest: req, Error: oerr.Description})
			return
		}
		redirectWithCode(w, r, req, code)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) renderLoginForm(w http.ResponseWriter, status int, data loginFormData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := loginFormTmpl.Execute(w, data); err != nil {
		s.logger.Error().Err(err).Msg("failed to render login form")
	}
}

// redirectWithCode sends the caller back to its redirect URI with the fresh
// code and the original state echoed back.
func redirectWithCode(w http.ResponseWriter, r *http.Request, req AuthorizeRequest, code string) {
	target, err := url.Parse(req.RedirectURI)
	if err != nil {
		writeOAuthError(w, invalidRequest("redirect_uri is not a valid URL"))
		return
	}
	q := target.Query()
	q.Set("code", code)
	if req.State != "" {
		q.Set("state", req.State)
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, invalidRequest("request body is not a valid form"))
		return
	}
	token, err := s.ExchangeToken(TokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		ClientID:     r.PostFormValue("client_id"),
		ClientSecret: r.PostFormValue("client_secret"),
	})
	if err != nil {
		writeOAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (s *Server) handleAuthServerMetadata(w http.ResponseWriter, r *http.Request) {
	issuer := strings.TrimSuffix(s.cfg.Issuer, "/")
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + "/oauth/authorize",
		"token_endpoint":                        issuer + "/oauth/token",
		"registration_endpoint":                 issuer + "/oauth/register",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "client_credentials"},
		"token_endpoint_auth_methods_supported": []string{"none", "client_secret_post"},
		"code_challenge_methods_supported":      []string{"plain", "S256"},
	})
}

func (s *Server) handleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	issuer := strings.TrimSuffix(s.cfg.Issuer, "/")
	writeJSON(w, http.StatusOK, map[string]any{
		"resource":                 issuer + "/mcp",
		"authorization_servers":    []string{issuer},
		"bearer_methods_supported": []string{"header"},
	})
}

// RequireBearer gates next behind an Authorization header. The token value is
// accepted as opaque proof of a completed exchange, it is not validated
// against a store. Deployments needing stronger guarantees must sit behind
// network-level access control.
func (s *Server) RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			w.Header().Set("WWW-Authenticate", `Bearer resource_metadata="`+strings.TrimSuffix(s.cfg.Issuer, "/")+`/.well-known/oauth-protected-resource"`)
			writeOAuthError(w, &Error{Code: "invalid_request", Description: "missing Authorization header", Status: http.StatusUnauthorized})
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" || token == header {
			writeOAuthError(w, &Error{Code: "invalid_token", Description: "malformed bearer token", Status: http.StatusUnauthorized})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// callerIdentifier extracts the rate-limit key for a request: the source
// address without the ephemeral port.
func callerIdentifier(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOAuthError(w http.ResponseWriter, err error) {
	oerr, ok := err.(*Error)
	if !ok {
		oerr = &Error{Code: "server_error", Description: "internal error", Status: http.StatusInternalServerError}
	}
	writeJSON(w, oerr.Status, map[string]string{
		"error":             oerr.Code,
		"error_description": oerr.Description,
	})
}

// TokenTTL returns the configured bearer token lifetime.
func (s *Server) TokenTTL() time.Duration { return s.cfg.TokenTTL }
