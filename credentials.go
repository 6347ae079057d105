package oneclaw

// Credential is the long-lived credential a client authenticates with.
// It is one of PreAuthenticatedToken, UserAPIKey or AgentAPIKey.
type Credential interface {
	// Masked returns a form of the credential that is safe to log
	Masked() string

	isCredential()
}

// PreAuthenticatedToken is a bearer token obtained out-of-band. The client
// sends it verbatim and never refreshes it.
type PreAuthenticatedToken struct {
	Token string
}

// UserAPIKey is a user's API key, exchanged for short-lived tokens.
type UserAPIKey struct {
	Key string
}

// AgentAPIKey is an agent's API key, exchanged together with the agent id.
type AgentAPIKey struct {
	Key     string
	AgentID string
}

func (PreAuthenticatedToken) isCredential() {}
func (UserAPIKey) isCredential()            {}
func (AgentAPIKey) isCredential()           {}

func (c PreAuthenticatedToken) Masked() string { return "token:" + mask(c.Token) }
func (c UserAPIKey) Masked() string            { return "api_key:" + mask(c.Key) }
func (c AgentAPIKey) Masked() string {
	return "agent:" + c.AgentID + "/api_key:" + mask(c.Key)
}

// mask keeps the last four characters of long secrets only
func mask(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
