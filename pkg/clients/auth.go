package clients

import (
	"net/http"

	"golang.org/x/oauth2"
)

// BearerTransport wraps base so every request carries "Authorization: Bearer
// <token>". A nil base uses http.DefaultTransport.
func BearerTransport(token string, base http.RoundTripper) http.RoundTripper {
	return &oauth2.Transport{
		Source: oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: token,
			TokenType:   "Bearer",
		}),
		Base: base,
	}
}
