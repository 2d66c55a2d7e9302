package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// OAuthConfig reads the Google client credentials file ("installed" or "web"
// application JSON) and returns an oauth2.Config whose redirect targets the
// local callback listener.
func (c *Config) OAuthConfig() (*oauth2.Config, error) {
	data, err := os.ReadFile(c.Google.CredentialsPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("google credentials %s: %w (download the OAuth client JSON from the Google Cloud console)", c.Google.CredentialsPath, ErrMissingConfiguration)
	}
	if err != nil {
		return nil, fmt.Errorf("read google credentials: %w", err)
	}
	return c.OAuthConfigFromJSON(data)
}

// OAuthConfigFromJSON builds the oauth2.Config from raw client credentials.
func (c *Config) OAuthConfigFromJSON(data []byte) (*oauth2.Config, error) {
	oc, err := google.ConfigFromJSON(data, GoogleScopes()...)
	if err != nil {
		return nil, fmt.Errorf("parse google credentials: %w", err)
	}
	oc.RedirectURL = c.RedirectURL()
	return oc, nil
}

// RedirectURL is the loopback address registered for the authorization redirect.
func (c *Config) RedirectURL() string {
	return "http://127.0.0.1:" + strconv.Itoa(c.Google.CallbackPort) + c.Google.CallbackPath
}
