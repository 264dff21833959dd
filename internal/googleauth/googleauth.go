// Package googleauth resolves Google Cloud credentials from the environment.
//
// Credentials are looked up in this order:
//   - GOOGLE_CREDENTIALS: inline service account JSON
//   - GOOGLE_APPLICATION_CREDENTIALS: path to a service account JSON file
//   - Application Default Credentials (gcloud, metadata server)
package googleauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// ErrMissingCredentials is returned when a service account key is required
// but neither GOOGLE_CREDENTIALS nor GOOGLE_APPLICATION_CREDENTIALS is set.
var ErrMissingCredentials = errors.New("missing Google Cloud credentials: set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS environment variable")

// Configured reports whether explicit credentials are present in the environment.
func Configured() bool {
	return os.Getenv("GOOGLE_CREDENTIALS") != "" || os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != ""
}

// ClientOptions returns the credential options for gRPC based Cloud clients.
// An empty slice means the client falls back to Application Default Credentials.
func ClientOptions() []option.ClientOption {
	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(credJSON))}
	}
	if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		return []option.ClientOption{option.WithCredentialsFile(credFile)}
	}
	return nil
}

// ServiceAccountJSON returns the raw service account key.
func ServiceAccountJSON() ([]byte, error) {
	const op = "ServiceAccountJSON"

	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		return []byte(credJSON), nil
	}
	if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		creds, err := os.ReadFile(credFile)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to read credentials file: %w", op, err)
		}
		return creds, nil
	}
	return nil, fmt.Errorf("%s: %w", op, ErrMissingCredentials)
}

// HTTPClient builds an OAuth2 HTTP client for the service account with the given scopes.
// Used by the REST based APIs (Drive, Sheets). Without explicit credentials
// the client uses Application Default Credentials.
func HTTPClient(ctx context.Context, scopes ...string) (*http.Client, error) {
	const op = "HTTPClient"

	if !Configured() {
		client, err := google.DefaultClient(ctx, scopes...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %v", op, ErrMissingCredentials, err)
		}
		return client, nil
	}

	creds, err := ServiceAccountJSON()
	if err != nil {
		return nil, err
	}

	config, err := google.JWTConfigFromJSON(creds, scopes...)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse credentials: %w", op, err)
	}
	return config.Client(ctx), nil
}
