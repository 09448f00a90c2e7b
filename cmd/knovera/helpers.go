package main

import (
	"fmt"
	"os"

	knovera "github.com/knovera/knovera-go"
)

// resolveAuth merges environment overrides over the stored config.
// KNOVERA_TOKEN, KNOVERA_USER_ID, and KNOVERA_BASE_URL win when set.
func resolveAuth() (token, userID, baseURL string) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	token = cfg.Auth.Token
	userID = cfg.Auth.UserID
	baseURL = cfg.Default.BaseURL

	if v := os.Getenv("KNOVERA_TOKEN"); v != "" {
		token = v
	}
	if v := os.Getenv("KNOVERA_USER_ID"); v != "" {
		userID = v
	}
	if v := os.Getenv("KNOVERA_BASE_URL"); v != "" {
		baseURL = v
	}
	return token, userID, baseURL
}

// getClient creates a Knovera client from the stored credentials.
func getClient() *knovera.Client {
	token, _, baseURL := resolveAuth()
	if token == "" {
		fmt.Fprintln(os.Stderr, "No session token. Run 'knovera init <token> <user-id>' first.")
		os.Exit(1)
	}

	var opts []knovera.ClientOption
	if baseURL != "" {
		opts = append(opts, knovera.WithBaseURL(baseURL))
	}
	return knovera.NewClient(token, opts...)
}

// getIdentity returns the channel identity from the stored credentials.
func getIdentity() knovera.Identity {
	token, userID, _ := resolveAuth()
	if token == "" || userID == "" {
		fmt.Fprintln(os.Stderr, "No session credentials. Run 'knovera init <token> <user-id>' first.")
		os.Exit(1)
	}
	return knovera.Identity{UserID: userID, Token: token}
}
