package selfupdate

import "os"

// getToken returns an optional API token; it raises the GitHub rate limit and
// allows private release repositories.
func getToken() string {
	for _, key := range []string{"FOUNDRY_UPDATER_TOKEN", "GITHUB_TOKEN", "GH_TOKEN"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}
