package httpds

import "net/url"

// secretParams are query parameters whose values never appear in errors or
// logs.
var secretParams = []string{"key", "api_key", "apikey", "token", "access_token"}

// WithQuery returns rawURL with param=value set in its query string. An empty
// value leaves the URL untouched.
func WithQuery(rawURL, param, value string) (string, error) {
	if value == "" {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(param, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// RedactURL masks secret query parameters in rawURL. Unparseable input is
// replaced entirely.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<unparseable url>"
	}
	q := u.Query()
	changed := false
	for _, p := range secretParams {
		if q.Has(p) {
			q.Set(p, "xxxxx")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}
