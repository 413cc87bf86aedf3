// Package api is the source reader: it fetches the transactions export from
// the configured HTTP endpoint and decodes it into raw records.
//
// The reader makes exactly one attempt. Any network error, timeout, non-2xx
// status or undecodable body is reported as ErrSourceUnavailable together with
// an empty result; the caller decides what an unavailable source means for the
// run.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"txetl/internal/datasource/httpds"
	"txetl/internal/logging"
	jsonparser "txetl/internal/parser/json"
)

// ErrSourceUnavailable wraps every fetch failure.
var ErrSourceUnavailable = errors.New("source unavailable")

// KeyParam is the query parameter carrying the API key.
const KeyParam = "key"

// Reader fetches raw records from one endpoint.
type Reader struct {
	Client *httpds.Client
	URL    string
	APIKey string
}

// NewReader builds a Reader with its own client.
func NewReader(url, apiKey string, cfg httpds.Config) *Reader {
	return &Reader{Client: httpds.NewClient(cfg), URL: url, APIKey: apiKey}
}

// Read performs the GET and decodes the body. On failure it returns an empty
// Decoded value and an error wrapping ErrSourceUnavailable.
func (r *Reader) Read(ctx context.Context) (jsonparser.Decoded, error) {
	log := logging.FromContext(ctx)

	target, err := httpds.WithQuery(r.URL, KeyParam, r.APIKey)
	if err != nil {
		return jsonparser.Decoded{}, fmt.Errorf("%w: bad endpoint url: %v", ErrSourceUnavailable, err)
	}
	log.Info().Str("url", httpds.RedactURL(target)).Msg("fetching records")

	resp, err := r.Client.Get(ctx, target, http.Header{"Accept": {"application/json"}})
	if err != nil {
		return jsonparser.Decoded{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	dec, err := jsonparser.DecodeRecords(resp.Body)
	if err != nil {
		return jsonparser.Decoded{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	log.Info().Int("records", len(dec.Records)).Msg("fetched records")
	return dec, nil
}
