package acknowledgements

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tonefeed/ddexd/pkg/sources"
)

const tokenTTL = time.Hour

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// HTTPTransmitter posts acknowledgement documents to a delivery gateway. The
// gateway hands out short-lived bearer tokens against the source's basic
// credentials; tokens are cached per source for an hour.
type HTTPTransmitter struct {
	client *http.Client

	mu     sync.Mutex
	tokens map[string]cachedToken

	// now is swapped out in tests to force expiry.
	now func() time.Time
}

func NewHTTPTransmitter() *HTTPTransmitter {
	return &HTTPTransmitter{
		client: &http.Client{Timeout: 30 * time.Second},
		tokens: map[string]cachedToken{},
		now:    time.Now,
	}
}

func (t *HTTPTransmitter) Transmit(ctx context.Context, src sources.Source, body []byte) error {
	if src.AcknowledgementURL == "" {
		return errors.Errorf("source %q has no acknowledgement gateway url", src.Name)
	}

	token, err := t.bearerToken(ctx, src)
	if err != nil {
		return err
	}

	url := strings.TrimRight(src.AcknowledgementURL, "/") + "/ddex/ern/post/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.WithStack(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/xml")

	res, err := t.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to post acknowledgement for source %q", src.Name)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		// An expired token comes back as a 401; drop it so the next attempt
		// re-authenticates.
		if res.StatusCode == http.StatusUnauthorized {
			t.dropToken(src.Name)
		}
		return errors.Errorf("acknowledgement post for source %q returned %d: %s", src.Name, res.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

func (t *HTTPTransmitter) bearerToken(ctx context.Context, src sources.Source) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.tokens[src.Name]; ok && t.now().Before(entry.expiresAt) {
		return entry.token, nil
	}

	url := strings.TrimRight(src.AcknowledgementURL, "/") + "/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", errors.WithStack(err)
	}
	req.SetBasicAuth(src.AcknowledgementUser, src.AcknowledgementPass)
	req.Header.Set("Content-Type", "application/json")

	res, err := t.client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "failed to fetch gateway token for source %q", src.Name)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		return "", errors.Errorf("gateway token request for source %q returned %d", src.Name, res.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 4096))
	if err != nil {
		return "", errors.WithStack(err)
	}
	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", errors.Errorf("gateway token request for source %q returned an empty token", src.Name)
	}

	t.tokens[src.Name] = cachedToken{token: token, expiresAt: t.now().Add(tokenTTL)}
	return token, nil
}

func (t *HTTPTransmitter) dropToken(source string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tokens, source)
}
