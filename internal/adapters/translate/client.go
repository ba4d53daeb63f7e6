package translate

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"stay_chat/internal/domain"
)

// Client calls the translation gateway: one POST per outbound message. The
// call carries a bounded timeout and at most one retry on transient failure;
// on exhaustion the caller falls back to tagged untranslated text, so errors
// here never block message delivery.
type Client struct {
	base string
	hc   *http.Client
	key  string
	rl   *rate.Limiter
}

func New(base, key string, rps int) (*Client, error) {
	if base == "" {
		return nil, fmt.Errorf("gateway base URL is required")
	}
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Timeout: 10 * time.Second},
		key:  key,
		rl:   rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

type request struct {
	Text       string `json:"text"`
	SourceLang string `json:"sourceLang"`
	TargetLang string `json:"targetLang"`
}

type response struct {
	Translated   string  `json:"translated"`
	Provider     string  `json:"provider"`
	Confidence   float64 `json:"confidence"`
	DetectedLang string  `json:"detectedLang"`
}

func (c *Client) Translate(ctx context.Context, text, sourceLang, targetLang string) (domain.Translation, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return domain.Translation{}, err
	}

	body, err := json.Marshal(request{Text: text, SourceLang: sourceLang, TargetLang: targetLang})
	if err != nil {
		return domain.Translation{}, err
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/translate", bytes.NewReader(body))
		if err != nil {
			return domain.Translation{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "stay-chat/1.0")
		if c.key != "" {
			req.Header.Set("X-API-Key", c.key)
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return domain.Translation{}, ctx.Err()
			}
			lastErr = err
			if attempt == 0 && sleepCtx(ctx, backoff(attempt)) {
				continue
			}
			return domain.Translation{}, lastErr
		}

		switch resp.StatusCode {
		case http.StatusOK:
			var out response
			err := json.NewDecoder(resp.Body).Decode(&out)
			resp.Body.Close()
			if err != nil {
				return domain.Translation{}, err
			}
			return domain.Translation{
				Translated:   out.Translated,
				Provider:     out.Provider,
				Confidence:   out.Confidence,
				DetectedLang: out.DetectedLang,
			}, nil

		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			wait := retryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(attempt)
			}
			lastErr = fmt.Errorf("gateway %d", resp.StatusCode)
			if attempt == 0 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return domain.Translation{}, ctx.Err()
			}
			return domain.Translation{}, lastErr

		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return domain.Translation{}, fmt.Errorf("gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		}
	}

	return domain.Translation{}, lastErr
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After (seconds or HTTP-date). Returns 0 if absent.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff doubles per attempt with up to +50% jitter.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	return base + time.Duration(0.5*f*float64(base))
}
