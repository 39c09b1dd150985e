// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package fetch retrieves sequence records, predicted structures and
// reference structures over HTTP and persists them into the run's working
// directory under deterministic filenames.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/yosida95/uritemplate/v3"

	"github.com/pdiddy/foldeval/internal/fsutil"
	"github.com/pdiddy/foldeval/internal/httputil"
	"github.com/pdiddy/foldeval/pkg/types"
)

// Kind selects the remote source and the local filename pattern.
type Kind int

const (
	KindSequence Kind = iota
	KindPrediction
	KindReference
)

func (k Kind) String() string {
	switch k {
	case KindSequence:
		return "sequence"
	case KindPrediction:
		return "prediction"
	case KindReference:
		return "reference_structure"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Filename returns the artifact filename for key.
func (k Kind) Filename(key string) string {
	switch k {
	case KindSequence:
		return key + ".fasta"
	case KindPrediction:
		return key + "_predicted.pdb"
	default:
		return key + ".pdb"
	}
}

// RetrievalError reports a failed fetch. Transient is set when the
// transport kept failing until retries ran out; otherwise StatusCode holds
// the HTTP status of the terminal response (zero for local I/O failures).
type RetrievalError struct {
	Kind       Kind
	Key        string
	URL        string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *RetrievalError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("fetching %s %s: HTTP %d from %s", e.Kind, e.Key, e.StatusCode, e.URL)
	case e.Err != nil:
		return fmt.Sprintf("fetching %s %s: %v", e.Kind, e.Key, e.Err)
	default:
		return fmt.Sprintf("fetching %s %s failed", e.Kind, e.Key)
	}
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// ErrEmptyBody is wrapped by a RetrievalError when the remote answered 2xx
// with no content.
var ErrEmptyBody = errors.New("empty response body")

// Fetcher is the run-scoped retrieval client. It is safe for concurrent
// use; concurrent fetches of different keys never share a file.
type Fetcher struct {
	client    *http.Client
	workDir   string
	userAgent string
	policy    httputil.RetryPolicy
	templates map[Kind]*uritemplate.Template
	cache     bool

	mu      sync.Mutex
	fetched map[string]bool
}

// New builds a Fetcher writing into workDir. The endpoint templates in cfg
// are parsed up front so a malformed template fails before any request.
func New(client *http.Client, workDir string, cfg types.RetrievalConfig) (*Fetcher, error) {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	templates := make(map[Kind]*uritemplate.Template, 3)
	for kind, raw := range map[Kind]string{
		KindSequence:   cfg.SequenceURL,
		KindPrediction: cfg.PredictionURL,
		KindReference:  cfg.ReferenceURL,
	} {
		tmpl, err := uritemplate.New(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s URL template %q: %w", kind, raw, err)
		}
		templates[kind] = tmpl
	}
	return &Fetcher{
		client:    client,
		workDir:   workDir,
		userAgent: cfg.UserAgent,
		policy: httputil.RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.RetryBaseDelay,
		},
		templates: templates,
		cache:     cfg.CacheReferences,
		fetched:   make(map[string]bool),
	}, nil
}

// WithSleep replaces the backoff wait. Tests use it to avoid real sleeps.
func (f *Fetcher) WithSleep(sleep func(context.Context, time.Duration) error) *Fetcher {
	f.policy.Sleep = sleep
	return f
}

// URL expands the endpoint template for kind with key.
func (f *Fetcher) URL(kind Kind, key string) (string, error) {
	tmpl, ok := f.templates[kind]
	if !ok {
		return "", fmt.Errorf("no URL template for %s", kind)
	}
	values := uritemplate.Values{}
	values.Set("id", uritemplate.String(key))
	return tmpl.Expand(values)
}

// Path returns where the artifact for (kind, key) is stored.
func (f *Fetcher) Path(kind Kind, key string) string {
	return filepath.Join(f.workDir, kind.Filename(key))
}

// Fetch downloads the artifact for (kind, key) and returns its local path.
// An existing file for the same key is overwritten. On error the target
// path must be treated as unusable.
func (f *Fetcher) Fetch(ctx context.Context, kind Kind, key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", &RetrievalError{Kind: kind, Key: key, Err: err}
	}
	dest := f.Path(kind, key)

	if kind == KindReference && f.cache && f.seen(key) {
		if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
			return dest, nil
		}
	}

	url, err := f.URL(kind, key)
	if err != nil {
		return "", &RetrievalError{Kind: kind, Key: key, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &RetrievalError{Kind: kind, Key: key, URL: url, Err: fmt.Errorf("creating request: %w", err)}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := httputil.DoWithRetry(ctx, f.client, req, f.policy)
	if err != nil {
		var exhausted *httputil.RetriesExhaustedError
		return "", &RetrievalError{Kind: kind, Key: key, URL: url, Transient: errors.As(err, &exhausted), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return "", &RetrievalError{Kind: kind, Key: key, URL: url, StatusCode: resp.StatusCode}
	}

	if err := fsutil.WriteNonEmpty(dest, resp.Body); err != nil {
		if errors.Is(err, fsutil.ErrEmpty) {
			err = ErrEmptyBody
		}
		return "", &RetrievalError{Kind: kind, Key: key, URL: url, Err: err}
	}

	if kind == KindReference {
		f.mu.Lock()
		f.fetched[key] = true
		f.mu.Unlock()
	}
	return dest, nil
}

func (f *Fetcher) seen(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetched[key]
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("empty key")
	}
	if strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return fmt.Errorf("key %q is not a plain name", key)
	}
	return nil
}
