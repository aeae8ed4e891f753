// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package script

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rapidaai/streamkit/pkg/streamkit/skerrors"
)

// fetchTimeout bounds connect + full request + body read, per §4.6.
const fetchTimeout = 5 * time.Second

// defaultFetchConcurrency bounds concurrent in-flight fetches when neither
// GlobalScriptConfig.FetchConcurrency nor SK_FETCH_CONCURRENCY override it.
const defaultFetchConcurrency = 16

// fetchConcurrencyEnv lets an operator raise or lower the process-wide fetch
// semaphore without a code change, same env-override convention as
// SK_LOG_LEVEL.
const fetchConcurrencyEnv = "SK_FETCH_CONCURRENCY"

var allowedMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true,
}

// fetchClient is the host collaborator behind the `fetch` global: every
// script node built by one NewFactory call shares one semaphore and
// allowlist, so the concurrency bound covers all of those nodes together.
type fetchClient struct {
	http      *http.Client
	sem       *semaphore.Weighted
	allowlist []compiledRule
	secrets   map[string]secretSpec
}

// secretSpec is one configured {secret, header, template} mapping plus the
// URL restriction the secret itself (not the script) carries.
type secretSpec struct {
	value      string
	urlPattern string // empty means unrestricted
}

func newFetchClient(allowlist []compiledRule, secrets map[string]secretSpec, concurrency int) *fetchClient {
	if concurrency <= 0 {
		concurrency = fetchConcurrencyFromEnv()
	}
	return &fetchClient{
		http: &http.Client{
			Timeout: fetchTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		sem:       semaphore.NewWeighted(int64(concurrency)),
		allowlist: allowlist,
		secrets:   secrets,
	}
}

// fetchConcurrencyFromEnv reads SK_FETCH_CONCURRENCY for an operator
// override, falling back to defaultFetchConcurrency when unset, empty, or
// not a positive integer.
func fetchConcurrencyFromEnv() int {
	v := os.Getenv(fetchConcurrencyEnv)
	if v == "" {
		return defaultFetchConcurrency
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultFetchConcurrency
	}
	return n
}

// fetchRequest is the shape JS passes to fetch(url, options).
type fetchRequest struct {
	Method  string
	Headers map[string]string
	Body    string
}

// fetchResponse is the shape returned to JS.
type fetchResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// do performs one allowlisted, secret-injected, semaphore-bounded fetch. It
// blocks the calling goroutine (the script node's own goroutine) until the
// request completes or fetchTimeout elapses — this is the "synchronous
// looking to JS" contract from §4.6.
func (c *fetchClient) do(ctx context.Context, headerMappings []HeaderMapping, req fetchRequest, url string) (fetchResponse, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)
	if !allowedMethods[method] {
		return fetchResponse{}, skerrors.Recoverable("fetch: unsupported method %q", method)
	}
	if !allows(c.allowlist, url, method) {
		return fetchResponse{}, skerrors.Recoverable("fetch: %s %s not in allowlist", method, url)
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fetchResponse{}, skerrors.Recoverable("fetch: concurrency limit: %v", err)
	}
	defer c.sem.Release(1)

	httpReq, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader([]byte(req.Body)))
	if err != nil {
		return fetchResponse{}, skerrors.Recoverable("fetch: %v", err)
	}

	for _, hm := range headerMappings {
		spec, ok := c.secrets[hm.Secret]
		if !ok {
			continue
		}
		if spec.urlPattern != "" && !wildcardMatch(spec.urlPattern, url) {
			continue
		}
		httpReq.Header.Set(hm.Header, renderTemplate(hm.Template, spec.value))
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fetchResponse{}, skerrors.Recoverable("fetch: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fetchResponse{}, skerrors.Recoverable("fetch: reading body: %v", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return fetchResponse{Status: resp.StatusCode, Headers: headers, Body: string(body)}, nil
}

// renderTemplate substitutes "{value}" in a header-value template with the
// secret's resolved value; an empty template means "use the value as-is".
func renderTemplate(template, value string) string {
	if template == "" {
		return value
	}
	return strings.ReplaceAll(template, "{value}", value)
}
