// Package pagination parses page_size/page_token query parameters and encodes keyset cursors.
package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPageSize    = 20
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page_size")
	ErrInvalidPageToken = errors.New("pagination: invalid page_token")
)

// Params is a validated page request. Cursor is zero on the first page.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
}

// Options overrides the package defaults for one endpoint; zero fields keep the defaults.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (o Options) limits() (defaultSize, maxSize int) {
	defaultSize, maxSize = o.DefaultPageSize, o.MaxPageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxPageSize
	}
	if defaultSize <= 0 {
		defaultSize = DefaultPageSize
	}
	return min(defaultSize, maxSize), maxSize
}

func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse reads page_size and page_token. Oversized pages are clamped; zero, negative or
// non-numeric sizes are rejected.
func Parse(values url.Values, opts Options) (Params, error) {
	defaultSize, maxSize := opts.limits()
	params := Params{PageSize: defaultSize}

	if raw := strings.TrimSpace(values.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			return Params{}, fmt.Errorf("%w: %q is not an integer", ErrInvalidPageSize, raw)
		case size <= 0:
			return Params{}, fmt.Errorf("%w: must be positive", ErrInvalidPageSize)
		}
		params.PageSize = min(size, maxSize)
	}

	if token := strings.TrimSpace(values.Get("page_token")); token != "" {
		cursor, err := DecodeToken(token)
		if err != nil {
			return Params{}, err
		}
		params.PageToken, params.Cursor = token, cursor
	}
	return params, nil
}

// NormalizePageSize applies the package defaults to a size that skipped Parse.
func NormalizePageSize(size int) int {
	if size <= 0 {
		return DefaultPageSize
	}
	return min(size, DefaultMaxPageSize)
}
