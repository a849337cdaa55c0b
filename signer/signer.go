// Package signer mints time-limited URLs for data files.
package signer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/florinutz/deltashare/internal/circuitbreaker"
	"github.com/florinutz/deltashare/logstore"
	"github.com/florinutz/deltashare/sharingerr"
)

// Grant is a signed URL and the time it stops working.
type Grant struct {
	URL       string
	ExpiresAt time.Time
}

// Signer produces a grant for the object at location. Failures that may
// succeed on retry wrap sharingerr.ErrSignerUnavailable.
type Signer interface {
	Sign(ctx context.Context, location string, expiry time.Duration) (Grant, error)
}

// Func adapts a function to Signer.
type Func func(ctx context.Context, location string, expiry time.Duration) (Grant, error)

func (f Func) Sign(ctx context.Context, location string, expiry time.Duration) (Grant, error) {
	return f(ctx, location, expiry)
}

// Local signs local files as file:// URLs. The files are readable by anyone
// sharing the filesystem, so the expiry is advisory.
type Local struct {
	Now func() time.Time
}

func (l Local) Sign(_ context.Context, location string, expiry time.Duration) (Grant, error) {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	p, err := logstore.LocalPath(location)
	if err == nil {
		p, err = filepath.Abs(p)
	}
	if err != nil {
		return Grant{}, fmt.Errorf("resolve %s: %w", location, err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(p)}
	return Grant{URL: u.String(), ExpiresAt: now().Add(expiry)}, nil
}

// Mux dispatches on the location's URL scheme.
type Mux map[string]Signer

func (m Mux) Sign(ctx context.Context, location string, expiry time.Duration) (Grant, error) {
	scheme := logstore.Scheme(location)
	s, ok := m[scheme]
	if !ok {
		return Grant{}, fmt.Errorf("no signer for scheme %q", scheme)
	}
	return s.Sign(ctx, location, expiry)
}

// Guarded fails fast with ErrSignerUnavailable while cb is open, and records
// the outcome of every call it lets through. A call abandoned by its caller
// has no outcome.
func Guarded(s Signer, cb *circuitbreaker.CircuitBreaker) Signer {
	return Func(func(ctx context.Context, location string, expiry time.Duration) (Grant, error) {
		if !cb.Allow() {
			return Grant{}, fmt.Errorf("%w: circuit open", sharingerr.ErrSignerUnavailable)
		}
		g, err := s.Sign(ctx, location, expiry)
		switch {
		case err == nil:
			cb.RecordSuccess()
		case errors.Is(err, context.Canceled) || ctx.Err() != nil:
			cb.Release()
		case sharingerr.IsTransient(err) || errors.Is(err, context.DeadlineExceeded):
			cb.RecordFailure()
		default:
			// Permanent failures say nothing about the dependency's health.
			cb.RecordSuccess()
		}
		return g, err
	})
}
