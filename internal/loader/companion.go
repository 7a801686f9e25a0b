package loader

import (
	"context"
	"fmt"
)

// Companion makes sure a library the engine depends on is installed in the
// namespace before the engine itself is fetched.
type Companion interface {
	Ensure(ctx context.Context, ns *Namespace) error
}

// CompanionFunc adapts a function to Companion.
type CompanionFunc func(ctx context.Context, ns *Namespace) error

func (f CompanionFunc) Ensure(ctx context.Context, ns *Namespace) error { return f(ctx, ns) }

// noCompanion is used when no dependency is configured.
type noCompanion struct{}

func (noCompanion) Ensure(context.Context, *Namespace) error { return nil }

// Library is what a fetched companion script installs into the namespace.
type Library struct {
	Name   string
	Source string
	Size   int
}

// ScriptCompanion fetches a named library when the namespace lacks it.
type ScriptCompanion struct {
	Name    string
	URL     string
	Fetcher Fetcher
}

// NewCompanion returns the precondition for name. An empty name needs
// nothing; an empty url means name must already be installed.
func NewCompanion(name, url string, f Fetcher) Companion {
	if name == "" {
		return noCompanion{}
	}
	return &ScriptCompanion{Name: name, URL: url, Fetcher: f}
}

// Ensure is a no-op when the library is present. Otherwise it fetches URL
// and installs a Library; any failure is ErrDependencyUnavailable.
func (c *ScriptCompanion) Ensure(ctx context.Context, ns *Namespace) error {
	if ns.Has(c.Name) {
		return nil
	}
	if c.URL == "" || c.Fetcher == nil {
		return fmt.Errorf("%w: %s is not installed", ErrDependencyUnavailable, c.Name)
	}

	body, err := c.Fetcher.Fetch(ctx, c.URL)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDependencyUnavailable, c.Name, err)
	}
	if len(body) == 0 {
		return fmt.Errorf("%w: %s: empty script", ErrDependencyUnavailable, c.Name)
	}

	ns.Set(c.Name, Library{Name: c.Name, Source: c.URL, Size: len(body)})
	return nil
}
