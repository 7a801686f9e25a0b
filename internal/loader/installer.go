package loader

import (
	"context"
	"fmt"
	"regexp"

	"github.com/JonMunkholm/prism/internal/engine"
)

// Installer turns a downloaded bundle into an engine handle.
type Installer interface {
	Install(ctx context.Context, bundle []byte, source string) (engine.Engine, error)
}

// InstallerFunc adapts a function to Installer.
type InstallerFunc func(ctx context.Context, bundle []byte, source string) (engine.Engine, error)

func (f InstallerFunc) Install(ctx context.Context, bundle []byte, source string) (engine.Engine, error) {
	return f(ctx, bundle, source)
}

// BundleInstaller accepts a bundle only if it defines GlobalName, then
// hands back the engine built by Build.
//
// A bundle that downloads fine but never declares the global is treated as
// a failed attempt (ErrEngineNotFound), the same as a broken download.
type BundleInstaller struct {
	GlobalName string
	Build      func() engine.Engine

	declares *regexp.Regexp
}

// NewBundleInstaller creates an installer for globalName whose handles
// come from build.
func NewBundleInstaller(globalName string, build func() engine.Engine) *BundleInstaller {
	name := regexp.QuoteMeta(globalName)
	return &BundleInstaller{
		GlobalName: globalName,
		Build:      build,
		declares: regexp.MustCompile(
			`(?:\b(?:window|globalThis|self|exports|module\.exports)\s*\.\s*` + name + `\s*=)` +
				`|(?:\b(?:var|let|const|class|function)\s+` + name + `\b)` +
				`|(?:\[\s*["']` + name + `["']\s*\]\s*=)`),
	}
}

// Declares reports whether bundle defines the global.
func (b *BundleInstaller) Declares(bundle []byte) bool {
	return b.declares.Match(bundle)
}

func (b *BundleInstaller) Install(ctx context.Context, bundle []byte, source string) (engine.Engine, error) {
	if !b.Declares(bundle) {
		return nil, fmt.Errorf("%w: %s does not define %s", ErrEngineNotFound, source, b.GlobalName)
	}
	h := b.Build()
	if h == nil {
		return nil, fmt.Errorf("%w: no handle for %s", ErrEngineNotFound, b.GlobalName)
	}
	return h, nil
}
