package templates

import (
	"context"
	"io"
	"strconv"

	"github.com/a-h/templ"
)

// EngineStatus is what the badge and upload page show about the engine.
type EngineStatus struct {
	Phase string
	Stub  bool
	Error string
}

// StatusBadge renders the engine phase as a small pill. A stub engine is
// labelled as degraded so users know results are sample data.
func StatusBadge(st EngineStatus) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		class, label := "badge badge-idle", st.Phase
		switch {
		case st.Phase == "loaded" && st.Stub:
			class, label = "badge badge-degraded", "loaded (fallback)"
		case st.Phase == "loaded":
			class = "badge badge-ready"
		case st.Phase == "loading":
			class = "badge badge-loading"
		case st.Phase == "failed":
			class = "badge badge-failed"
		}
		return write(w,
			`<span id="engine-status" class="`, class, `" data-phase="`, templ.EscapeString(st.Phase), `">`,
			templ.EscapeString(label), `</span>`)
	})
}

// ErrorAlert renders an inline alert, placed next to the upload control.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := write(w,
			`<div class="alert alert-error" role="alert" data-code="`, templ.EscapeString(code), `">`,
			`<p class="alert-message">`, templ.EscapeString(message), `</p>`); err != nil {
			return err
		}
		if action != "" {
			if err := write(w, `<p class="alert-action">`, templ.EscapeString(action), `</p>`); err != nil {
				return err
			}
		}
		return write(w, `<p class="alert-code">Code: `, templ.EscapeString(code), `</p></div>`)
	})
}

// EngineErrorPage is the full-screen page shown when the engine could not
// be loaded at all.
func EngineErrorPage(message, action, code string) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return write(w,
			`<main class="engine-error"><h1>Analytics engine unavailable</h1>`,
			`<p class="engine-error-message">`, templ.EscapeString(message), `</p>`,
			`<p class="engine-error-action">`, templ.EscapeString(action), `</p>`,
			`<p class="engine-error-code">Code: `, templ.EscapeString(code), `</p>`,
			`<button type="button" hx-post="/api/engine/load?wait=true" hx-swap="none" `,
			`hx-on::after-request="window.location.reload()">Reload</button></main>`)
	})
	return page("Prism - engine error", body)
}

// DatasetSummary renders the result of an upload for HTMX swaps.
func DatasetSummary(fileName string, rows, columns int, warnings []string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := write(w,
			`<div id="dataset" class="dataset-summary"><h2>`, templ.EscapeString(fileName), `</h2>`,
			`<p><span class="rows">`, strconv.Itoa(rows), `</span> rows, `,
			`<span class="columns">`, strconv.Itoa(columns), `</span> columns</p>`); err != nil {
			return err
		}
		if len(warnings) > 0 {
			if err := write(w, `<ul class="warnings">`); err != nil {
				return err
			}
			for _, msg := range warnings {
				if err := write(w, `<li>`, templ.EscapeString(msg), `</li>`); err != nil {
					return err
				}
			}
			if err := write(w, `</ul>`); err != nil {
				return err
			}
		}
		return write(w, `</div>`)
	})
}

// UploadPage is the dashboard landing page.
func UploadPage(st EngineStatus, maxFileSizeMB int) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := write(w, `<header><h1>Prism</h1>`); err != nil {
			return err
		}
		if err := StatusBadge(st).Render(ctx, w); err != nil {
			return err
		}
		return write(w, `</header><main>`,
			`<form id="upload-form" hx-post="/api/upload" hx-encoding="multipart/form-data" `,
			`hx-target="#upload-result" hx-swap="innerHTML">`,
			`<input type="file" name="file" accept=".csv,.json,.txt">`,
			`<p class="hint">CSV, JSON or TXT up to `, strconv.Itoa(maxFileSizeMB), ` MB</p>`,
			`<button type="submit">Upload</button></form>`,
			`<div id="upload-result"></div></main>`)
	})
	return page("Prism", body)
}
