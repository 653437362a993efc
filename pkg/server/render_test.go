package server

import (
	"bytes"
	"errors"
	"html/template"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/pagewire/pkg/registry"
	"github.com/vango-dev/pagewire/pkg/ui"
)

func renderPage(t *testing.T, page *ui.Page, useChannel bool) string {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Favicon = "/static/icon.png"
	rc, err := newRenderContext(7, page.Build(), page.Options, page.HTML(), useChannel, cfg)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, NewTemplateRenderer(nil).Render(&buf, rc))
	return buf.String()
}

func TestDefaultTemplate(t *testing.T) {
	page := ui.NewPage()
	_ = page.Add(ui.New("p", ui.WithText("hello")))
	page.Options.Title = "<script>alert(1)</script>"
	page.Options.CSS = "p { color: red; }"
	page.Options.BodyClasses = "bg-white"
	page.Options.Events = []string{"keydown"}
	page.Options.ReloadInterval = 2

	out := renderPage(t, page, true)

	assert.NotContains(t, out, "<title><script>")
	assert.Contains(t, out, "&lt;script&gt;")
	assert.Contains(t, out, `<link rel="icon" href="/static/icon.png">`)
	assert.Contains(t, out, "p { color: red; }")
	assert.Contains(t, out, `class="bg-white"`)
	assert.Contains(t, out, `"page_id":7`)
	assert.Contains(t, out, `"events":["keydown"]`)
	assert.Contains(t, out, `"reload_interval":2`)
	assert.Contains(t, out, `"text":"hello"`)
}

func TestDefaultTemplateRawHTML(t *testing.T) {
	page := ui.NewPage()
	page.SetHTML(`<h1 class="big">Static</h1>`)
	page.Options.Dark = true

	out := renderPage(t, page, false)
	assert.Contains(t, out, `<div id="pagewire-root"><h1 class="big">Static</h1></div>`)
	assert.Contains(t, out, `class="dark"`)
	assert.Contains(t, out, "var tree = [];")
	assert.Contains(t, out, `"use_channel":false`)
}

func TestTreeIsScriptSafe(t *testing.T) {
	page := ui.NewPage()
	_ = page.Add(ui.New("p", ui.WithText("</script><script>alert(1)</script>")))

	out := renderPage(t, page, true)
	assert.NotContains(t, out, "</script><script>alert(1)")
	assert.Contains(t, out, `</script>`)
}

type stubRenderer struct{ pageID int64 }

func (s *stubRenderer) Render(w io.Writer, rc *RenderContext) error {
	s.pageID = rc.PageID
	_, err := io.WriteString(w, "custom "+string(rc.ClientOptions))
	return err
}

func TestCustomRenderer(t *testing.T) {
	stub := &stubRenderer{}
	app := newTestApp(t, nil, WithRenderer(stub))
	app.Route("/", (&counter{}).route)

	rec := get(t, app, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "custom {")
	assert.Equal(t, pageIDOf(t, rec.Body.String()), stub.pageID)
}

func TestTemplateRendererCustomTemplate(t *testing.T) {
	tmpl := template.Must(template.New("x").Parse(`<p>{{.PageID}} {{.SocketPath}}</p>`))
	rc := &RenderContext{PageID: 3, SocketPath: "/ws"}

	var buf bytes.Buffer
	require.NoError(t, NewTemplateRenderer(tmpl).Render(&buf, rc))
	assert.Equal(t, "<p>3 /ws</p>", buf.String())
}

type failingRenderer struct{ pageID int64 }

func (f *failingRenderer) Render(_ io.Writer, rc *RenderContext) error {
	f.pageID = rc.PageID
	return errors.New("template exploded")
}

func TestRenderFailureForgetsPage(t *testing.T) {
	fr := &failingRenderer{}
	app := newTestApp(t, nil, WithRenderer(fr))
	app.Route("/", (&counter{}).route)

	rec := get(t, app, "/")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotZero(t, fr.pageID)
	_, err := app.Registry().Lookup(fr.pageID)
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.Zero(t, app.Registry().Stats().Pages)
}
