package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	apperrors "github.com/vango-dev/pagewire/internal/errors"
	"github.com/vango-dev/pagewire/pkg/protocol"
	"github.com/vango-dev/pagewire/pkg/session"
	"github.com/vango-dev/pagewire/pkg/transport"
	"github.com/vango-dev/pagewire/pkg/ui"
)

// PageFunc builds the response for a page route. It returns a *ui.Page to
// render, or an http.Handler to take over the response entirely.
type PageFunc func(r *http.Request) (any, error)

// ErrNotAPage is returned when a PageFunc produced neither a page nor a
// handler.
var ErrNotAPage = errors.New("server: route did not return a page")

const emptyPageBody = `<span style="color:red">Web page is empty - you might want to add components</span>`

func (a *App) pageHandler(pattern string, fn PageFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := fn(r)
		if err != nil {
			a.serverError(w, r, apperrors.New("P003").WithDetail("Route "+pattern+".").Wrap(err))
			return
		}

		switch v := res.(type) {
		case *ui.Page:
			if v == nil {
				a.serverError(w, r, apperrors.New("P001").WithDetail("Route "+pattern+" returned a nil page.").Wrap(ErrNotAPage))
				return
			}
			a.servePage(w, r, v)
		case http.Handler:
			v.ServeHTTP(w, r)
		default:
			a.serverError(w, r, apperrors.New("P001").WithDetail("Route "+pattern+".").Wrap(ErrNotAPage))
		}
	}
}

func (a *App) servePage(w http.ResponseWriter, r *http.Request, page *ui.Page) {
	if page.Empty() {
		a.logger.Warn("web page is empty", "path", r.URL.Path)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, emptyPageBody)
		return
	}

	id, err := a.registry.Register(page)
	if err != nil {
		a.serverError(w, r, apperrors.New("P004").Wrap(err))
		return
	}

	var (
		nodes   []ui.Node
		opts    ui.Options
		html    string
		cookies []*http.Cookie
	)
	page.Exclusive(func() {
		nodes = page.Build()
		opts = page.Options
		html = page.HTML()
		cookies = page.Cookies()
	})

	// A page that never reaches the browser is dropped right away.
	fail := func(err error) {
		a.registry.Forget(id)
		a.serverError(w, r, err)
	}

	useChannel := opts.UseChannel && !a.config.AjaxOnly
	rc, err := newRenderContext(id, nodes, opts, html, useChannel, a.config)
	if err != nil {
		fail(err)
		return
	}
	var buf bytes.Buffer
	if err := a.renderer.Render(&buf, rc); err != nil {
		fail(err)
		return
	}

	if a.signer != nil {
		if err := a.signer.Attach(w, session.FromContext(r.Context()), cookies...); err != nil {
			fail(err)
			return
		}
	} else {
		for _, c := range cookies {
			http.SetCookie(w, c)
		}
	}

	a.pause(r.Context())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		a.logger.Debug("write page failed", "page_id", id, "error", err)
	}
	a.logger.Debug("page served", "page_id", id, "path", r.URL.Path, "channel", useChannel)
}

// handleEvent is the polling endpoint. The reply is either a page_update or
// the literal false.
func (a *App) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, protocol.MaxMessageSize))
	if err != nil {
		a.badRequest(w, apperrors.New("W001").Wrap(err))
		return
	}
	env, err := protocol.Decode(body)
	if err != nil {
		a.badRequest(w, apperrors.New("W001").Wrap(err))
		return
	}
	if sess := session.FromContext(r.Context()); sess != nil && !sess.New {
		env.SessionID = sess.ID
	}

	poll := transport.NewPoll(env.ConnectionID)
	defer poll.Close()
	if _, err := a.dispatcher.Dispatch(r.Context(), env, poll); err != nil {
		a.logger.Debug("event failed", "page_id", env.PageID, "error", err)
	}

	out, err := poll.Encode()
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(out)
}

// handleSocket upgrades to a websocket channel and serves it until the
// connection ends. The session cookie was verified by the middleware.
func (a *App) handleSocket(w http.ResponseWriter, r *http.Request) {
	var sid string
	if sess := session.FromContext(r.Context()); sess != nil && !sess.New {
		sid = sess.ID
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already wrote the HTTP error
		a.logger.Warn("websocket upgrade failed", "error", apperrors.New("W003").Wrap(err))
		return
	}

	ch := transport.NewChannel(conn, a.registry.NextConnID(),
		transport.WithChannelConfig(&a.config.Channel),
		transport.WithChannelLogger(a.logger),
		transport.WithSessionID(sid))

	// the channel owns its lifetime; Shutdown closes it through the registry
	if err := ch.Serve(context.WithoutCancel(r.Context()), a.dispatcher); err != nil {
		a.logger.Debug("channel ended", "conn_id", ch.ID(), "page_id", ch.PageID(), "error", err)
	}
}

func (a *App) pause(ctx context.Context) {
	if a.config.Latency <= 0 {
		return
	}
	t := time.NewTimer(a.config.Latency)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (a *App) serverError(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.Error("request failed",
		"path", r.URL.Path,
		"error", err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (a *App) badRequest(w http.ResponseWriter, err error) {
	a.logger.Debug("bad request", "error", err)
	http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
}
