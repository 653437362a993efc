package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/vango-dev/pagewire/pkg/registry"
	"github.com/vango-dev/pagewire/pkg/server"
	"github.com/vango-dev/pagewire/pkg/session"
	"github.com/vango-dev/pagewire/pkg/ui"
)

const demoCSS = `body { font-family: system-ui, sans-serif; margin: 3rem; }
button { font-size: 1.25rem; padding: .5rem 1rem; margin-right: .5rem; }`

func mountDemo(app *server.App, values *session.Values) {
	app.Route("/", counterPage)
	app.Route("/clock", clockPage(app))
	app.Route("/visits", visitsPage(values))
}

func counterPage(*http.Request) (any, error) {
	page := ui.NewPage()
	page.Options.Title = "Counter"
	page.Options.CSS = demoCSS

	count := 0
	label := ui.New("p", ui.WithText("Clicked 0 times"))
	inc := ui.New("button", ui.WithText("+1"), ui.Handle("click",
		func(context.Context, *ui.Event) (ui.Result, error) {
			count++
			label.SetText("Clicked " + strconv.Itoa(count) + " times")
			return ui.Update, nil
		}))
	reset := ui.New("button", ui.WithText("reset"), ui.Handle("click",
		func(context.Context, *ui.Event) (ui.Result, error) {
			if count == 0 {
				return ui.NoUpdate, nil
			}
			count = 0
			label.SetText("Clicked 0 times")
			return ui.Update, nil
		}))

	if err := page.Add(ui.New("h1", ui.WithText("Counter")), label, inc, reset); err != nil {
		return nil, err
	}
	return page, nil
}

// clockPage starts a ticker per page that pushes the time to every open
// channel until the page is forgotten.
func clockPage(app *server.App) server.PageFunc {
	return func(r *http.Request) (any, error) {
		page := ui.NewPage()
		page.Options.Title = "Clock"
		page.Options.CSS = demoCSS

		now := ui.New("h1", ui.WithText(time.Now().Format(time.TimeOnly)))
		if err := page.Add(now, ui.New("p", ui.WithText("Updated by the server every second."))); err != nil {
			return nil, err
		}

		go func() {
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for waited := 0; ; waited++ {
				<-ticker.C
				if page.Disposed() {
					return
				}
				id := page.ID()
				if id == 0 {
					// never registered
					if waited > 10 {
						return
					}
					continue
				}
				err := app.Dispatcher().Update(context.Background(), id, func(*ui.Page) error {
					now.SetText(time.Now().Format(time.TimeOnly))
					return nil
				})
				if errors.Is(err, registry.ErrNotFound) {
					return
				}
			}
		}()
		return page, nil
	}
}

// visitsPage counts page loads per browser session.
func visitsPage(values *session.Values) server.PageFunc {
	return func(r *http.Request) (any, error) {
		ctx := r.Context()
		page := ui.NewPage()
		page.Options.Title = "Visits"
		page.Options.CSS = demoCSS

		sess := session.FromContext(ctx)
		if sess == nil {
			_ = page.Add(ui.New("p", ui.WithText("Sessions are disabled.")))
			return page, nil
		}

		var visits int
		if _, err := values.Get(ctx, sess.ID, "visits", &visits); err != nil {
			return nil, err
		}
		visits++
		if err := values.Set(ctx, sess.ID, "visits", visits); err != nil {
			return nil, err
		}

		label := ui.New("p", ui.WithText("Visits this session: "+strconv.Itoa(visits)))
		forget := ui.New("button", ui.WithText("forget me"), ui.Handle("click",
			func(ctx context.Context, e *ui.Event) (ui.Result, error) {
				if e.SessionID == "" {
					return ui.NoUpdate, nil
				}
				if err := values.Delete(ctx, e.SessionID, "visits"); err != nil {
					return ui.NoUpdate, err
				}
				label.SetText("Forgotten. Reload to start over.")
				return ui.Update, nil
			}))
		if err := page.Add(label, forget); err != nil {
			return nil, err
		}
		return page, nil
	}
}
