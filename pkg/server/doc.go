// Package server exposes pagewire pages over HTTP.
//
// An App owns the page registry, the event dispatcher and a chi router with
// three kinds of routes:
//
//   - page routes registered with Route, which build a *ui.Page per request
//     and render it with the configured Renderer
//   - the event endpoint (POST, Config.EventPath) used by polling clients
//   - the websocket endpoint (GET, Config.SocketPath) serving channels
//
// Session cookies are signed with Config.SecretKey. A page response issues
// one when the browser has none; the event and websocket endpoints reject a
// cookie that fails verification with 400.
//
// Basic usage:
//
//	cfg := server.DefaultConfig()
//	cfg.SecretKey = os.Getenv("PAGEWIRE_SECRET_KEY")
//	app, err := server.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	app.Route("/", func(r *http.Request) (any, error) {
//	    page := ui.NewPage()
//	    page.Add(ui.New("p", ui.WithText("hello")))
//	    return page, nil
//	})
//	log.Fatal(app.Run(context.Background()))
package server
