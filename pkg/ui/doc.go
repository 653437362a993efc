// Package ui holds the server-side component tree.
//
// A Page owns a forest of Components. Every Component has a process-wide
// unique id that the browser echoes back with each event, so the page keeps a
// lookup table from id to component. The page also caches the serialized tree
// that is sent to clients; any mutation of an attached component drops the
// cache and the next Build re-serializes.
//
// Once a page is registered and reachable from clients, every read or write of
// its tree must happen inside an event handler or inside Page.Exclusive.
//
//	page := ui.NewPage()
//	count := 0
//	btn := ui.New("button", ui.WithText("Clicked 0 times"))
//	btn.On("click", func(ctx context.Context, e *ui.Event) (ui.Result, error) {
//		count++
//		e.Target.SetText(fmt.Sprintf("Clicked %d times", count))
//		return ui.Update, nil
//	})
//	page.Add(btn)
package ui
