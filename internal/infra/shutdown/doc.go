// Package shutdown runs cleanup hooks when sessionkeep exits.
//
// Commands register hooks (close the token store, stop file watchers) and
// call Shutdown on the way out; the REPL additionally ends on SIGINT or
// SIGTERM:
//
//	h := shutdown.NewHandler(5 * time.Second)
//	h.OnShutdown("token store", store.Close)
//	ctx, stop := h.NotifyContext(context.Background())
//	defer stop()
//	...
//	err := h.Shutdown()
package shutdown
