// Package connector is the network front of the container. It binds the
// listening socket, hands every HTTP exchange to an engine context and shuts
// both down in order.
//
// Each exchange runs on the goroutine net/http gives it. When the server is
// configured with a thread pool, a weighted semaphore bounds how many
// exchanges are inside the engine at once; the rest wait in arrival order.
// Setting enable-virtual-thread lifts the bound.
//
// Construction
//
//	c := connector.New(cfg, engineCtx, connector.WithLogger(log))
//	ln, err := c.Listen()
//	if err != nil {
//	    return err
//	}
//	go c.Serve(ln)
//	...
//	_ = c.Shutdown(ctx)
//
// Failures escaping the engine are logged; when the response is still open
// the client sees a bare 500.
package connector
