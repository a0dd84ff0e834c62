package engine

import "github.com/ggoodman/jerrymouse/servlet"

// filterChain runs filters in order and finishes with the servlet. A filter
// calling DoFilter more than once re-enters the chain at the cursor, which
// gives undefined ordering.
type filterChain struct {
	filters []servlet.Filter
	servlet servlet.Servlet
	next    int
}

func newFilterChain(filters []servlet.Filter, s servlet.Servlet) *filterChain {
	return &filterChain{filters: filters, servlet: s}
}

func (c *filterChain) DoFilter(req servlet.Request, resp servlet.Response) error {
	if c.next < len(c.filters) {
		i := c.next
		c.next++
		return c.filters[i].DoFilter(req, resp, c)
	}
	return c.servlet.Service(req, resp)
}
