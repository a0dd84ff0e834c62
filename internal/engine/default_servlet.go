package engine

import (
	"errors"
	"html"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ggoodman/jerrymouse/servlet"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/valyala/bytebufferpool"
)

// defaultServlet serves files from the web root and renders directory
// listings. Rendered listings are cached per directory and dropped when the
// watcher reports a change inside it.
type defaultServlet struct {
	log  *slog.Logger
	sc   servlet.Context
	root string

	listings *xsync.MapOf[string, []byte]
	// gen moves on every watcher event. A page rendered under an older
	// generation is served but not cached.
	gen    atomic.Uint64
	render func(uri, loc string) ([]byte, error)

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

func newDefaultServlet(log *slog.Logger) *defaultServlet {
	return &defaultServlet{
		log:      log,
		listings: xsync.NewMapOf[string, []byte](),
		render:   renderListing,
	}
}

func (d *defaultServlet) Init(cfg servlet.Config) error {
	d.sc = cfg.ServletContext()
	d.root = d.sc.RealPath("/")
	if d.root == "" {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		// Listings are then rendered on every request.
		d.log.Debug("fsnotify unavailable", slog.String("err", err.Error()))
		return nil
	}
	err = filepath.WalkDir(d.root, func(p string, e fs.DirEntry, err error) error {
		if err != nil || !e.IsDir() {
			return nil
		}
		return w.Add(p)
	})
	if err != nil {
		d.log.Debug("fsnotify add dirs failed", slog.String("err", err.Error()))
	}
	d.watcher = w
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	go d.watch()
	return nil
}

func (d *defaultServlet) watch() {
	defer close(d.doneCh)
	for {
		select {
		case <-d.stopCh:
			return
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create == fsnotify.Create {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = d.watcher.Add(ev.Name)
				}
			}
			d.invalidate(filepath.Dir(ev.Name))
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				d.invalidate(ev.Name)
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log.Debug("fsnotify error", slog.String("err", err.Error()))
		}
	}
}

// invalidate drops the cached listing of dir. The generation moves first so
// a render already in flight does not store its page afterwards.
func (d *defaultServlet) invalidate(dir string) {
	d.gen.Add(1)
	d.listings.Delete(dir)
}

func (d *defaultServlet) Destroy() {
	d.stopOnce.Do(func() {
		if d.watcher == nil {
			return
		}
		close(d.stopCh)
		<-d.doneCh
		_ = d.watcher.Close()
	})
}

func (d *defaultServlet) Service(req servlet.Request, resp servlet.Response) error {
	method := req.Method()
	if method != http.MethodGet && method != http.MethodHead {
		return resp.SendError(http.StatusMethodNotAllowed, "method "+method+" is not supported")
	}

	uri := req.RequestURI()
	if hidden(uri) {
		return resp.SendError(http.StatusNotFound, uri)
	}
	loc := d.sc.RealPath(uri)
	if loc == "" {
		return resp.SendError(http.StatusNotFound, uri)
	}
	fi, err := os.Stat(loc)
	if errors.Is(err, fs.ErrNotExist) {
		return resp.SendError(http.StatusNotFound, uri)
	}
	if err != nil {
		return servlet.NewError("stat "+uri, err)
	}

	if fi.IsDir() {
		if !strings.HasSuffix(uri, "/") {
			return resp.SendRedirect(uri + "/")
		}
		return d.serveListing(req, resp, uri, loc)
	}
	return d.serveFile(req, resp, fi, loc)
}

// hidden reports whether uri points into the private parts of the archive.
func hidden(uri string) bool {
	first := strings.SplitN(strings.TrimPrefix(path.Clean(uri), "/"), "/", 2)[0]
	return strings.EqualFold(first, "WEB-INF") || strings.EqualFold(first, "META-INF")
}

func (d *defaultServlet) serveFile(req servlet.Request, resp servlet.Response, fi fs.FileInfo, loc string) error {
	modified := fi.ModTime().UTC().Truncate(time.Second)
	if err := resp.SetContentType(d.sc.MimeType(fi.Name())); err != nil {
		return err
	}
	if err := resp.SetDateHeader("Last-Modified", modified); err != nil {
		return err
	}
	if since, err := req.DateHeader("If-Modified-Since"); err == nil && !since.IsZero() && !modified.After(since) {
		return resp.SetStatus(http.StatusNotModified)
	}
	resp.SetContentLength(fi.Size())
	if req.Method() == http.MethodHead {
		return nil
	}

	f, err := os.Open(loc)
	if err != nil {
		return servlet.NewError("open "+fi.Name(), err)
	}
	defer f.Close()

	out, err := resp.OutputStream()
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, f); err != nil {
		return err
	}
	return out.Flush()
}

func (d *defaultServlet) serveListing(req servlet.Request, resp servlet.Response, uri, loc string) error {
	page, err := d.listing(uri, loc)
	if err != nil {
		return servlet.NewError("list "+uri, err)
	}

	if err := resp.SetContentType("text/html; charset=UTF-8"); err != nil {
		return err
	}
	resp.SetContentLength(int64(len(page)))
	if req.Method() == http.MethodHead {
		return nil
	}
	w, err := resp.Writer()
	if err != nil {
		return err
	}
	if _, err := w.Write(page); err != nil {
		return err
	}
	return w.Flush()
}

// listing returns the cached page for loc or renders a fresh one. Pages are
// cached only while a watcher keeps them current.
func (d *defaultServlet) listing(uri, loc string) ([]byte, error) {
	if page, ok := d.listings.Load(loc); ok {
		return page, nil
	}
	gen := d.gen.Load()
	page, err := d.render(uri, loc)
	if err != nil {
		return nil, err
	}
	if d.watcher == nil {
		return page, nil
	}
	d.listings.Compute(loc, func(old []byte, loaded bool) ([]byte, bool) {
		if d.gen.Load() != gen {
			return old, !loaded
		}
		return page, false
	})
	return page, nil
}

func renderListing(uri, loc string) ([]byte, error) {
	entries, err := os.ReadDir(loc)
	if err != nil {
		return nil, err
	}

	b := bytebufferpool.Get()
	defer bytebufferpool.Put(b)

	title := html.EscapeString(uri)
	b.WriteString("<html><head><title>Index of ")
	b.WriteString(title)
	b.WriteString("</title></head><body><h1>Index of ")
	b.WriteString(title)
	b.WriteString("</h1><table>")
	if uri != "/" {
		b.WriteString(`<tr><td><a href="../">../</a></td><td></td><td></td></tr>`)
	}
	for _, e := range entries {
		name := e.Name()
		if uri == "/" && (strings.EqualFold(name, "WEB-INF") || strings.EqualFold(name, "META-INF")) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		href := url.PathEscape(name)
		size := ""
		if e.IsDir() {
			name += "/"
			href += "/"
		} else {
			size = strconv.FormatInt(info.Size(), 10)
		}
		href = html.EscapeString(href)
		b.WriteString(`<tr><td><a href="`)
		b.WriteString(href)
		b.WriteString(`">`)
		b.WriteString(html.EscapeString(name))
		b.WriteString("</a></td><td>")
		b.WriteString(size)
		b.WriteString("</td><td>")
		b.WriteString(info.ModTime().UTC().Format(http.TimeFormat))
		b.WriteString("</td></tr>")
	}
	b.WriteString("</table></body></html>")

	out := make([]byte, len(b.B))
	copy(out, b.B)
	return out, nil
}
