package webapp

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"plugin"
	"sort"
	"strings"

	"github.com/ggoodman/jerrymouse/servlet"
)

// ComponentsSymbol is the function a plugin exports to contribute
// components.
const ComponentsSymbol = "Components"

// PluginOpener loads the components exported by the plugin at path.
type PluginOpener func(path string) ([]servlet.Component, error)

// Discover returns the candidate components of the application: the ones
// registered in this binary followed by the ones exported by plugins under
// WEB-INF/classes (recursively) and WEB-INF/lib, in path order. Plugins that
// fail to load are logged and skipped.
func (a *App) Discover(open PluginOpener) ([]servlet.Component, error) {
	if open == nil {
		open = OpenPlugin
	}
	comps := servlet.Registered()

	paths, err := a.pluginPaths()
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		pc, err := open(p)
		if err != nil {
			a.log.Warn("webapp.plugin.fail", slog.String("path", p), slog.String("err", err.Error()))
			continue
		}
		a.log.Info("webapp.plugin", slog.String("path", p), slog.Int("components", len(pc)))
		comps = append(comps, pc...)
	}
	return comps, nil
}

func (a *App) pluginPaths() ([]string, error) {
	var paths []string

	classes := filepath.Join(a.Root, filepath.FromSlash(ClassesDir))
	err := filepath.WalkDir(classes, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isPlugin(d.Name()) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", ClassesDir, err)
	}

	lib := filepath.Join(a.Root, filepath.FromSlash(LibDir))
	entries, err := os.ReadDir(lib)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", LibDir, err)
	}
	var libs []string
	for _, e := range entries {
		if !e.IsDir() && isPlugin(e.Name()) {
			libs = append(libs, filepath.Join(lib, e.Name()))
		}
	}

	sort.Strings(paths)
	sort.Strings(libs)
	return append(paths, libs...), nil
}

func isPlugin(name string) bool {
	return strings.HasSuffix(name, ".so")
}

// OpenPlugin loads a Go plugin and calls its Components function.
func OpenPlugin(path string) ([]servlet.Component, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	sym, err := p.Lookup(ComponentsSymbol)
	if err != nil {
		return nil, err
	}
	fn, ok := sym.(func() []servlet.Component)
	if !ok {
		return nil, fmt.Errorf("%w: %s has type %T, want func() []servlet.Component", servlet.ErrInvalidArgument, ComponentsSymbol, sym)
	}
	return fn(), nil
}
