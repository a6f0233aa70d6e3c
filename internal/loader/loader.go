package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapmetrics/pkg/model"
)

// Loader reads project directories.
type Loader struct {
	logger *slog.Logger
	// skip holds base names that are never declarations, such as the
	// project config file.
	skip map[string]bool
	// weekStartDay is applied to models that do not set one.
	weekStartDay string
}

// Option configures a Loader.
type Option func(*Loader)

// WithSkip ignores files with the given base names.
func WithSkip(names ...string) Option {
	return func(l *Loader) {
		for _, n := range names {
			l.skip[n] = true
		}
	}
}

// WithWeekStartDay sets the week start day of models that do not declare
// their own.
func WithWeekStartDay(day string) Option {
	return func(l *Loader) { l.weekStartDay = day }
}

// New creates a Loader. A nil logger discards output.
func New(logger *slog.Logger, opts ...Option) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	l := &Loader{logger: logger, skip: make(map[string]bool)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Files lists the YAML files under dir in lexical order. Hidden
// directories are skipped.
func (l *Loader) Files(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != dir && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(name)
		if (ext == ".yml" || ext == ".yaml") && !l.skip[name] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

// LoadDir parses every declaration file under dir concurrently. Files
// without a type key are skipped with a warning. Objects keep file order.
func (l *Loader) LoadDir(ctx context.Context, dir string) (*Objects, error) {
	files, err := l.Files(dir)
	if err != nil {
		return nil, err
	}

	results := make([]*Objects, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				rel = path
			}
			objs, err := Parse(filepath.ToSlash(rel), data)
			if errors.Is(err, ErrNoType) {
				l.logger.Warn("skipping file without a type", slog.String("file", rel))
				return nil
			}
			if err != nil {
				return err
			}
			results[i] = objs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := &Objects{}
	for _, objs := range results {
		if objs != nil {
			all.Merge(objs)
		}
	}
	if l.weekStartDay != "" {
		for _, m := range all.Models {
			if m.WeekStartDay == "" {
				m.WeekStartDay = l.weekStartDay
			}
		}
	}
	l.logger.Debug("loaded project", slog.String("dir", dir), slog.Int("files", len(files)), slog.Int("objects", all.Len()))
	return all, nil
}

// Project loads dir and builds a project from it.
func (l *Loader) Project(ctx context.Context, dir string, opts ...model.Option) (*model.Project, error) {
	objs, err := l.LoadDir(ctx, dir)
	if err != nil {
		return nil, err
	}
	opts = append([]model.Option{model.WithLogger(l.logger)}, opts...)
	return model.NewProject(objs.Models, objs.Views, objs.Topics, objs.Dashboards, opts...)
}

// Reload re-reads dir into an existing project. On failure the project
// keeps its previous objects.
func (l *Loader) Reload(ctx context.Context, p *model.Project, dir string) error {
	objs, err := l.LoadDir(ctx, dir)
	if err != nil {
		return err
	}
	return p.ReplaceObjects(objs.Models, objs.Views, objs.Topics, objs.Dashboards)
}
