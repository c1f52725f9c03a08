package service

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kitbay/kitbay/internal/export"
	"github.com/kitbay/kitbay/internal/model"
	"github.com/kitbay/kitbay/internal/store"
)

// EventLogger records analytics events without blocking the caller.
type EventLogger interface {
	Log(ctx context.Context, e model.AnalyticsEvent)
}

// ExportService loads a component with whatever the export options ask for
// and hands it to the format dispatcher.
type ExportService struct {
	store      *store.Store
	dispatcher *export.Dispatcher
	events     EventLogger
	logger     *slog.Logger
}

func NewExportService(st *store.Store, d *export.Dispatcher, events EventLogger, logger *slog.Logger) *ExportService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExportService{store: st, dispatcher: d, events: events, logger: logger}
}

// Dispatcher returns the format dispatcher used for exports.
func (s *ExportService) Dispatcher() *export.Dispatcher {
	return s.dispatcher
}

// Load fetches a component, checks that caller may read it, then fetches
// variants and dependencies concurrently when opts request them.
func (s *ExportService) Load(ctx context.Context, caller *Principal, componentID string, opts export.Options) (*export.Source, error) {
	c, err := s.store.GetComponent(ctx, componentID)
	if err != nil {
		return nil, fmt.Errorf("component %s: %w", componentID, err)
	}
	if err := Authorize(caller, c); err != nil {
		return nil, err
	}

	src := &export.Source{Component: *c}
	g, gctx := errgroup.WithContext(ctx)
	if opts.IncludeVariants {
		g.Go(func() error {
			v, err := s.store.ListVariants(gctx, c.ID)
			if err != nil {
				return err
			}
			src.Variants = v
			return nil
		})
	}
	if opts.IncludeDependencies {
		g.Go(func() error {
			d, err := s.store.ListDependencies(gctx, c.ID)
			if err != nil {
				return err
			}
			src.Dependencies = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return src, nil
}

// Export produces one artifact for componentID. On success it records an
// analytics event and bumps the component's usage counter; neither failure
// is surfaced.
func (s *ExportService) Export(ctx context.Context, caller *Principal, componentID string, req export.Request) (*export.Artifact, error) {
	if _, ok := s.dispatcher.ContentType(req.Format); !ok {
		return nil, fmt.Errorf("%w: %q", export.ErrUnsupportedFormat, req.Format)
	}
	src, err := s.Load(ctx, caller, componentID, req.Options)
	if err != nil {
		return nil, err
	}
	art, err := s.dispatcher.Export(src, req)
	if err != nil {
		return nil, err
	}

	if err := s.store.IncrementUsage(ctx, componentID); err != nil {
		s.logger.Warn("increment usage", "component_id", componentID, "error", err)
	}
	if s.events != nil {
		s.events.Log(ctx, model.AnalyticsEvent{
			EventType:   model.EventComponentExport,
			ComponentID: componentID,
			UserID:      caller.ID(),
			Properties: map[string]interface{}{
				"format":   string(req.Format),
				"filename": art.Filename,
				"size":     art.Size,
			},
		})
	}
	return art, nil
}
