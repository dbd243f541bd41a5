package api

import (
	"context"
	"fmt"
	"sort"

	"github.com/JakeFAU/infra-api/internal/inventory"
)

func (s *Server) providersCollection() *collection {
	return &collection{
		name:     collectionProviders,
		klass:    klassProvider,
		showList: "ems_show_list",
		show:     "ems_show",
		page:     s.pageProviders,
		get:      s.getProvider,
		actions: map[string]actionSpec{
			"refresh": {feature: "ems_refresh", verb: "refreshing", onResource: true, onBulk: true, run: s.refreshProvider},
		},
	}
}

func (s *Server) pageProviders(ctx context.Context, limit, offset int) ([]map[string]any, int, error) {
	providers, err := s.deps.Inventory.ListProviders(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list providers: %w", err)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i].ID < providers[j].ID })
	all, err := renderAll(providers)
	if err != nil {
		return nil, 0, err
	}
	return pageSlice(all, limit, offset), len(providers), nil
}

func (s *Server) getProvider(ctx context.Context, id string) (map[string]any, error) {
	n, ok := parseInt64ID(id)
	if !ok {
		return nil, &NotFoundError{Klass: klassProvider, ID: id}
	}
	p, err := s.loadProvider(ctx, n)
	if err != nil {
		return nil, err
	}
	return render(p)
}

func (s *Server) refreshProvider(ctx context.Context, call *actionCall) (any, error) {
	n, ok := parseInt64ID(call.id)
	if !ok {
		return nil, &NotFoundError{Klass: klassProvider, ID: call.id}
	}
	p, err := s.loadProvider(ctx, n)
	if err != nil {
		return nil, err
	}
	ident := fmt.Sprintf("Provider id:%d name:'%s'", p.ID, p.Name)
	s.logger.Info("Refreshing " + ident)
	return s.queueObjectAction(ctx, call, queueTarget{
		resourceType: inventory.TypeProvider,
		resourceID:   p.ID,
		providerID:   &p.ID,
	}, ident+" refreshing", inventory.QueueOptions{
		MethodName: "refresh_ems",
		Role:       roleEMSOperations,
	}), nil
}
