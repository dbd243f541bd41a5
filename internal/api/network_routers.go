package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/infra-api/internal/inventory"
	"github.com/JakeFAU/infra-api/internal/provider"
)

const (
	klassNetworkRouter = "NetworkRouter"
	klassProvider      = "ExtManagementSystem"
)

func (s *Server) networkRoutersCollection() *collection {
	return &collection{
		name:     collectionNetworkRouters,
		klass:    klassNetworkRouter,
		showList: "network_router_show_list",
		show:     "network_router_show",
		page:     s.pageNetworkRouters,
		get:      s.getNetworkRouter,
		actions: map[string]actionSpec{
			"create": {feature: "network_router_new", verb: "creating", create: true, run: s.createNetworkRouter},
			"edit": {
				feature: "network_router_edit", verb: "editing", onResource: true, onBulk: true, run: s.editNetworkRouter,
			},
			"delete": {
				feature: "network_router_delete", verb: "deleting", onResource: true, onBulk: true, run: s.deleteNetworkRouter,
			},
		},
		options:         s.networkRouterOptions,
		resourceOptions: s.networkRouterResourceOptions,
	}
}

func (s *Server) pageNetworkRouters(ctx context.Context, limit, offset int) ([]map[string]any, int, error) {
	routers, err := s.deps.Inventory.ListNetworkRouters(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list network routers: %w", err)
	}
	sort.Slice(routers, func(i, j int) bool { return routers[i].ID < routers[j].ID })
	all, err := renderAll(routers)
	if err != nil {
		return nil, 0, err
	}
	return pageSlice(all, limit, offset), len(routers), nil
}

func (s *Server) getNetworkRouter(ctx context.Context, id string) (map[string]any, error) {
	r, err := s.loadNetworkRouter(ctx, id)
	if err != nil {
		return nil, err
	}
	return render(r)
}

func (s *Server) loadNetworkRouter(ctx context.Context, id string) (inventory.NetworkRouter, error) {
	n, ok := parseInt64ID(id)
	if !ok {
		return inventory.NetworkRouter{}, &NotFoundError{Klass: klassNetworkRouter, ID: id}
	}
	r, err := s.deps.Inventory.GetNetworkRouter(ctx, n)
	if err != nil {
		return inventory.NetworkRouter{}, notFound(err, klassNetworkRouter, id)
	}
	return r, nil
}

func (s *Server) loadProvider(ctx context.Context, id int64) (inventory.Provider, error) {
	p, err := s.deps.Inventory.GetProvider(ctx, id)
	if err != nil {
		return inventory.Provider{}, notFound(err, klassProvider, strconv.FormatInt(id, 10))
	}
	return p, nil
}

// routerFeature checks feature against the router's provider and returns a
// refusal message when it is unavailable.
func (s *Server) routerFeature(ctx context.Context, r inventory.NetworkRouter, feature string) (inventory.Provider, string) {
	if r.ProviderID == nil {
		return inventory.Provider{}, provider.UnsupportedReason
	}
	p, err := s.deps.Inventory.GetProvider(ctx, *r.ProviderID)
	if err != nil {
		return inventory.Provider{}, provider.UnsupportedReason
	}
	if _, supported, reason := s.deps.Providers.RouterSupport(p, feature); !supported {
		return p, reason
	}
	return p, ""
}

func routerTarget(r inventory.NetworkRouter) queueTarget {
	return queueTarget{resourceType: inventory.TypeNetworkRouter, resourceID: r.ID, providerID: r.ProviderID}
}

func (s *Server) createNetworkRouter(ctx context.Context, call *actionCall) (any, error) {
	emsID, ok := refID(call.data["ems_id"], collectionProviders)
	if !ok {
		return nil, badRequest("Must specify a Provider (ems_id) for creating a Network Router")
	}
	p, err := s.loadProvider(ctx, emsID)
	if err != nil {
		return nil, err
	}
	if _, supported, reason := s.deps.Providers.RouterSupport(p, provider.FeatureCreate); !supported {
		return nil, badRequest("Create network router for Provider %s: %s", p.Name, reason)
	}

	attrs := withoutKeys(call.data, "ems_id")
	name := stringValue(attrs["name"])
	s.logger.Info(fmt.Sprintf("Creating Network Router %s for Provider %s", name, p.Name))
	desc := fmt.Sprintf("Creating Network Router %s for Provider: %s", name, p.Name)
	return s.queueObjectAction(ctx, call, queueTarget{
		resourceType: inventory.TypeProvider,
		resourceID:   p.ID,
		providerID:   &p.ID,
	}, desc, inventory.QueueOptions{
		MethodName: "create_network_router",
		Role:       roleEMSOperations,
		Args:       []any{attrs},
	}), nil
}

func (s *Server) editNetworkRouter(ctx context.Context, call *actionCall) (any, error) {
	r, err := s.loadNetworkRouter(ctx, call.id)
	if err != nil {
		return nil, err
	}
	if _, reason := s.routerFeature(ctx, r, provider.FeatureUpdate); reason != "" {
		return nil, badRequest("Update not supported for %s", r.Ident())
	}
	s.logger.Info("Updating " + r.Ident())
	return s.queueObjectAction(ctx, call, routerTarget(r), "Updating Network Router "+r.Name, inventory.QueueOptions{
		MethodName: "update_network_router",
		Role:       roleEMSOperations,
		Args:       []any{call.data},
	}), nil
}

func (s *Server) deleteNetworkRouter(ctx context.Context, call *actionCall) (any, error) {
	r, err := s.loadNetworkRouter(ctx, call.id)
	if err != nil {
		return nil, err
	}
	if _, reason := s.routerFeature(ctx, r, provider.FeatureDelete); reason != "" {
		return nil, badRequest("Delete not supported for %s", r.Ident())
	}
	s.logger.Info("Deleting " + r.Ident())
	return s.queueObjectAction(ctx, call, routerTarget(r), "Deleting Network Router "+r.Name, inventory.QueueOptions{
		MethodName: "delete_network_router",
		Role:       roleEMSOperations,
	}), nil
}

// networkRouterOptions serves the create form schema for the provider named
// by the ems_id query parameter.
func (s *Server) networkRouterOptions(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ems_id")
	if raw == "" {
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{}})
		return
	}
	emsID, ok := parseInt64ID(raw)
	if !ok {
		writeErr(w, &NotFoundError{Klass: klassProvider, ID: raw})
		return
	}
	p, err := s.loadProvider(r.Context(), emsID)
	if err != nil {
		writeErr(w, err)
		return
	}
	hasClass, supported, reason := s.deps.Providers.RouterSupport(p, provider.FeatureCreate)
	switch {
	case !hasClass:
		writeErr(w, badRequest("%s", reason))
		return
	case !supported:
		writeErr(w, badRequest("%s", provider.UnsupportedReason))
		return
	}
	schema, _ := s.deps.Providers.ParamsFor(p.Type, provider.FeatureCreate)
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"form_schema": schema}})
}

// networkRouterResourceOptions serves the update form schema for a router.
func (s *Server) networkRouterResourceOptions(w http.ResponseWriter, r *http.Request) {
	router, err := s.loadNetworkRouter(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	p, reason := s.routerFeature(r.Context(), router, provider.FeatureUpdate)
	if reason != "" {
		writeErr(w, badRequest("%s", reason))
		return
	}
	schema, _ := s.deps.Providers.ParamsFor(p.Type, provider.FeatureUpdate)
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"form_schema": schema}})
}
