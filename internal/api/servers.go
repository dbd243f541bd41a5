package api

import (
	"context"
	"fmt"
	"sort"
)

const klassServer = "MiqServer"

func (s *Server) serversCollection() *collection {
	return &collection{
		name:     collectionServers,
		klass:    klassServer,
		showList: "server_show_list",
		show:     "server_show",
		page:     s.pageServers,
		get:      s.getServer,
		actions:  map[string]actionSpec{},
	}
}

func (s *Server) pageServers(ctx context.Context, limit, offset int) ([]map[string]any, int, error) {
	servers, err := s.deps.Inventory.ListServers(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list servers: %w", err)
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].ID < servers[j].ID })
	all, err := renderAll(servers)
	if err != nil {
		return nil, 0, err
	}
	return pageSlice(all, limit, offset), len(servers), nil
}

func (s *Server) getServer(ctx context.Context, id string) (map[string]any, error) {
	n, ok := parseInt64ID(id)
	if !ok {
		return nil, &NotFoundError{Klass: klassServer, ID: id}
	}
	srv, err := s.deps.Inventory.GetServer(ctx, n)
	if err != nil {
		return nil, notFound(err, klassServer, id)
	}
	return render(srv)
}
