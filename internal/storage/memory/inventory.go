package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/infra-api/internal/inventory"
)

// Inventory is a mutex-guarded map-backed implementation of inventory.Inventory.
type Inventory struct {
	mu        sync.RWMutex
	providers map[int64]inventory.Provider
	vms       map[int64]inventory.VM
	routers   map[int64]inventory.NetworkRouter
	users     map[int64]inventory.User
	servers   map[int64]inventory.Server
	lastID    int64
}

// NewInventory constructs an empty Inventory.
func NewInventory() *Inventory {
	return &Inventory{
		providers: make(map[int64]inventory.Provider),
		vms:       make(map[int64]inventory.VM),
		routers:   make(map[int64]inventory.NetworkRouter),
		users:     make(map[int64]inventory.User),
		servers:   make(map[int64]inventory.Server),
	}
}

// NewInventoryFromSeed builds an Inventory populated with the seed records.
func NewInventoryFromSeed(seed Seed) *Inventory {
	inv := NewInventory()
	for _, p := range seed.Providers {
		inv.PutProvider(p)
	}
	for _, vm := range seed.VMs {
		inv.PutVM(vm)
	}
	for _, r := range seed.NetworkRouters {
		inv.PutNetworkRouter(r)
	}
	for _, u := range seed.Users {
		inv.PutUser(u)
	}
	for _, s := range seed.Servers {
		inv.PutServer(s)
	}
	return inv
}

// PutProvider inserts or replaces a provider.
func (s *Inventory) PutProvider(p inventory.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p.ID] = p
	s.track(p.ID)
}

// PutVM inserts or replaces a VM.
func (s *Inventory) PutVM(vm inventory.VM) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vms[vm.ID] = cloneVM(vm)
	s.track(vm.ID)
}

// PutNetworkRouter inserts or replaces a router.
func (s *Inventory) PutNetworkRouter(r inventory.NetworkRouter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routers[r.ID] = r
	s.track(r.ID)
}

// PutUser inserts or replaces a user.
func (s *Inventory) PutUser(u inventory.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// PutServer inserts or replaces a server.
func (s *Inventory) PutServer(srv inventory.Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[srv.ID] = srv
}

func (s *Inventory) track(id int64) {
	if id > s.lastID {
		s.lastID = id
	}
}

// GetProvider fetches a provider by id.
func (s *Inventory) GetProvider(_ context.Context, id int64) (inventory.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[id]
	if !ok {
		return inventory.Provider{}, fmt.Errorf("provider %d: %w", id, inventory.ErrNotFound)
	}
	return p, nil
}

// ListProviders returns providers ordered by id.
func (s *Inventory) ListProviders(_ context.Context) ([]inventory.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]inventory.Provider, 0, len(s.providers))
	for _, p := range s.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateProvider replaces an existing provider.
func (s *Inventory) UpdateProvider(_ context.Context, p inventory.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[p.ID]; !ok {
		return fmt.Errorf("provider %d: %w", p.ID, inventory.ErrNotFound)
	}
	s.providers[p.ID] = p
	return nil
}

// GetVM fetches a VM by id.
func (s *Inventory) GetVM(_ context.Context, id int64) (inventory.VM, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vm, ok := s.vms[id]
	if !ok {
		return inventory.VM{}, fmt.Errorf("vm %d: %w", id, inventory.ErrNotFound)
	}
	return cloneVM(vm), nil
}

// ListVMs returns VMs ordered by id.
func (s *Inventory) ListVMs(_ context.Context) ([]inventory.VM, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]inventory.VM, 0, len(s.vms))
	for _, vm := range s.vms {
		out = append(out, cloneVM(vm))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateVM replaces an existing VM.
func (s *Inventory) UpdateVM(_ context.Context, vm inventory.VM) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vms[vm.ID]; !ok {
		return fmt.Errorf("vm %d: %w", vm.ID, inventory.ErrNotFound)
	}
	s.vms[vm.ID] = cloneVM(vm)
	return nil
}

// DeleteVM removes a VM.
func (s *Inventory) DeleteVM(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vms[id]; !ok {
		return fmt.Errorf("vm %d: %w", id, inventory.ErrNotFound)
	}
	delete(s.vms, id)
	return nil
}

// GetNetworkRouter fetches a router by id.
func (s *Inventory) GetNetworkRouter(_ context.Context, id int64) (inventory.NetworkRouter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routers[id]
	if !ok {
		return inventory.NetworkRouter{}, fmt.Errorf("network router %d: %w", id, inventory.ErrNotFound)
	}
	return r, nil
}

// ListNetworkRouters returns routers ordered by id.
func (s *Inventory) ListNetworkRouters(_ context.Context) ([]inventory.NetworkRouter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]inventory.NetworkRouter, 0, len(s.routers))
	for _, r := range s.routers {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateNetworkRouter stores a new router, assigning an id when none is set.
func (s *Inventory) CreateNetworkRouter(_ context.Context, r inventory.NetworkRouter) (inventory.NetworkRouter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == 0 {
		s.lastID++
		r.ID = s.lastID
	} else if _, exists := s.routers[r.ID]; exists {
		return inventory.NetworkRouter{}, fmt.Errorf("network router %d already exists", r.ID)
	}
	s.routers[r.ID] = r
	s.track(r.ID)
	return r, nil
}

// UpdateNetworkRouter replaces an existing router.
func (s *Inventory) UpdateNetworkRouter(_ context.Context, r inventory.NetworkRouter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.routers[r.ID]; !ok {
		return fmt.Errorf("network router %d: %w", r.ID, inventory.ErrNotFound)
	}
	s.routers[r.ID] = r
	return nil
}

// DeleteNetworkRouter removes a router.
func (s *Inventory) DeleteNetworkRouter(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.routers[id]; !ok {
		return fmt.Errorf("network router %d: %w", id, inventory.ErrNotFound)
	}
	delete(s.routers, id)
	return nil
}

// GetUser fetches a user by id.
func (s *Inventory) GetUser(_ context.Context, id int64) (inventory.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return inventory.User{}, fmt.Errorf("user %d: %w", id, inventory.ErrNotFound)
	}
	return u, nil
}

// LookupUser finds a user by login, case-insensitively.
func (s *Inventory) LookupUser(_ context.Context, identity string) (inventory.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.UserID, identity) {
			return u, nil
		}
	}
	return inventory.User{}, fmt.Errorf("user %q: %w", identity, inventory.ErrNotFound)
}

// GetServer fetches a server by id.
func (s *Inventory) GetServer(_ context.Context, id int64) (inventory.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	srv, ok := s.servers[id]
	if !ok {
		return inventory.Server{}, fmt.Errorf("server %d: %w", id, inventory.ErrNotFound)
	}
	return srv, nil
}

// ListServers returns servers ordered by id.
func (s *Inventory) ListServers(_ context.Context) ([]inventory.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]inventory.Server, 0, len(s.servers))
	for _, srv := range s.servers {
		out = append(out, srv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneVM(vm inventory.VM) inventory.VM {
	out := vm
	if vm.ChildIDs != nil {
		out.ChildIDs = append([]int64(nil), vm.ChildIDs...)
	}
	if vm.Custom != nil {
		out.Custom = make(map[string]string, len(vm.Custom))
		for k, v := range vm.Custom {
			out.Custom[k] = v
		}
	}
	return out
}
