package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/infra-api/internal/inventory"
)

const seedYAML = `
providers:
  - id: 1
    name: openstack-east
    type: openstack
    kind: cloud
  - id: 2
    name: openstack-east Network Manager
    type: openstack
    kind: network
    parent_id: 1
vms:
  - id: 10
    name: web-1
    ems_id: 1
    power_state: "on"
    custom:
      custom_1: gold
network_routers:
  - id: 20
    name: edge
    ems_id: 2
    status: active
users:
  - id: 5
    userid: Alice
    name: Alice Example
    current_group_id: 3
servers:
  - id: 1
    name: appliance-1
    zone: default
`

func TestParseSeedPopulatesInventory(t *testing.T) {
	t.Parallel()

	seed, err := ParseSeed([]byte(seedYAML))
	require.NoError(t, err)
	inv := NewInventoryFromSeed(seed)
	ctx := context.Background()

	network, err := inv.GetProvider(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, network.ParentID)
	require.Equal(t, int64(1), *network.ParentID)

	vm, err := inv.GetVM(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, inventory.PowerOn, vm.PowerState)
	require.Equal(t, "gold", vm.Custom["custom_1"])

	user, err := inv.LookupUser(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(5), user.ID)

	servers, err := inv.ListServers(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 1)
}

func TestParseSeedRejectsDuplicateIDs(t *testing.T) {
	t.Parallel()

	_, err := ParseSeed([]byte(`
providers:
  - id: 1
    name: a
vms:
  - id: 1
    name: b
`))
	require.ErrorContains(t, err, "id 1 used by both provider and vm")

	_, err = ParseSeed([]byte("vms: [{name: nameless}]"))
	require.ErrorContains(t, err, "positive id")
}

func TestInventoryReturnsCopies(t *testing.T) {
	t.Parallel()

	inv := NewInventory()
	inv.PutVM(inventory.VM{ID: 1, Name: "db", Custom: map[string]string{"custom_2": "x"}, ChildIDs: []int64{2}})
	ctx := context.Background()

	vm, err := inv.GetVM(ctx, 1)
	require.NoError(t, err)
	vm.Custom["custom_2"] = "mutated"
	vm.ChildIDs[0] = 99

	again, err := inv.GetVM(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "x", again.Custom["custom_2"])
	require.Equal(t, []int64{2}, again.ChildIDs)
}

func TestInventoryNotFound(t *testing.T) {
	t.Parallel()

	inv := NewInventory()
	ctx := context.Background()

	_, err := inv.GetVM(ctx, 404)
	require.True(t, errors.Is(err, inventory.ErrNotFound))
	_, err = inv.GetProvider(ctx, 404)
	require.ErrorIs(t, err, inventory.ErrNotFound)
	_, err = inv.GetNetworkRouter(ctx, 404)
	require.ErrorIs(t, err, inventory.ErrNotFound)
	_, err = inv.LookupUser(ctx, "nobody")
	require.ErrorIs(t, err, inventory.ErrNotFound)
	require.ErrorIs(t, inv.DeleteVM(ctx, 404), inventory.ErrNotFound)
	require.ErrorIs(t, inv.UpdateVM(ctx, inventory.VM{ID: 404}), inventory.ErrNotFound)
	require.ErrorIs(t, inv.DeleteNetworkRouter(ctx, 404), inventory.ErrNotFound)
}

func TestCreateNetworkRouterAssignsIDs(t *testing.T) {
	t.Parallel()

	inv := NewInventory()
	inv.PutVM(inventory.VM{ID: 40, Name: "vm"})
	ctx := context.Background()

	created, err := inv.CreateNetworkRouter(ctx, inventory.NetworkRouter{Name: "r1"})
	require.NoError(t, err)
	require.Equal(t, int64(41), created.ID)

	_, err = inv.CreateNetworkRouter(ctx, inventory.NetworkRouter{ID: 41, Name: "dup"})
	require.Error(t, err)

	routers, err := inv.ListNetworkRouters(ctx)
	require.NoError(t, err)
	require.Len(t, routers, 1)

	require.NoError(t, inv.DeleteNetworkRouter(ctx, 41))
	routers, err = inv.ListNetworkRouters(ctx)
	require.NoError(t, err)
	require.Empty(t, routers)
}

func TestLoadSeedFileExample(t *testing.T) {
	t.Parallel()

	seed, err := LoadSeedFile(filepath.Join("..", "..", "..", "inventory.example.yaml"))
	require.NoError(t, err)
	inv := NewInventoryFromSeed(seed)

	tmpl, err := inv.GetVM(context.Background(), 12)
	require.NoError(t, err)
	require.True(t, tmpl.Template)

	routers, err := inv.ListNetworkRouters(context.Background())
	require.NoError(t, err)
	require.Len(t, routers, 1)
}
