package provider

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/infra-api/internal/inventory"
)

// ErrUnknownMethod is returned for queue items naming a method no adapter handles.
var ErrUnknownMethod = errors.New("unknown method")

// Outcome is what a successfully executed method reports back to its task.
type Outcome struct {
	Message     string
	ContextData map[string]any
}

// Adapter executes queued methods against a provider.
type Adapter interface {
	Execute(ctx context.Context, item inventory.QueueItem) (Outcome, error)
}

type handler func(ctx context.Context, item inventory.QueueItem) (Outcome, error)

// Simulator is an Adapter that applies each method's effect directly to the
// inventory instead of calling out to a management system.
type Simulator struct {
	inv      inventory.Inventory
	clock    inventory.Clock
	logger   *zap.Logger
	handlers map[string]handler
}

// NewSimulator constructs a Simulator.
func NewSimulator(inv inventory.Inventory, clock inventory.Clock, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Simulator{inv: inv, clock: clock, logger: logger}
	s.handlers = map[string]handler{
		"start":                         s.powerTransition(inventory.PowerOn, "started"),
		"stop":                          s.powerTransition(inventory.PowerOff, "stopped"),
		"suspend":                       s.powerTransition(inventory.PowerSuspended, "suspended"),
		"pause":                         s.powerTransition(inventory.PowerPaused, "paused"),
		"shelve":                        s.powerTransition(inventory.PowerShelved, "shelved"),
		"shelve_offload":                s.powerTransition(inventory.PowerShelvedOffloaded, "shelve-offloaded"),
		"shutdown_guest":                s.powerTransition(inventory.PowerOff, "shut down"),
		"reset":                         s.powerTransition(inventory.PowerOn, "reset"),
		"reboot_guest":                  s.powerTransition(inventory.PowerOn, "rebooted"),
		"destroy":                       s.destroy,
		"scan":                          s.scan,
		"refresh_ems":                   s.refreshEMS,
		"remote_console_acquire_ticket": s.acquireConsoleTicket,
		"make_retire_request":           s.makeRetireRequest,
		"create_network_router":         s.createNetworkRouter,
		"update_network_router":         s.updateNetworkRouter,
		"delete_network_router":         s.deleteNetworkRouter,
	}
	return s
}

// Handles reports whether method is handled.
func (s *Simulator) Handles(method string) bool {
	_, ok := s.handlers[method]
	return ok
}

// Execute implements Adapter.
func (s *Simulator) Execute(ctx context.Context, item inventory.QueueItem) (Outcome, error) {
	h, ok := s.handlers[item.MethodName]
	if !ok {
		return Outcome{}, fmt.Errorf("%w %q for %s", ErrUnknownMethod, item.MethodName, item.ResourceType)
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, fmt.Errorf("execute %s: %w", item.MethodName, err)
	}
	s.logger.Debug("executing method",
		zap.String("task_id", item.TaskID),
		zap.String("method", item.MethodName),
		zap.String("resource_type", item.ResourceType),
		zap.Int64("resource_id", item.ResourceID),
	)
	return h(ctx, item)
}

func (s *Simulator) vm(ctx context.Context, item inventory.QueueItem) (inventory.VM, error) {
	if item.ResourceType != inventory.TypeVM {
		return inventory.VM{}, fmt.Errorf("%s is not supported on %s", item.MethodName, item.ResourceType)
	}
	vm, err := s.inv.GetVM(ctx, item.ResourceID)
	if err != nil {
		return inventory.VM{}, fmt.Errorf("load vm: %w", err)
	}
	return vm, nil
}

func (s *Simulator) powerTransition(state, verb string) handler {
	return func(ctx context.Context, item inventory.QueueItem) (Outcome, error) {
		vm, err := s.vm(ctx, item)
		if err != nil {
			return Outcome{}, err
		}
		vm.PowerState = state
		if err := s.inv.UpdateVM(ctx, vm); err != nil {
			return Outcome{}, fmt.Errorf("update vm: %w", err)
		}
		return Outcome{Message: fmt.Sprintf("%s %s", vm.Ident(), verb)}, nil
	}
}

func (s *Simulator) destroy(ctx context.Context, item inventory.QueueItem) (Outcome, error) {
	vm, err := s.vm(ctx, item)
	if err != nil {
		return Outcome{}, err
	}
	if err := s.inv.DeleteVM(ctx, vm.ID); err != nil {
		return Outcome{}, fmt.Errorf("delete vm: %w", err)
	}
	return Outcome{Message: vm.Ident() + " deleted"}, nil
}

func (s *Simulator) scan(ctx context.Context, item inventory.QueueItem) (Outcome, error) {
	vm, err := s.vm(ctx, item)
	if err != nil {
		return Outcome{}, err
	}
	now := s.clock.Now()
	vm.LastScanOn = &now
	if err := s.inv.UpdateVM(ctx, vm); err != nil {
		return Outcome{}, fmt.Errorf("update vm: %w", err)
	}
	return Outcome{Message: vm.Ident() + " scanned"}, nil
}

func (s *Simulator) refreshEMS(ctx context.Context, item inventory.QueueItem) (Outcome, error) {
	var providerID int64
	switch item.ResourceType {
	case inventory.TypeProvider:
		providerID = item.ResourceID
	case inventory.TypeVM:
		vm, err := s.vm(ctx, item)
		if err != nil {
			return Outcome{}, err
		}
		if vm.ProviderID == nil {
			return Outcome{}, errors.New(MsgNoProvider)
		}
		providerID = *vm.ProviderID
	default:
		return Outcome{}, fmt.Errorf("refresh_ems is not supported on %s", item.ResourceType)
	}

	p, err := s.inv.GetProvider(ctx, providerID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load provider: %w", err)
	}
	now := s.clock.Now()
	p.LastRefreshOn = &now
	if err := s.inv.UpdateProvider(ctx, p); err != nil {
		return Outcome{}, fmt.Errorf("update provider: %w", err)
	}
	return Outcome{Message: fmt.Sprintf("Provider id:%d name:'%s' refreshed", p.ID, p.Name)}, nil
}

func (s *Simulator) acquireConsoleTicket(ctx context.Context, item inventory.QueueItem) (Outcome, error) {
	vm, err := s.vm(ctx, item)
	if err != nil {
		return Outcome{}, err
	}
	if len(item.Args) < 3 {
		return Outcome{}, fmt.Errorf("remote_console_acquire_ticket expects 3 args, got %d", len(item.Args))
	}
	protocol := fmt.Sprint(item.Args[2])
	secret := uuid.NewString()
	return Outcome{
		Message: fmt.Sprintf("%s console ticket acquired", vm.Ident()),
		ContextData: map[string]any{
			"remote_console": map[string]any{
				"url":    fmt.Sprintf("ws/console/%s", secret),
				"secret": secret,
				"proto":  protocol,
			},
		},
	}, nil
}

func (s *Simulator) makeRetireRequest(ctx context.Context, item inventory.QueueItem) (Outcome, error) {
	vm, err := s.vm(ctx, item)
	if err != nil {
		return Outcome{}, err
	}
	if vm.Retired {
		return Outcome{}, fmt.Errorf("%s is already retired", vm.Ident())
	}
	vm.RetirementState = "retiring"
	if err := s.inv.UpdateVM(ctx, vm); err != nil {
		return Outcome{}, fmt.Errorf("update vm: %w", err)
	}
	return Outcome{Message: vm.Ident() + " retirement requested"}, nil
}

func (s *Simulator) createNetworkRouter(ctx context.Context, item inventory.QueueItem) (Outcome, error) {
	if item.ResourceType != inventory.TypeProvider {
		return Outcome{}, fmt.Errorf("create_network_router is not supported on %s", item.ResourceType)
	}
	p, err := s.inv.GetProvider(ctx, item.ResourceID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load provider: %w", err)
	}
	attrs, err := firstMapArg(item.Args)
	if err != nil {
		return Outcome{}, err
	}
	providerID := p.ID
	router := inventory.NetworkRouter{ProviderID: &providerID, Status: "active", AdminStateUp: true}
	if err := applyRouterAttrs(&router, attrs); err != nil {
		return Outcome{}, err
	}
	if router.Name == "" {
		return Outcome{}, errors.New("network router name is required")
	}
	created, err := s.inv.CreateNetworkRouter(ctx, router)
	if err != nil {
		return Outcome{}, fmt.Errorf("create network router: %w", err)
	}
	return Outcome{
		Message:     created.Ident() + " created",
		ContextData: map[string]any{"network_router_id": created.ID},
	}, nil
}

func (s *Simulator) router(ctx context.Context, item inventory.QueueItem) (inventory.NetworkRouter, error) {
	if item.ResourceType != inventory.TypeNetworkRouter {
		return inventory.NetworkRouter{}, fmt.Errorf("%s is not supported on %s", item.MethodName, item.ResourceType)
	}
	r, err := s.inv.GetNetworkRouter(ctx, item.ResourceID)
	if err != nil {
		return inventory.NetworkRouter{}, fmt.Errorf("load network router: %w", err)
	}
	return r, nil
}

func (s *Simulator) updateNetworkRouter(ctx context.Context, item inventory.QueueItem) (Outcome, error) {
	r, err := s.router(ctx, item)
	if err != nil {
		return Outcome{}, err
	}
	attrs, err := firstMapArg(item.Args)
	if err != nil {
		return Outcome{}, err
	}
	if err := applyRouterAttrs(&r, attrs); err != nil {
		return Outcome{}, err
	}
	if err := s.inv.UpdateNetworkRouter(ctx, r); err != nil {
		return Outcome{}, fmt.Errorf("update network router: %w", err)
	}
	return Outcome{Message: r.Ident() + " updated"}, nil
}

func (s *Simulator) deleteNetworkRouter(ctx context.Context, item inventory.QueueItem) (Outcome, error) {
	r, err := s.router(ctx, item)
	if err != nil {
		return Outcome{}, err
	}
	if err := s.inv.DeleteNetworkRouter(ctx, r.ID); err != nil {
		return Outcome{}, fmt.Errorf("delete network router: %w", err)
	}
	return Outcome{Message: r.Ident() + " deleted"}, nil
}

func firstMapArg(args []any) (map[string]any, error) {
	if len(args) == 0 || args[0] == nil {
		return map[string]any{}, nil
	}
	attrs, ok := args[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected object argument, got %T", args[0])
	}
	return attrs, nil
}

func applyRouterAttrs(r *inventory.NetworkRouter, attrs map[string]any) error {
	for key, value := range attrs {
		switch key {
		case "name":
			r.Name = fmt.Sprint(value)
		case "status":
			r.Status = fmt.Sprint(value)
		case "admin_state_up":
			b, err := toBool(value)
			if err != nil {
				return fmt.Errorf("admin_state_up: %w", err)
			}
			r.AdminStateUp = b
		case "cloud_tenant_id":
			id, err := toInt64(value)
			if err != nil {
				return fmt.Errorf("cloud_tenant_id: %w", err)
			}
			r.CloudTenantID = &id
		case "external_gateway_info":
			info, ok := value.(map[string]any)
			if !ok && value != nil {
				return fmt.Errorf("external_gateway_info: expected object, got %T", value)
			}
			r.ExternalGatewayInfo = info
		}
	}
	return nil
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return false, fmt.Errorf("parse bool: %w", err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("unexpected type %T", v)
	}
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case string:
		id, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse id: %w", err)
		}
		return id, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
