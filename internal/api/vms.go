package api

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/infra-api/internal/inventory"
	"github.com/JakeFAU/infra-api/internal/provider"
	"github.com/JakeFAU/infra-api/internal/region"
)

// Queue roles.
const (
	roleEMSOperations = "ems_operations"
	roleSmartState    = "smartstate"
	roleAutomate      = "automate"
)

const defaultConsoleProtocol = "vnc"

// vmQueuedAction describes a VM action that validates and then queues a
// provider method.
type vmQueuedAction struct {
	action  string
	feature string
	verb    string
	logVerb string
	// validate names the capability checked before queueing; empty skips it.
	validate string
	method   string
	role     string
	message  string
	// central actions on another region's VMs are forwarded to that region.
	central bool
}

var vmQueuedActions = []vmQueuedAction{
	{"start", "vm_start", "starting", "Starting", provider.FeatureStart, "start", roleEMSOperations, "starting", true},
	{"stop", "vm_stop", "stopping", "Stopping", provider.FeatureStop, "stop", roleEMSOperations, "stopping", true},
	{"suspend", "vm_suspend", "suspending", "Suspending", provider.FeatureSuspend, "suspend", roleEMSOperations, "suspending", true},
	{"pause", "vm_pause", "pausing", "Pausing", provider.FeaturePause, "pause", roleEMSOperations, "pausing", false},
	{"shelve", "vm_shelve", "shelving", "Shelving", provider.FeatureShelve, "shelve", roleEMSOperations, "shelving", false},
	{
		"shelve_offload", "vm_shelve_offload", "shelve-offloading", "Shelve-offloading",
		provider.FeatureShelveOffload, "shelve_offload", roleEMSOperations, "shelve-offloading", false,
	},
	{"delete", "vm_delete", "deleting", "Deleting", "", "destroy", "", "deleting", false},
	{"scan", "vm_scan", "scanning", "Scanning", provider.FeatureScan, "scan", roleSmartState, "scanning", false},
	{"reset", "vm_reset", "resetting", "Resetting", provider.FeatureReset, "reset", roleEMSOperations, "resetting", true},
	{
		"reboot_guest", "vm_guest_restart", "rebooting", "Rebooting",
		provider.FeatureRebootGuest, "reboot_guest", roleEMSOperations, "rebooting", true,
	},
	{
		"shutdown_guest", "vm_guest_shutdown", "shutting down", "Shutting down",
		provider.FeatureShutdownGuest, "shutdown_guest", roleEMSOperations, "shutting down", true,
	},
	{"refresh", "vm_refresh", "refreshing", "Refreshing", "", "refresh_ems", roleEMSOperations, "refreshing", false},
}

var vmEditableAttributes = map[string]bool{
	"name":            true,
	"description":     true,
	"child_resources": true,
	"parent_resource": true,
	"custom_1":        true,
	"custom_2":        true,
	"custom_3":        true,
	"custom_4":        true,
	"custom_5":        true,
	"custom_6":        true,
	"custom_7":        true,
	"custom_8":        true,
	"custom_9":        true,
}

func (s *Server) vmsCollection() *collection {
	c := &collection{
		name:     collectionVMs,
		klass:    "Vm",
		showList: "vm_show_list",
		show:     "vm_show",
		page:     s.pageVMs,
		get:      s.getVM,
		actions:  map[string]actionSpec{},
	}
	for _, a := range vmQueuedActions {
		c.actions[a.action] = actionSpec{
			feature:    a.feature,
			verb:       a.verb,
			onResource: true,
			onBulk:     true,
			run:        s.queueVMAction(a),
		}
	}
	direct := []struct {
		action, feature, verb string
		run                   actionFunc
	}{
		{"edit", "vm_edit", "editing", s.editVM},
		{"set_owner", "vm_ownership", "setting the owner of", s.setVMOwner},
		{"add_lifecycle_event", "vm_lifecycle_event", "adding a Lifecycle Event to", s.addVMLifecycleEvent},
		{"add_event", "vm_add_event", "adding an event to", s.addVMEvent},
		{"retire", "vm_retire", "retiring", s.retireVM},
		{"set_miq_server", "vm_set_server", "setting the miq_server of", s.setVMServer},
		{"request_console", "vm_console", "requesting a console for", s.requestVMConsole},
		{"request_retire", "vm_retire_request", "requesting retirement of", s.requestVMRetire},
	}
	for _, a := range direct {
		c.actions[a.action] = actionSpec{feature: a.feature, verb: a.verb, onResource: true, onBulk: true, run: a.run}
	}
	return c
}

func (s *Server) pageVMs(ctx context.Context, limit, offset int) ([]map[string]any, int, error) {
	vms, err := s.deps.Inventory.ListVMs(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list vms: %w", err)
	}
	sort.Slice(vms, func(i, j int) bool { return vms[i].ID < vms[j].ID })
	window := vms[min(offset, len(vms)):]
	if limit < len(window) {
		window = window[:limit]
	}
	out := make([]map[string]any, 0, len(window))
	for _, vm := range window {
		m, err := renderVM(vm)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, len(vms), nil
}

func (s *Server) getVM(ctx context.Context, id string) (map[string]any, error) {
	vm, err := s.loadVM(ctx, id)
	if err != nil {
		return nil, err
	}
	return renderVM(vm)
}

func renderVM(vm inventory.VM) (map[string]any, error) {
	m, err := render(vm)
	if err != nil {
		return nil, err
	}
	for k, v := range vm.Custom {
		m[k] = v
	}
	return m, nil
}

func (s *Server) loadVM(ctx context.Context, id string) (inventory.VM, error) {
	n, ok := parseInt64ID(id)
	if !ok {
		return inventory.VM{}, &NotFoundError{Klass: "Vm", ID: id}
	}
	vm, err := s.deps.Inventory.GetVM(ctx, n)
	if err != nil {
		return inventory.VM{}, notFound(err, "Vm", id)
	}
	return vm, nil
}

// vmProvider returns the VM's provider, or nil when it has none.
func (s *Server) vmProvider(ctx context.Context, vm inventory.VM) *inventory.Provider {
	if vm.ProviderID == nil {
		return nil
	}
	p, err := s.deps.Inventory.GetProvider(ctx, *vm.ProviderID)
	if err != nil {
		if !errors.Is(err, inventory.ErrNotFound) {
			s.logger.Warn("load vm provider failed", zap.Int64("vm_id", vm.ID), zap.Error(err))
		}
		return nil
	}
	return &p
}

func vmTarget(vm inventory.VM) queueTarget {
	return queueTarget{resourceType: inventory.TypeVM, resourceID: vm.ID, providerID: vm.ProviderID}
}

func (s *Server) queueVMAction(a vmQueuedAction) actionFunc {
	return func(ctx context.Context, call *actionCall) (any, error) {
		if a.central {
			if res, forwarded := s.forwardCentral(ctx, call, a.action); forwarded {
				return res, nil
			}
		}
		vm, err := s.loadVM(ctx, call.id)
		if err != nil {
			return nil, err
		}
		s.logger.Info(fmt.Sprintf("%s %s", a.logVerb, vm.Ident()))

		if a.validate != "" {
			if v := s.deps.Providers.ValidateVM(vm, s.vmProvider(ctx, vm), a.validate); !v.Available {
				return failed(v.Message), nil
			}
		}
		desc := fmt.Sprintf("%s %s", vm.Ident(), a.message)
		return s.queueObjectAction(ctx, call, vmTarget(vm), desc, inventory.QueueOptions{
			MethodName: a.method,
			Role:       a.role,
		}), nil
	}
}

// forwardCentral relays the action when the id belongs to another region.
func (s *Server) forwardCentral(ctx context.Context, call *actionCall, action string) (ActionResult, bool) {
	id, ok := parseInt64ID(call.id)
	if !ok {
		return ActionResult{}, false
	}
	r := inventory.RegionOf(id)
	if r == s.cfg.Region.Number {
		return ActionResult{}, false
	}
	if s.deps.Forwarder == nil {
		return failed((&region.NotConfiguredError{Region: r}).Error()), true
	}
	s.logger.Info("forwarding action to region",
		zap.Int64("region", r),
		zap.String("collection", call.collection),
		zap.Int64("id", id),
		zap.String("action", action),
	)
	remote, err := s.deps.Forwarder.Forward(ctx, r, call.collection, id, action, call.data)
	if err != nil {
		return failed(err.Error()), true
	}
	return forwardedResult(remote), true
}

// editVM reports every failure, a missing VM included, as a 400.
func (s *Server) editVM(ctx context.Context, call *actionCall) (any, error) {
	var invalid []string
	for _, k := range sortedKeys(call.data) {
		if !vmEditableAttributes[k] {
			invalid = append(invalid, k)
		}
	}
	if len(invalid) > 0 {
		return nil, badRequest("Cannot edit VM - Cannot edit values %s", strings.Join(invalid, ", "))
	}

	vm, err := s.loadVM(ctx, call.id)
	if err != nil {
		return nil, badRequest("Cannot edit VM - %s", err.Error())
	}
	s.logger.Info("Editing " + vm.Ident())

	if err := s.applyVMEdit(ctx, &vm, call.data); err != nil {
		return nil, badRequest("Cannot edit VM - %s", err.Error())
	}
	if err := s.deps.Inventory.UpdateVM(ctx, vm); err != nil {
		return nil, badRequest("Cannot edit VM - %s", err.Error())
	}
	out, err := renderVM(vm)
	if err != nil {
		return nil, err
	}
	out["href"] = href(call.base, collectionVMs, call.id)
	return out, nil
}

func (s *Server) applyVMEdit(ctx context.Context, vm *inventory.VM, data map[string]any) error {
	for _, k := range sortedKeys(data) {
		v := data[k]
		switch {
		case k == "name":
			vm.Name = stringValue(v)
		case k == "description":
			vm.Description = stringValue(v)
		case strings.HasPrefix(k, "custom_"):
			if vm.Custom == nil {
				vm.Custom = map[string]string{}
			}
			vm.Custom[k] = stringValue(v)
		case k == "parent_resource":
			if isEmptyRef(v) {
				vm.ParentID = nil
				continue
			}
			parent, err := s.relatedVM(ctx, v)
			if err != nil {
				return err
			}
			vm.ParentID = &parent
		case k == "child_resources":
			list, ok := v.([]any)
			if !ok {
				return errors.New("child_resources must be a list")
			}
			children := make([]int64, 0, len(list))
			for _, item := range list {
				child, err := s.relatedVM(ctx, item)
				if err != nil {
					return err
				}
				children = append(children, child)
			}
			vm.ChildIDs = children
		}
	}
	return nil
}

// relatedVM resolves a {"href": ...} relationship reference to a VM id.
func (s *Server) relatedVM(ctx context.Context, ref any) (int64, error) {
	obj, ok := ref.(map[string]any)
	if !ok {
		return 0, errors.New("relationship must specify an href")
	}
	raw, _ := obj["href"].(string)
	coll, id, parsed := parseHref(raw)
	if !parsed {
		return 0, fmt.Errorf("invalid relationship href %q", raw)
	}
	if coll != collectionVMs && coll != collectionTemplates {
		return 0, badRequest("Invalid relationship type %s", coll)
	}
	vm, err := s.loadVM(ctx, id)
	if err != nil {
		return 0, err
	}
	return vm.ID, nil
}

func (s *Server) setVMOwner(ctx context.Context, call *actionCall) (any, error) {
	owner := strings.TrimSpace(stringValue(call.data["owner"]))
	if owner == "" {
		return nil, badRequest("Must specify an owner")
	}
	vm, err := s.loadVM(ctx, call.id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Setting owner of " + vm.Ident())

	user, err := s.deps.Inventory.LookupUser(ctx, owner)
	if err != nil {
		return failed(fmt.Sprintf("Invalid user %s specified", owner)), nil
	}
	vm.OwnerID = &user.ID
	vm.GroupID = user.CurrentGroupID
	if err := s.deps.Inventory.UpdateVM(ctx, vm); err != nil {
		return failed(err.Error()), nil
	}
	return succeeded(fmt.Sprintf("%s setting owner to '%s'", vm.Ident(), owner)), nil
}

func (s *Server) addVMLifecycleEvent(ctx context.Context, call *actionCall) (any, error) {
	vm, err := s.loadVM(ctx, call.id)
	if err != nil {
		return nil, err
	}
	evt := inventory.LifecycleEvent{
		VMID:      vm.ID,
		Event:     stringValue(call.data["event"]),
		Status:    stringValue(call.data["status"]),
		Message:   stringValue(call.data["message"]),
		CreatedBy: stringValue(call.data["created_by"]),
		CreatedOn: s.deps.Clock.Now().UTC(),
	}
	s.logger.Info("Adding Lifecycle Event to " + vm.Ident())
	if err := s.deps.Events.AddLifecycleEvent(ctx, evt); err != nil {
		return failed(err.Error()), nil
	}
	return succeeded(fmt.Sprintf("%s adding lifecycle event=%s message=%s", vm.Ident(), evt.Event, evt.Message)), nil
}

func (s *Server) addVMEvent(ctx context.Context, call *actionCall) (any, error) {
	vm, err := s.loadVM(ctx, call.id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Adding Event to " + vm.Ident())

	ts := s.deps.Clock.Now().UTC()
	if raw := strings.TrimSpace(stringValue(call.data["event_time"])); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return failed(fmt.Sprintf("Invalid event_time %s specified", raw)), nil
		}
		ts = parsed.UTC()
	}
	evt := inventory.Event{
		VMID:      vm.ID,
		EventType: stringValue(call.data["event_type"]),
		Message:   stringValue(call.data["event_message"]),
		Timestamp: ts,
	}
	if err := s.deps.Events.AddEvent(ctx, evt); err != nil {
		return failed(err.Error()), nil
	}
	return succeeded(fmt.Sprintf("Adding Event type=%s message=%s", evt.EventType, evt.Message)), nil
}

func (s *Server) retireVM(ctx context.Context, call *actionCall) (any, error) {
	vm, err := s.loadVM(ctx, call.id)
	if err != nil {
		return nil, err
	}
	date := strings.TrimSpace(stringValue(call.data["date"]))
	if date == "" {
		s.logger.Info("Retiring " + vm.Ident())
		vm.RetirementState = "retiring"
		if err := s.deps.Inventory.UpdateVM(ctx, vm); err != nil {
			return failed(err.Error()), nil
		}
		return succeeded(vm.Ident() + " retiring"), nil
	}

	when, err := parseDate(date)
	if err != nil {
		return failed(fmt.Sprintf("Invalid retirement date %s specified", date)), nil
	}
	s.logger.Info(fmt.Sprintf("Setting retirement date of %s to %s", vm.Ident(), date))
	vm.RetiresOn = &when
	if warn, ok := call.data["warn"]; ok && warn != nil {
		days, err := strconv.Atoi(strings.TrimSpace(fmt.Sprint(warn)))
		if err != nil {
			return failed(fmt.Sprintf("Invalid retirement warn %v specified", warn)), nil
		}
		vm.RetirementWarn = days
	}
	if err := s.deps.Inventory.UpdateVM(ctx, vm); err != nil {
		return failed(err.Error()), nil
	}
	return succeeded(fmt.Sprintf("%s retiring on %s", vm.Ident(), date)), nil
}

func (s *Server) setVMServer(ctx context.Context, call *actionCall) (any, error) {
	vm, err := s.loadVM(ctx, call.id)
	if err != nil {
		return nil, err
	}
	serverFailed := func(err error) ActionResult {
		return failed("Failed to set miq_server - " + err.Error())
	}

	ref, present := call.data["miq_server"]
	if !present {
		return serverFailed(badRequest("Must specify a miq_server")), nil
	}
	if isEmptyRef(ref) {
		vm.ServerID = nil
		if err := s.deps.Inventory.UpdateVM(ctx, vm); err != nil {
			return serverFailed(err), nil
		}
		return succeeded("Removed miq_server for " + vm.Ident()), nil
	}

	serverID, ok := refID(ref, collectionServers)
	if !ok {
		return serverFailed(badRequest("Must specify a valid miq_server href or id")), nil
	}
	srv, err := s.deps.Inventory.GetServer(ctx, serverID)
	if err != nil {
		return serverFailed(notFound(err, "MiqServer", strconv.FormatInt(serverID, 10))), nil
	}
	vm.ServerID = &srv.ID
	if err := s.deps.Inventory.UpdateVM(ctx, vm); err != nil {
		return serverFailed(err), nil
	}
	return succeeded(fmt.Sprintf("Set miq_server id:%d for %s", srv.ID, vm.Ident())), nil
}

func (s *Server) requestVMConsole(ctx context.Context, call *actionCall) (any, error) {
	vm, err := s.loadVM(ctx, call.id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Requesting Console for " + vm.Ident())

	protocol := strings.TrimSpace(stringValue(call.data["protocol"]))
	if protocol == "" {
		protocol = defaultConsoleProtocol
	}
	if v := s.deps.Providers.ValidateConsole(vm, s.vmProvider(ctx, vm), protocol); !v.Available {
		return failed(v.Message), nil
	}
	desc := fmt.Sprintf("%s requesting console", vm.Ident())
	return s.queueObjectAction(ctx, call, vmTarget(vm), desc, inventory.QueueOptions{
		MethodName: "remote_console_acquire_ticket",
		Role:       roleEMSOperations,
		Args:       []any{call.identity.UserID, s.cfg.Region.ServerID, protocol},
	}), nil
}

func (s *Server) requestVMRetire(ctx context.Context, call *actionCall) (any, error) {
	vm, err := s.loadVM(ctx, call.id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Retiring request of " + vm.Ident())

	var requester any = call.identity.UserID
	if user, err := s.deps.Inventory.LookupUser(ctx, call.identity.UserID); err == nil {
		requester = user.ID
	}
	desc := fmt.Sprintf("%s request retire", vm.Ident())
	return s.queueObjectAction(ctx, call, vmTarget(vm), desc, inventory.QueueOptions{
		MethodName: "make_retire_request",
		Role:       roleAutomate,
		Args:       []any{requester},
	}), nil
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", raw, err)
	}
	return t, nil
}

func isEmptyRef(ref any) bool {
	switch t := ref.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// refID resolves an id, numeric string, or {"id"|"href"} reference into
// the given collection.
func refID(ref any, collectionName string) (int64, bool) {
	switch t := ref.(type) {
	case float64:
		return int64(t), t > 0
	case string:
		if n, ok := parseInt64ID(t); ok {
			return n, true
		}
		coll, id, parsed := parseHref(t)
		if !parsed || coll != collectionName {
			return 0, false
		}
		return parseInt64ID(id)
	case map[string]any:
		id, ok := entryID(t, collectionName)
		if !ok {
			return 0, false
		}
		return parseInt64ID(id)
	}
	return 0, false
}
