package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/infra-api/internal/inventory"
)

func TestStartVMQueuesTask(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/vms/10", "admin", map[string]any{"action": "start"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	require.Equal(t, true, body["success"])
	require.Equal(t, "VM id:10 name:'web' starting", body["message"])
	require.Equal(t, "http://infra.test/api/vms/10", body["href"])
	taskID := body["task_id"].(string)
	require.Equal(t, "http://infra.test/api/tasks/"+taskID, body["task_href"])

	item := f.dequeue(t)
	require.Equal(t, taskID, item.TaskID)
	require.Equal(t, inventory.TypeVM, item.ResourceType)
	require.Equal(t, int64(10), item.ResourceID)
	require.Equal(t, "start", item.MethodName)
	require.Equal(t, roleEMSOperations, item.Role)
	require.Equal(t, "admin", item.UserID)
	require.Equal(t, int64(1), *item.ProviderID)
	require.Equal(t, now.UnixMilli(), item.Submitted)

	task, err := f.tasks.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	require.Equal(t, inventory.TaskQueued, task.State)
	require.Equal(t, inventory.TaskOk, task.Status)
	require.Equal(t, "VM id:10 name:'web' starting", task.Name)
	require.Equal(t, "Queued the action: [VM id:10 name:'web' starting] being run for user: [admin]", task.Message)
}

func TestQueuedVMActions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		id      string
		action  string
		method  string
		role    string
		message string
	}{
		{"stop", "11", "stop", "stop", roleEMSOperations, "VM id:11 name:'db' stopping"},
		{"suspend", "11", "suspend", "suspend", roleEMSOperations, "VM id:11 name:'db' suspending"},
		{"pause", "11", "pause", "pause", roleEMSOperations, "VM id:11 name:'db' pausing"},
		{"shelve", "11", "shelve", "shelve", roleEMSOperations, "VM id:11 name:'db' shelving"},
		{"scan", "10", "scan", "scan", roleSmartState, "VM id:10 name:'web' scanning"},
		{"reset", "11", "reset", "reset", roleEMSOperations, "VM id:11 name:'db' resetting"},
		{"reboot guest", "11", "reboot_guest", "reboot_guest", roleEMSOperations, "VM id:11 name:'db' rebooting"},
		{"shutdown guest", "11", "shutdown_guest", "shutdown_guest", roleEMSOperations, "VM id:11 name:'db' shutting down"},
		{"refresh", "10", "refresh", "refresh_ems", roleEMSOperations, "VM id:10 name:'web' refreshing"},
		{"delete", "13", "delete", "destroy", "", "VM id:13 name:'orphan' deleting"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newAPIFixture(t)
			rec := f.do(t, http.MethodPost, "/api/vms/"+tt.id, "admin", map[string]any{"action": tt.action})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			body := decode(t, rec)
			require.Equal(t, true, body["success"], rec.Body.String())
			require.Equal(t, tt.message, body["message"])

			item := f.dequeue(t)
			require.Equal(t, tt.method, item.MethodName)
			require.Equal(t, tt.role, item.Role)
		})
	}
}

func TestVMActionValidationFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		id      string
		action  string
		message string
	}{
		{"already on", "11", "start", "The VM is already powered on"},
		{"not on", "10", "stop", "The VM is not powered on"},
		{"template", "12", "start", "The action is not available for templates"},
		{"no provider", "13", "start", "The VM is not connected to an active Provider"},
		{"not shelved", "10", "shelve_offload", "The VM is not shelved"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newAPIFixture(t)
			rec := f.do(t, http.MethodPost, "/api/vms/"+tt.id, "admin", map[string]any{"action": tt.action})
			require.Equal(t, http.StatusOK, rec.Code)
			body := decode(t, rec)
			require.Equal(t, false, body["success"])
			require.Equal(t, tt.message, body["message"])
			require.Nil(t, body["task_id"])
			require.Zero(t, f.queue.Len())
		})
	}
}

func TestBulkActionMissingIDIsBadRequest(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/vms", "admin", map[string]any{
		"action": "start",
		"resources": []any{
			map[string]any{"href": "http://infra.test/api/vms/10"},
			map[string]any{"name": "no-id"},
		},
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	res := results(t, rec)
	require.Len(t, res, 2)
	require.Equal(t, true, res[0]["success"])
	require.Equal(t, false, res[1]["success"])
	require.Equal(t, "Must specify an id for starting a vms resource", res[1]["message"])
}

func TestBulkActionNotFoundEntryFailsAlone(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/vms", "admin", map[string]any{
		"action":    "stop",
		"resources": []any{map[string]any{"id": "11"}, map[string]any{"id": 999}},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	res := results(t, rec)
	require.Equal(t, true, res[0]["success"])
	require.Equal(t, "http://infra.test/api/vms/11", res[0]["href"])
	require.Equal(t, false, res[1]["success"])
	require.Equal(t, "Couldn't find Vm with 'id'=999", res[1]["message"])
	require.Equal(t, 1, f.queue.Len())
}

func TestDeleteVMVerbReturnsNoContent(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rec := f.do(t, http.MethodDelete, "/api/vms/10", "admin", nil)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "destroy", f.dequeue(t).MethodName)

	rec = f.do(t, http.MethodDelete, "/api/vms/999", "admin", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEditVM(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/vms/10", "admin", map[string]any{
		"action": "edit",
		"resource": map[string]any{
			"name":            "web-01",
			"description":     "frontend",
			"custom_1":        "gold",
			"parent_resource": map[string]any{"href": "http://infra.test/api/templates/12"},
			"child_resources": []any{map[string]any{"href": "/api/vms/13"}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	require.Equal(t, "web-01", body["name"])
	require.Equal(t, "gold", body["custom_1"])
	require.Equal(t, "12", body["parent_id"])
	require.Equal(t, []any{"13"}, body["child_ids"])
	require.Equal(t, "http://infra.test/api/vms/10", body["href"])

	vm, err := f.inv.GetVM(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, "frontend", vm.Description)
	require.Equal(t, []int64{13}, vm.ChildIDs)
}

func TestEditVMRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    map[string]any
		message string
	}{
		{
			"unknown attributes",
			map[string]any{"name": "x", "vendor": "y", "bogus": 1},
			"Cannot edit VM - Cannot edit values bogus, vendor",
		},
		{
			"wrong relationship collection",
			map[string]any{"parent_resource": map[string]any{"href": "/api/providers/1"}},
			"Cannot edit VM - Invalid relationship type providers",
		},
		{
			"missing relationship target",
			map[string]any{"parent_resource": map[string]any{"href": "/api/vms/404"}},
			"Cannot edit VM - Couldn't find Vm with 'id'=404",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newAPIFixture(t)
			rec := f.do(t, http.MethodPost, "/api/vms/10", "admin", map[string]any{"action": "edit", "resource": tt.data})
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Equal(t, tt.message, errorMessage(t, rec))
		})
	}
}

func TestEditMissingVMIsBadRequest(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/vms/999", "admin", map[string]any{
		"action":   "edit",
		"resource": map[string]any{"name": "x"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Cannot edit VM - Couldn't find Vm with 'id'=999", errorMessage(t, rec))

	// unknown attributes are reported before the lookup
	rec = f.do(t, http.MethodPost, "/api/vms/999", "admin", map[string]any{
		"action":   "edit",
		"resource": map[string]any{"bogus": 1},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Cannot edit VM - Cannot edit values bogus", errorMessage(t, rec))
}

func TestEditVMClearsParent(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/vms/10", "admin", map[string]any{
		"action":   "edit",
		"resource": map[string]any{"parent_resource": map[string]any{"href": "/api/vms/11"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	vm, err := f.inv.GetVM(context.Background(), 10)
	require.NoError(t, err)
	require.NotNil(t, vm.ParentID)
	require.Equal(t, int64(11), *vm.ParentID)

	for _, empty := range []any{map[string]any{}, nil} {
		rec = f.do(t, http.MethodPost, "/api/vms/10", "admin", map[string]any{
			"action":   "edit",
			"resource": map[string]any{"parent_resource": empty},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		vm, err = f.inv.GetVM(context.Background(), 10)
		require.NoError(t, err)
		require.Nil(t, vm.ParentID)
	}
}

func TestSetOwner(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/vms/10", "admin", map[string]any{"action": "set_owner"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Must specify an owner", errorMessage(t, rec))

	rec = f.do(t, http.MethodPost, "/api/vms/10", "admin", map[string]any{"action": "set_owner", "owner": "nobody"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, false, body["success"])
	require.Equal(t, "Invalid user nobody specified", body["message"])

	rec = f.do(t, http.MethodPost, "/api/vms/10", "admin", map[string]any{"action": "set_owner", "owner": "jdoe"})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	require.Equal(t, true, body["success"])
	require.Equal(t, "VM id:10 name:'web' setting owner to 'jdoe'", body["message"])

	vm, err := f.inv.GetVM(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, int64(5), *vm.OwnerID)
	require.Equal(t, int64(7), *vm.GroupID)
}

func TestAddLifecycleEvent(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/vms/10", "admin", map[string]any{
		"action":     "add_lifecycle_event",
		"event":      "provisioned",
		"status":     "success",
		"message":    "done",
		"created_by": "jdoe",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, true, body["success"])
	require.Equal(t, "VM id:10 name:'web' adding lifecycle event=provisioned message=done", body["message"])

	events := f.events.LifecycleEvents(10)
	require.Len(t, events, 1)
	require.Equal(t, inventory.LifecycleEvent{
		VMID:      10,
		Event:     "provisioned",
		Status:    "success",
		Message:   "done",
		CreatedBy: "jdoe",
		CreatedOn: now,
	}, events[0])
}

func TestAddEvent(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/vms/10", "admin", map[string]any{
		"action":        "add_event",
		"event_type":    "power_on",
		"event_message": "powered on by hand",
		"event_time":    "2024-04-30T08:00:00Z",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, true, body["success"])
	require.Equal(t, "Adding Event type=power_on message=powered on by hand", body["message"])

	events := f.events.Events(10)
	require.Len(t, events, 1)
	require.Equal(t, time.Date(2024, 4, 30, 8, 0, 0, 0, time.UTC), events[0].Timestamp)

	rec = f.do(t, http.MethodPost, "/api/vms/10", "admin", map[string]any{
		"action":     "add_event",
		"event_type": "power_on",
		"event_time": "yesterday",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, decode(t, rec)["success"])

	rec = f.do(t, http.MethodPost, "/api/vms/10", "admin", map[string]any{"action": "add_event", "event_type": "note"})
	require.Equal(t, true, decode(t, rec)["success"])
	require.Equal(t, now, f.events.Events(10)[1].Timestamp)
}

func TestRetireVM(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/vms/10", "admin", map[string]any{"action": "retire", "date": "2024-06-01", "warn": 7})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "VM id:10 name:'web' retiring on 2024-06-01", decode(t, rec)["message"])

	vm, err := f.inv.GetVM(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), *vm.RetiresOn)
	require.Equal(t, 7, vm.RetirementWarn)

	rec = f.do(t, http.MethodPost, "/api/vms/11", "admin", map[string]any{"action": "retire"})
	require.Equal(t, "VM id:11 name:'db' retiring", decode(t, rec)["message"])
	vm, err = f.inv.GetVM(context.Background(), 11)
	require.NoError(t, err)
	require.Equal(t, "retiring", vm.RetirementState)
}

func TestSetMiqServer(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/vms/10", "admin", map[string]any{
		"action":     "set_miq_server",
		"miq_server": map[string]any{"href": "http://infra.test/api/servers/2"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Set miq_server id:2 for VM id:10 name:'web'", decode(t, rec)["message"])
	vm, err := f.inv.GetVM(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, int64(2), *vm.ServerID)

	rec = f.do(t, http.MethodPost, "/api/vms/10", "admin", map[string]any{"action": "set_miq_server"})
	body := decode(t, rec)
	require.Equal(t, false, body["success"])
	require.Equal(t, "Failed to set miq_server - Must specify a miq_server", body["message"])
	vm, err = f.inv.GetVM(context.Background(), 10)
	require.NoError(t, err)
	require.NotNil(t, vm.ServerID, "a missing miq_server key must not remove the server")

	rec = f.do(t, http.MethodPost, "/api/vms/10", "admin", map[string]any{"action": "set_miq_server", "miq_server": map[string]any{}})
	require.Equal(t, "Removed miq_server for VM id:10 name:'web'", decode(t, rec)["message"])
	vm, err = f.inv.GetVM(context.Background(), 10)
	require.NoError(t, err)
	require.Nil(t, vm.ServerID)

	rec = f.do(t, http.MethodPost, "/api/vms/10", "admin", map[string]any{
		"action":     "set_miq_server",
		"miq_server": map[string]any{"href": "/api/vms/11"},
	})
	body = decode(t, rec)
	require.Equal(t, false, body["success"])
	require.Equal(t, "Failed to set miq_server - Must specify a valid miq_server href or id", body["message"])

	rec = f.do(t, http.MethodPost, "/api/vms/10", "admin", map[string]any{"action": "set_miq_server", "miq_server": "99"})
	body = decode(t, rec)
	require.Equal(t, false, body["success"])
	require.Equal(t, "Failed to set miq_server - Couldn't find MiqServer with 'id'=99", body["message"])
}

func TestRequestConsole(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/vms/11", "admin", map[string]any{"action": "request_console"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, true, body["success"])
	require.Equal(t, "VM id:11 name:'db' requesting console", body["message"])

	item := f.dequeue(t)
	require.Equal(t, "remote_console_acquire_ticket", item.MethodName)
	require.Equal(t, []any{"admin", int64(1), "vnc"}, item.Args)

	rec = f.do(t, http.MethodPost, "/api/vms/11", "admin", map[string]any{"action": "request_console", "protocol": "rdp"})
	body = decode(t, rec)
	require.Equal(t, false, body["success"])
	require.Equal(t, "Console protocol rdp is not supported", body["message"])
}

func TestRequestRetire(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/vms/10", "admin", map[string]any{"action": "request_retire"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "VM id:10 name:'web' request retire", decode(t, rec)["message"])

	item := f.dequeue(t)
	require.Equal(t, "make_retire_request", item.MethodName)
	require.Equal(t, roleAutomate, item.Role)
	require.Equal(t, []any{"admin"}, item.Args)
}

func TestCentralAdminForwardsToRemoteRegion(t *testing.T) {
	t.Parallel()

	fwd := &fakeForwarder{result: map[string]any{
		"success": true,
		"message": "VM id:2000000000010 name:'remote' starting",
		"task_id": "remote-task",
		"extra":   "kept",
	}}
	f := newAPIFixture(t, withForwarder(fwd))
	rec := f.do(t, http.MethodPost, "/api/vms/2000000000010", "admin", map[string]any{"action": "start"})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, fwd.result, decode(t, rec))
	require.Equal(t, []forwardCall{{region: 2, collection: "vms", id: 2000000000010, action: "start"}}, fwd.calls)
	require.Zero(t, f.queue.Len())
}

func TestCentralAdminReportsForwardFailures(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/vms/3000000000001", "admin", map[string]any{"action": "stop"})
	body := decode(t, rec)
	require.Equal(t, false, body["success"])
	require.Equal(t, "Region 3 is not configured for central administration", body["message"])

	fwd := &fakeForwarder{err: errors.New("region 2: connection refused")}
	f = newAPIFixture(t, withForwarder(fwd))
	rec = f.do(t, http.MethodPost, "/api/vms/2000000000010", "admin", map[string]any{"action": "reset"})
	body = decode(t, rec)
	require.Equal(t, false, body["success"])
	require.Equal(t, "region 2: connection refused", body["message"])
}

func TestEnqueueFailureMarksTaskFailed(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	f.queue.Close()
	rec := f.do(t, http.MethodPost, "/api/vms/10", "admin", map[string]any{"action": "start"})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, false, body["success"])
	require.Equal(t, "VM id:10 name:'web' starting - queue closed", body["message"])

	tasks, total, err := f.tasks.ListTasks(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, inventory.TaskFinished, tasks[0].State)
	require.Equal(t, inventory.TaskError, tasks[0].Status)
}
