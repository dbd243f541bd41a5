package inventory

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// RegionFactor is the id multiplier separating regions; the region of a
// record is its id divided by this factor.
const RegionFactor int64 = 1_000_000_000_000

// RegionOf returns the region number encoded in a record id.
func RegionOf(id int64) int64 {
	return id / RegionFactor
}

// Resource types recorded on tasks and queue items.
const (
	TypeVM            = "Vm"
	TypeNetworkRouter = "NetworkRouter"
	TypeProvider      = "ExtManagementSystem"
)

// Power states reported for VMs.
const (
	PowerOn               = "on"
	PowerOff              = "off"
	PowerSuspended        = "suspended"
	PowerPaused           = "paused"
	PowerShelved          = "shelved"
	PowerShelvedOffloaded = "shelved_offloaded"
	PowerUnknown          = "unknown"
)

// Provider kinds.
const (
	KindCloud   = "cloud"
	KindInfra   = "infra"
	KindNetwork = "network"
)

// Provider is an external management system (EMS) record.
type Provider struct {
	ID            int64      `json:"id" yaml:"id"`
	Name          string     `json:"name" yaml:"name"`
	Type          string     `json:"type" yaml:"type"`
	Kind          string     `json:"kind" yaml:"kind"`
	ParentID      *int64     `json:"parent_ems_id,omitempty" yaml:"parent_id"`
	Zone          string     `json:"zone,omitempty" yaml:"zone"`
	LastRefreshOn *time.Time `json:"last_refresh_date,omitempty" yaml:"-"`
}

// VM is a virtual machine or template record.
type VM struct {
	ID              int64             `json:"id" yaml:"id"`
	Name            string            `json:"name" yaml:"name"`
	Description     string            `json:"description,omitempty" yaml:"description"`
	Vendor          string            `json:"vendor,omitempty" yaml:"vendor"`
	ProviderID      *int64            `json:"ems_id,omitempty" yaml:"ems_id"`
	PowerState      string            `json:"power_state" yaml:"power_state"`
	Template        bool              `json:"template" yaml:"template"`
	OwnerID         *int64            `json:"evm_owner_id,omitempty" yaml:"owner_id"`
	GroupID         *int64            `json:"miq_group_id,omitempty" yaml:"group_id"`
	ServerID        *int64            `json:"miq_server_id,omitempty" yaml:"server_id"`
	ParentID        *int64            `json:"parent_id,omitempty" yaml:"parent_id"`
	ChildIDs        []int64           `json:"child_ids,omitempty" yaml:"child_ids"`
	RetiresOn       *time.Time        `json:"retires_on,omitempty" yaml:"-"`
	RetirementWarn  int               `json:"retirement_warn,omitempty" yaml:"-"`
	RetirementState string            `json:"retirement_state,omitempty" yaml:"-"`
	Retired         bool              `json:"retired" yaml:"retired"`
	LastScanOn      *time.Time        `json:"last_scan_on,omitempty" yaml:"-"`
	Custom          map[string]string `json:"-" yaml:"custom"`
}

// Ident renders the VM the way log lines and action messages refer to it.
func (v VM) Ident() string {
	return fmt.Sprintf("VM id:%d name:'%s'", v.ID, v.Name)
}

// NetworkRouter is a provider-side router record.
type NetworkRouter struct {
	ID                  int64          `json:"id" yaml:"id"`
	Name                string         `json:"name" yaml:"name"`
	Status              string         `json:"status,omitempty" yaml:"status"`
	AdminStateUp        bool           `json:"admin_state_up" yaml:"admin_state_up"`
	ProviderID          *int64         `json:"ems_id,omitempty" yaml:"ems_id"`
	CloudTenantID       *int64         `json:"cloud_tenant_id,omitempty" yaml:"cloud_tenant_id"`
	ExternalGatewayInfo map[string]any `json:"external_gateway_info,omitempty" yaml:"external_gateway_info"`
}

// Ident renders the router for messages.
func (r NetworkRouter) Ident() string {
	return fmt.Sprintf("Network Router id:%d name:'%s'", r.ID, r.Name)
}

// User is an account that may own VMs.
type User struct {
	ID             int64  `json:"id" yaml:"id"`
	UserID         string `json:"userid" yaml:"userid"`
	Name           string `json:"name" yaml:"name"`
	CurrentGroupID *int64 `json:"current_group_id,omitempty" yaml:"current_group_id"`
}

// Group is a set of users sharing a role.
type Group struct {
	ID          int64  `json:"id" yaml:"id"`
	Description string `json:"description" yaml:"description"`
	Role        string `json:"role" yaml:"role"`
}

// Server is an appliance process that can be pinned to a VM.
type Server struct {
	ID   int64  `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Zone string `json:"zone,omitempty" yaml:"zone"`
	GUID string `json:"guid,omitempty" yaml:"guid"`
}

// Event is an EMS event recorded against a VM.
type Event struct {
	VMID      int64     `json:"vm_id"`
	EventType string    `json:"event_type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// LifecycleEvent records a provisioning or retirement milestone for a VM.
type LifecycleEvent struct {
	VMID      int64     `json:"vm_id"`
	Event     string    `json:"event"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	CreatedBy string    `json:"created_by"`
	CreatedOn time.Time `json:"created_on"`
}
