// Package provider models what each management system type can do and
// simulates executing queued methods against the inventory.
package provider

import (
	"slices"
	"sort"
)

// UnsupportedReason is reported for any feature a provider type lacks.
const UnsupportedReason = "Feature not available/supported"

// VM features.
const (
	FeatureStart         = "start"
	FeatureStop          = "stop"
	FeatureSuspend       = "suspend"
	FeaturePause         = "pause"
	FeatureShelve        = "shelve"
	FeatureShelveOffload = "shelve_offload"
	FeatureScan          = "scan"
	FeatureReset         = "reset"
	FeatureRebootGuest   = "reboot_guest"
	FeatureShutdownGuest = "shutdown_guest"
	FeatureRetire        = "retire"
	FeatureRefresh       = "refresh"
	FeatureConsole       = "console"
)

// Network router features.
const (
	FeatureCreate = "create"
	FeatureUpdate = "update"
	FeatureDelete = "delete"
)

// Provider types known to the registry.
const (
	TypeOpenStack = "openstack"
	TypeAmazon    = "amazon"
	TypeVMware    = "vmware"
	TypeNetwork   = "network"
)

// Capabilities describes the feature set of one provider type.
type Capabilities struct {
	Type             string
	VMFeatures       []string
	ConsoleProtocols []string
	// RouterFeatures is nil when the type has no network router class.
	RouterFeatures []string
}

// Support reports whether the VM feature is available.
func (c Capabilities) Support(feature string) (bool, string) {
	if slices.Contains(c.VMFeatures, feature) {
		return true, ""
	}
	return false, UnsupportedReason
}

// HasNetworkRouters reports whether the type defines a network router class.
func (c Capabilities) HasNetworkRouters() bool {
	return c.RouterFeatures != nil
}

// RouterSupport reports whether the router class supports feature.
func (c Capabilities) RouterSupport(feature string) (bool, string) {
	if slices.Contains(c.RouterFeatures, feature) {
		return true, ""
	}
	return false, UnsupportedReason
}

// SupportsConsole reports whether protocol is an accepted console protocol.
func (c Capabilities) SupportsConsole(protocol string) bool {
	return slices.Contains(c.ConsoleProtocols, protocol)
}

// Registry maps provider types to capabilities.
type Registry struct {
	types map[string]Capabilities
}

// NewRegistry builds a registry from the given capability sets.
func NewRegistry(caps ...Capabilities) *Registry {
	r := &Registry{types: make(map[string]Capabilities, len(caps))}
	for _, c := range caps {
		r.types[c.Type] = c
	}
	return r
}

// DefaultRegistry returns the built-in provider types.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Capabilities{
			Type: TypeOpenStack,
			VMFeatures: []string{
				FeatureStart, FeatureStop, FeatureSuspend, FeaturePause, FeatureShelve,
				FeatureShelveOffload, FeatureScan, FeatureReset, FeatureRebootGuest,
				FeatureShutdownGuest, FeatureRetire, FeatureRefresh, FeatureConsole,
			},
			ConsoleProtocols: []string{"vnc", "spice"},
			RouterFeatures:   []string{FeatureCreate, FeatureUpdate, FeatureDelete},
		},
		Capabilities{
			Type:           TypeAmazon,
			VMFeatures:     []string{FeatureStart, FeatureStop, FeatureRebootGuest, FeatureRetire, FeatureRefresh},
			RouterFeatures: []string{},
		},
		Capabilities{
			Type: TypeVMware,
			VMFeatures: []string{
				FeatureStart, FeatureStop, FeatureSuspend, FeatureReset, FeatureRebootGuest,
				FeatureShutdownGuest, FeatureScan, FeatureRetire, FeatureRefresh, FeatureConsole,
			},
			ConsoleProtocols: []string{"vmrc", "vnc", "webmks"},
		},
		Capabilities{
			Type:           TypeNetwork,
			RouterFeatures: []string{FeatureDelete},
		},
	)
}

// For returns the capabilities for providerType.
func (r *Registry) For(providerType string) (Capabilities, bool) {
	c, ok := r.types[providerType]
	return c, ok
}

// Types lists the registered provider types in sorted order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
