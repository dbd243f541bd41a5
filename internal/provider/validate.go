package provider

import (
	"fmt"

	"github.com/JakeFAU/infra-api/internal/inventory"
)

// Validation messages returned to API callers.
const (
	MsgNoProvider       = "The VM is not connected to an active Provider"
	MsgTemplate         = "The action is not available for templates"
	MsgAlreadyOn        = "The VM is already powered on"
	MsgNotOn            = "The VM is not powered on"
	MsgAlreadyShelved   = "The VM is already shelved"
	MsgNotShelved       = "The VM is not shelved"
	msgConsoleProtocol  = "Console protocol %s is not supported"
	msgUnknownProviders = "Provider type %s is not supported"
)

// Result is the outcome of a validation.
type Result struct {
	Available bool
	Message   string
}

func ok() Result { return Result{Available: true} }

func refuse(msg string) Result { return Result{Message: msg} }

// ValidateVM checks whether action may be queued for vm. p is nil when the
// VM's provider is missing.
func (r *Registry) ValidateVM(vm inventory.VM, p *inventory.Provider, action string) Result {
	if p == nil || vm.ProviderID == nil {
		return refuse(MsgNoProvider)
	}
	caps, found := r.For(p.Type)
	if !found {
		return refuse(fmt.Sprintf(msgUnknownProviders, p.Type))
	}
	if vm.Template && isPowerOperation(action) {
		return refuse(MsgTemplate)
	}
	if supported, reason := caps.Support(action); !supported {
		return refuse(reason)
	}

	state := vm.PowerState
	switch action {
	case FeatureStart:
		if state == inventory.PowerOn {
			return refuse(MsgAlreadyOn)
		}
	case FeatureStop, FeatureSuspend, FeaturePause, FeatureReset, FeatureRebootGuest, FeatureShutdownGuest:
		if state != inventory.PowerOn {
			return refuse(MsgNotOn)
		}
	case FeatureShelve:
		if state == inventory.PowerShelved || state == inventory.PowerShelvedOffloaded {
			return refuse(MsgAlreadyShelved)
		}
	case FeatureShelveOffload:
		if state != inventory.PowerShelved {
			return refuse(MsgNotShelved)
		}
	}
	return ok()
}

// ValidateConsole checks whether a remote console ticket may be requested
// over protocol.
func (r *Registry) ValidateConsole(vm inventory.VM, p *inventory.Provider, protocol string) Result {
	if p == nil || vm.ProviderID == nil {
		return refuse(MsgNoProvider)
	}
	caps, found := r.For(p.Type)
	if !found || !caps.SupportsConsole(protocol) {
		return refuse(fmt.Sprintf(msgConsoleProtocol, protocol))
	}
	if vm.Template {
		return refuse(MsgTemplate)
	}
	if vm.PowerState != inventory.PowerOn {
		return refuse(MsgNotOn)
	}
	return ok()
}

// RouterSupport resolves the router capability of provider p.
func (r *Registry) RouterSupport(p inventory.Provider, feature string) (hasClass bool, supported bool, reason string) {
	caps, found := r.For(p.Type)
	if !found || !caps.HasNetworkRouters() {
		return false, false, fmt.Sprintf("No Network Routers support for - %s", p.Name)
	}
	supported, reason = caps.RouterSupport(feature)
	return true, supported, reason
}

func isPowerOperation(action string) bool {
	switch action {
	case FeatureStart, FeatureStop, FeatureSuspend, FeaturePause, FeatureShelve, FeatureShelveOffload,
		FeatureReset, FeatureRebootGuest, FeatureShutdownGuest:
		return true
	}
	return false
}
