package provider

// Field is one element of a form schema.
type Field struct {
	Component  string `json:"component"`
	Name       string `json:"name"`
	Label      string `json:"label"`
	IsRequired bool   `json:"isRequired,omitempty"`
	Type       string `json:"type,omitempty"`
	Options    []any  `json:"options,omitempty"`
}

// Schema is a data-driven form definition served to UI clients.
type Schema struct {
	Fields []Field `json:"fields"`
}

// ParamsFor returns the form schema used to build a router of the given
// feature for providerType.
func (r *Registry) ParamsFor(providerType, feature string) (Schema, bool) {
	caps, found := r.For(providerType)
	if !found || !caps.HasNetworkRouters() {
		return Schema{}, false
	}
	if supported, _ := caps.RouterSupport(feature); !supported {
		return Schema{}, false
	}

	fields := []Field{
		{Component: "text-field", Name: "name", Label: "Router Name", IsRequired: true},
		{Component: "switch", Name: "admin_state_up", Label: "Administrative State"},
	}
	if providerType == TypeOpenStack {
		fields = append(fields, Field{
			Component: "select",
			Name:      "external_gateway_info.network_id",
			Label:     "External Network",
			Options:   []any{},
		})
		if feature == FeatureCreate {
			fields = append(fields, Field{
				Component:  "select",
				Name:       "cloud_tenant_id",
				Label:      "Cloud Tenant",
				IsRequired: true,
				Options:    []any{},
			})
		}
	}
	return Schema{Fields: fields}, true
}
