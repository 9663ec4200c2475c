package tenant

// HeaderTenantID is the request header carrying an explicit tenant.
const HeaderTenantID = "X-Tenant-Id"

// Resolver picks the tenant for a request. Precedence: explicit header,
// then the ambient attribute set by upstream middleware, then the
// configured default. The orchestrator writes the result into the hook
// context metadata so it travels with the work across goroutines.
type Resolver struct {
	defaultTenant string
}

// NewResolver builds a resolver; an empty default falls back to "default".
func NewResolver(defaultTenant string) *Resolver {
	if defaultTenant == "" {
		defaultTenant = DefaultTenantID
	}
	return &Resolver{defaultTenant: defaultTenant}
}

// Resolve returns the tenant id for the request.
func (r *Resolver) Resolve(header, ambient string) string {
	if header != "" {
		return header
	}
	if ambient != "" {
		return ambient
	}
	return r.defaultTenant
}
