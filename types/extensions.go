package types

// ResourceServiceExtension can enrich a resource server's discovery
// declaration. Extensions are metadata only; they never influence scheme
// selection or verification.
type ResourceServerExtension interface {
	Key() string
	EnrichDeclaration(declaration interface{}, transportContext interface{}) interface{}
}
