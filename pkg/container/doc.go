// Package container is the boundary to the embedded web container.
//
// The container engine itself is external. Engine is the narrow set of
// calls runtime services make on it, and Adapter validates specs before
// forwarding them. Optional engine features such as native TLS are
// resolved once into a Capabilities value when the adapter is built:
//
//	adapter, err := container.NewAdapter(engine,
//		container.WithRequiredCapabilities("native-ssl"))
//	if err != nil {
//		return err
//	}
//	if adapter.Capabilities().Has(container.CapConnectorToggle) {
//		...
//	}
//
// MemoryEngine is an in-memory engine that records every call.
package container
