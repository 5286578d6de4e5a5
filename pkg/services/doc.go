// Package services implements the runtime service graph.
//
// A service is described by a Descriptor: a hierarchical Name, start and stop
// callbacks, a Mode and a list of dependencies. The Registry installs
// descriptors and continuously reconciles every service towards the state its
// mode and dependencies imply:
//
//   - ACTIVE services start once every dependency is installed and up.
//   - ON_DEMAND services start only while an ACTIVE service needs them.
//   - NEVER services stay down.
//   - REMOVE services stop, once their dependents have stopped, and leave the
//     registry.
//
// Dependencies that are not installed yet are latent. The dependent waits
// and starts as soon as they appear. Optional dependencies that are not
// installed are ignored; installed ones behave like required ones.
//
// Start and stop callbacks run on their own goroutines, never under the
// registry lock. A start that is no longer wanted is cancelled through the
// context on its StartContext.
//
// Example:
//
//	reg := services.NewRegistry()
//	binding := services.NewName("socket-binding", "http")
//	_, _ = reg.Install(services.Descriptor{
//		Name:         services.NewName("web", "connector", "http"),
//		Start:        startConnector,
//		Stop:         stopConnector,
//		Dependencies: []services.Dependency{{Name: binding}},
//	})
//	problems, err := reg.AwaitStability(ctx)
package services
