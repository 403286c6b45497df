// Package devnode implements the lifecycle of one driver instance inside a
// device host.
//
// A Node moves None -> Inited -> Launched and is torn down in reverse:
//
//	node, err := devnode.New(info, entry, deps)   // Inited
//	err = node.Launch(ctx)                         // Launched: bind, init, publish, attach
//	node.Destroy(ctx)                              // release, unpublish, detach
//
// Launch marks the node Launched before the driver's Bind and Init run.
// A failure inside Bind or Init therefore leaves the node Launched, and the
// later Destroy calls the driver's Release for it. The only case that
// resets the node to None is a publishing driver with no Bind at all.
//
// Node operations are swappable through Ops so hosts and tests can
// substitute the launch, publish and remove steps.
package devnode
