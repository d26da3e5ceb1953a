// Package core resolves named, swappable implementations of a capability from
// configuration and executes commands on the resolved instances. Concrete
// connectors and stores depend on this package; core must not depend on them.
package core
