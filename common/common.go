// Package common holds build metadata and the logger setup shared by the binaries.
package common

var (
	// Version is set at build time with -ldflags "-X ...common.Version=...".
	Version = "dev"

	PackageName = "github.com/ruteri/actions-runner-provisioning-backend"
)
