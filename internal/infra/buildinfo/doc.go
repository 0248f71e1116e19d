// Package buildinfo reports the sessionkeep version.
//
// Release builds inject the values with ldflags:
//
//	go build -ldflags "-X github.com/yndnr/sessionkeep-go/internal/infra/buildinfo.Version=v1.2.0 \
//	    -X github.com/yndnr/sessionkeep-go/internal/infra/buildinfo.Commit=$(git rev-parse --short HEAD)"
//
// Development builds fall back to the VCS stamp the Go toolchain embeds.
package buildinfo
