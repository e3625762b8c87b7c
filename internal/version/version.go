// Package version provides the version information of the titlekit binary.
package version

// The values below are replaced at build time using the -X linker flag.
var (
	// Version is the version number that is being run at the moment.
	Version = "0.0.0"

	// BuildDate is the date the executable was built.
	BuildDate string
)
