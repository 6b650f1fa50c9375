// Package imageref turns loosely written image references into the
// transport-qualified form understood by skopeo.
package imageref

import "strings"

const (
	// TransportDockerArchive is used for references ending in .tar.
	TransportDockerArchive = "docker-archive"
	// TransportDockerDaemon is the fallback for unqualified references.
	TransportDockerDaemon = "docker-daemon"
	// TransportOCI addresses an OCI image layout directory.
	TransportOCI = "oci"
)

// KnownTransports lists the transport prefixes that are passed through as-is.
var KnownTransports = []string{
	"containers-storage",
	"dir",
	"docker",
	TransportDockerArchive,
	TransportDockerDaemon,
	TransportOCI,
	"oci-archive",
	"ostree",
	"sif",
	"tarball",
}

// Transport returns the known transport ref is prefixed with, if any.
func Transport(ref string) (string, bool) {
	for _, t := range KnownTransports {
		if strings.HasPrefix(ref, t+":") {
			return t, true
		}
	}
	return "", false
}

// Qualify returns ref with an explicit transport prefix. Already qualified
// references are returned unchanged, tarballs become docker-archive and
// everything else is assumed to live in the local docker daemon.
func Qualify(ref string) string {
	if _, ok := Transport(ref); ok {
		return ref
	}
	if strings.HasSuffix(ref, ".tar") {
		return TransportDockerArchive + ":" + ref
	}
	return TransportDockerDaemon + ":" + ref
}

// Layout returns the oci transport reference for tag inside layout dir.
func Layout(dir, tag string) string {
	return TransportOCI + ":" + dir + ":" + tag
}
