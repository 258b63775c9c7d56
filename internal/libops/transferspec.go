package libops

import (
	"fmt"
	"strings"

	"github.com/mnieminen/libctl/internal/vapi"
)

// Source locator protocols.
const (
	ProtocolDatastore = "ds"
	ProtocolFile      = "file"
	ProtocolHTTP      = "http"
	ProtocolHTTPS     = "https"
)

// TransferSpec is the classification of a source locator: which protocol it
// uses, who moves the bytes, and the endpoint involved.
type TransferSpec struct {
	Protocol   string
	SourceType vapi.SourceType

	// Endpoint is the locator with any file/ds scheme prefix stripped for
	// PUSH sources (a path the client reads), or the full URI the server
	// fetches from for PULL sources.
	Endpoint string
}

// inferredTypes maps recognized protocols to their default source type.
// Datastore and local/UNC paths are pushed by the client; web URIs are
// pulled by the server.
var inferredTypes = map[string]vapi.SourceType{
	ProtocolDatastore: vapi.SourcePush,
	ProtocolFile:      vapi.SourcePush,
	ProtocolHTTP:      vapi.SourcePull,
	ProtocolHTTPS:     vapi.SourcePull,
}

// BuildTransferSpec classifies a source locator into a TransferSpec.
// Pure classification — no I/O, no remote calls.
//
// A locator with no recognizable scheme prefix is treated as a local file
// path. An explicit override always wins over the inferred type, including
// for schemes that are otherwise unrecognized; an unrecognized scheme with
// no override fails with ErrUnsupportedProtocol. Pass an empty override to
// use the inferred type.
func BuildTransferSpec(locator string, override vapi.SourceType) (TransferSpec, error) {
	if locator == "" {
		return TransferSpec{}, fmt.Errorf("%w: empty source locator", ErrUnsupportedProtocol)
	}

	protocol, rest := splitScheme(locator)

	inferred, recognized := inferredTypes[protocol]

	sourceType := override
	if sourceType == "" {
		if !recognized {
			return TransferSpec{}, fmt.Errorf("%w: scheme %q in %q", ErrUnsupportedProtocol, protocol, locator)
		}

		sourceType = inferred
	}

	spec := TransferSpec{
		Protocol:   protocol,
		SourceType: sourceType,
		Endpoint:   locator,
	}

	// PUSH sources are read locally, so drop the scheme prefix and keep the
	// bare path. PULL endpoints stay as full URIs for the server's fetch.
	if sourceType == vapi.SourcePush && (protocol == ProtocolFile || protocol == ProtocolDatastore) {
		spec.Endpoint = rest
	}

	return spec, nil
}

// splitScheme extracts a scheme prefix from a locator. Returns the file
// protocol with the locator untouched when no scheme is present — bare
// paths, UNC paths, and Windows drive letters all land here.
func splitScheme(locator string) (protocol, rest string) {
	if i := strings.Index(locator, "://"); i > 0 {
		return strings.ToLower(locator[:i]), locator[i+len("://"):]
	}

	// "ds:/vmfs/..." and "file:/tmp/x" forms, without slashes. Anything
	// scheme-shaped before the colon is a scheme, known or not, so a typo
	// like "htp:" is rejected up front instead of misread as a file path.
	// A single leading letter is a Windows drive, not a scheme.
	if i := strings.Index(locator, ":"); i > 1 && isSchemeToken(locator[:i]) {
		return strings.ToLower(locator[:i]), locator[i+1:]
	}

	return ProtocolFile, locator
}

// isSchemeToken reports whether s is shaped like a URI scheme: a letter
// followed by letters, digits, '+', '-', or '.'.
func isSchemeToken(s string) bool {
	for i, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return false
		}
	}

	return true
}
