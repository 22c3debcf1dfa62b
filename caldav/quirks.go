package caldav

// Quirks is a closed set of server-compatibility toggles an operation
// consults at decision points. Defaults are conservative (spec-compliant
// behavior); a named profile flips only the toggles a known server needs.
type Quirks struct {
	// EtagMissingAfterPUT: the server's PUT response never carries an
	// Etag header, so callers must PROPFIND for getetag afterward.
	EtagMissingAfterPUT bool
	// FakeSyncTokenOnly: never attempt sync-collection; always use the
	// digest-based fallback from generate_fake_sync_token.
	FakeSyncTokenOnly bool
	// ExpandUnsupported: never request server-side <expand>; always
	// expand recurrences client-side via the codec.
	ExpandUnsupported bool
	// DoubleEncodedHrefs: hrefs may arrive double percent-encoded
	// (%2540 for a literal %40); normalize defensively.
	DoubleEncodedHrefs bool
}

// quirkProfiles is the static table of named server profiles referenced by
// ClientConfig.Features.
var quirkProfiles = map[string]Quirks{
	"default": {},
	"icloud": {
		DoubleEncodedHrefs: true,
	},
	"owncloud": {
		EtagMissingAfterPUT: true,
	},
	"fastmail": {
		FakeSyncTokenOnly: true,
	},
	"google": {
		ExpandUnsupported: true,
	},
}

// QuirksByName looks up a named quirks profile, returning the zero-value
// (no quirks) for an unknown name.
func QuirksByName(name string) Quirks {
	return quirkProfiles[name]
}
