package domain

// TargetKind identifies which delivery variant an instance is configured with.
type TargetKind int

const (
	// TargetRest delivers batches over authenticated HTTP(S) to the collection API.
	TargetRest TargetKind = iota + 1
	// TargetForward hands records to the forward-protocol transport.
	TargetForward
)

func (k TargetKind) String() string {
	switch k {
	case TargetRest:
		return "rest"
	case TargetForward:
		return "forward"
	default:
		return "unknown"
	}
}

// restHostTypes are the roles that talk to the REST collection API directly.
var restHostTypes = map[string]bool{
	"laptop":     true,
	"bootserver": true,
}

// KindForHostType returns TargetRest for laptops and boot servers and TargetForward otherwise.
func KindForHostType(hostType string) TargetKind {
	if restHostTypes[hostType] {
		return TargetRest
	}
	return TargetForward
}

// NeedsCredentials reports whether hostType authenticates with its own LDAP credentials.
func NeedsCredentials(hostType string) bool {
	return restHostTypes[hostType]
}
