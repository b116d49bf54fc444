package xmsg

// Scope selects the delivery reach of a message. Subscriptions narrow,
// publishes declare: a subscription with mask S matches a publish at scope P
// iff P <= S.
type Scope uint8

const (
	ScopeThread Scope = iota
	ScopeProcess
	// ScopeNetwork is reserved; absent a transport adapter it behaves
	// identically to ScopeProcess.
	ScopeNetwork
	ScopeAll
)

func (s Scope) String() string {
	switch s {
	case ScopeThread:
		return "thread"
	case ScopeProcess:
		return "process"
	case ScopeNetwork:
		return "network"
	case ScopeAll:
		return "all"
	}
	return "unknown"
}

// Flags annotate a message for transport adapters. In-process delivery is
// always reliable; flags are preserved on the context.
type Flags uint8

const (
	FlagNone     Flags = 0
	FlagReliable Flags = 1 << 0
	// FlagGuaranteed is distinguished on the wire but treated identically
	// to FlagReliable in-process.
	FlagGuaranteed Flags = 1 << 1
)

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }
