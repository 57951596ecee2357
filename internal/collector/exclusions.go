package collector

import (
	"github.com/xroad-catalogue/collector/internal/xroad"
)

// ExcludedMember marks every subsystem of a member as out of scope. The tag
// is free-form text echoed in the audit log when the exclusion fires; it
// never participates in matching.
type ExcludedMember struct {
	ID  xroad.MemberID
	Tag string
}

// ExcludedSubsystem marks one subsystem as out of scope.
type ExcludedSubsystem struct {
	ID  xroad.SubsystemID
	Tag string
}

// Exclusions filters the enumerated subsystem list before work is queued.
type Exclusions struct {
	Members    []ExcludedMember
	Subsystems []ExcludedSubsystem
}

// Match reports whether the subsystem is excluded, and the audit tag of the
// entry that matched it.
func (e Exclusions) Match(subsystem xroad.SubsystemID) (string, bool) {
	for _, member := range e.Members {
		if member.ID == subsystem.MemberID {
			return member.Tag, true
		}
	}
	for _, excluded := range e.Subsystems {
		if excluded.ID == subsystem {
			return excluded.Tag, true
		}
	}
	return "", false
}
