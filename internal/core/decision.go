package core

// DecisionStatus is the outcome of classifying a hash triad.
type DecisionStatus string

const (
	// NoChange means neither side moved since the last sync.
	NoChange DecisionStatus = "no_change"
	// Push means only the local side changed.
	Push DecisionStatus = "push"
	// Pull means only the remote side changed.
	Pull DecisionStatus = "pull"
	// IdenticalChange means both sides changed but converged on the same
	// content. Only the base hash needs to advance, no transfer.
	IdenticalChange DecisionStatus = "identical_change"
	// Conflict means both sides diverged from the base independently.
	Conflict DecisionStatus = "conflict"
)

// SyncDecision carries a classification result together with the hash triad
// that produced it, so callers can audit or replay the decision.
type SyncDecision struct {
	Status     DecisionStatus
	LocalHash  string
	RemoteHash string
	BaseHash   string
	Reason     string
}

// Classify maps a (local, remote, base) fingerprint triad to exactly one
// sync decision. It is pure and total: every triad has one answer.
//
//	local==base  remote==base  local==remote  ->  decision
//	true         true          -                  NoChange
//	false        true          -                  Push
//	true         false         -                  Pull
//	false        false         true               IdenticalChange
//	false        false         false              Conflict
func Classify(localHash, remoteHash, baseHash string) SyncDecision {
	d := SyncDecision{
		LocalHash:  localHash,
		RemoteHash: remoteHash,
		BaseHash:   baseHash,
	}

	localClean := localHash == baseHash
	remoteClean := remoteHash == baseHash

	switch {
	case localClean && remoteClean:
		d.Status = NoChange
		d.Reason = "no changes on either side"
	case !localClean && remoteClean:
		d.Status = Push
		d.Reason = "local changed, remote unchanged"
	case localClean && !remoteClean:
		d.Status = Pull
		d.Reason = "remote changed, local unchanged"
	case localHash == remoteHash:
		d.Status = IdenticalChange
		d.Reason = "both sides converged on identical content"
	default:
		d.Status = Conflict
		d.Reason = "local and remote diverged from base"
	}

	return d
}
