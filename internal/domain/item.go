package domain

// ItemStatus is the per-item lifecycle state within one batch.
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "PENDING"
	ItemStatusProcessing ItemStatus = "PROCESSING"
	ItemStatusSuccess    ItemStatus = "SUCCESS"
	ItemStatusFailed     ItemStatus = "FAILED"
)

func (s ItemStatus) String() string { return string(s) }

func (s ItemStatus) IsValid() bool {
	switch s {
	case ItemStatusPending, ItemStatusProcessing, ItemStatusSuccess, ItemStatusFailed:
		return true
	}
	return false
}

func (s ItemStatus) IsTerminal() bool {
	return s == ItemStatusSuccess || s == ItemStatusFailed
}

// CanTransition reports whether an item may move from one status to another.
// Pending -> Processing -> Success|Failed; terminal states never move.
func CanTransition(from, to ItemStatus) bool {
	switch from {
	case ItemStatusPending:
		return to == ItemStatusProcessing
	case ItemStatusProcessing:
		return to == ItemStatusSuccess || to == ItemStatusFailed
	}
	return false
}

// IdentifierPair is the unique pallet number and series reserved for one item.
type IdentifierPair struct {
	PalletNumber string `json:"palletNumber"`
	Series       string `json:"series"`
}

// AllocatedIdentifierSet is ordered by item index.
type AllocatedIdentifierSet []IdentifierPair

// GeneratedArtifact is the rendered payload of one successful item.
type GeneratedArtifact struct {
	Index      int
	Identifier IdentifierPair
	Payload    []byte
}

// ItemFailure records why one item did not produce an artifact.
type ItemFailure struct {
	Index      int            `json:"index"`
	Identifier IdentifierPair `json:"identifier"`
	Message    string         `json:"message"`
}

// ProgressSnapshot is a point-in-time view of a batch. Treat it as a value.
type ProgressSnapshot struct {
	Completed int          `json:"completed"`
	Total     int          `json:"total"`
	Statuses  []ItemStatus `json:"statuses"`
}

func NewProgressSnapshot(total int) ProgressSnapshot {
	statuses := make([]ItemStatus, total)
	for i := range statuses {
		statuses[i] = ItemStatusPending
	}
	return ProgressSnapshot{Total: total, Statuses: statuses}
}

func (s ProgressSnapshot) Clone() ProgressSnapshot {
	statuses := make([]ItemStatus, len(s.Statuses))
	copy(statuses, s.Statuses)
	s.Statuses = statuses
	return s
}

// Count returns how many items currently hold the given status.
func (s ProgressSnapshot) Count(status ItemStatus) int {
	n := 0
	for _, st := range s.Statuses {
		if st == status {
			n++
		}
	}
	return n
}
