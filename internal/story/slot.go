package story

// Slot names one of the per-section draft containers.
type Slot int

const (
	SlotOriginal Slot = iota
	SlotGenerated
	SlotChat
	SlotUser
	SlotFill
)

// PriorityOrder is the read order used when a caller asks for "the" draft.
var PriorityOrder = []Slot{SlotGenerated, SlotChat, SlotUser, SlotFill, SlotOriginal}

// PreservedSlots survive a new revision session; the others are scoped to
// the session that produced them.
var PreservedSlots = []Slot{SlotUser, SlotFill}

func (s Slot) String() string {
	switch s {
	case SlotOriginal:
		return "ORIGINAL"
	case SlotGenerated:
		return "GENERATED"
	case SlotChat:
		return "CHAT"
	case SlotUser:
		return "USER"
	case SlotFill:
		return "FILL"
	}
	return "UNKNOWN"
}
