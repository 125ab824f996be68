package timetable

const minutesPerDay = 24 * 60

// absoluteRange places the slot on a single week timeline so ranges on
// different days never intersect.
func (sl Slot) absoluteRange() (start, end int) {
	start = int(sl.Day)*minutesPerDay + sl.Start
	return start, start + sl.Duration
}

// OverlapsInTime reports whether two slots occupy intersecting time ranges
// within a week, regardless of the weeks they exist on.
func OverlapsInTime(a, b Slot) bool {
	aStart, aEnd := a.absoluteRange()
	bStart, bEnd := b.absoluteRange()
	return aStart < bEnd && bStart < aEnd
}

// SlotsOverlap reports whether the two slots of the snapshot overlap in time.
func (s *Snapshot) SlotsOverlap(a, b SlotID) bool {
	if int(a) < 0 || int(a) >= len(s.Slots) || int(b) < 0 || int(b) >= len(s.Slots) {
		return false
	}
	return OverlapsInTime(s.Slots[a], s.Slots[b])
}
