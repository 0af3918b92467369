// Package vitals holds the in-memory shape of a multi-bed vital-sign
// snapshot and its JSON payload form.
package vitals

import "sort"

// BedSnapshot holds one bed's readings keyed by parameter name. A nil value
// means the parameter was not reported.
type BedSnapshot struct {
	Present bool
	Vitals  map[string]*float64
}

// Snapshot is one full reading across all configured beds at a point in time.
// The set of bed keys always matches the configured bed table; absence is
// carried by BedSnapshot.Present, never by a missing key.
type Snapshot struct {
	TimestampMs int64
	PacketID    *int64
	Beds        map[string]BedSnapshot
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}

// Value returns the reading for bed/param and whether it is present.
func (s *Snapshot) Value(bed, param string) (float64, bool) {
	b, ok := s.Beds[bed]
	if !ok || !b.Present {
		return 0, false
	}
	v := b.Vitals[param]
	if v == nil {
		return 0, false
	}
	return *v, true
}

// Set stores a reading and marks the bed present. The bed must already exist
// in the snapshot.
func (s *Snapshot) Set(bed, param string, v float64) bool {
	b, ok := s.Beds[bed]
	if !ok {
		return false
	}
	if _, ok := b.Vitals[param]; !ok {
		return false
	}
	b.Present = true
	b.Vitals[param] = Float(v)
	s.Beds[bed] = b
	return true
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		TimestampMs: s.TimestampMs,
		Beds:        make(map[string]BedSnapshot, len(s.Beds)),
	}
	if s.PacketID != nil {
		out.PacketID = Int64(*s.PacketID)
	}
	for id, b := range s.Beds {
		nb := BedSnapshot{Present: b.Present, Vitals: make(map[string]*float64, len(b.Vitals))}
		for p, v := range b.Vitals {
			if v != nil {
				nb.Vitals[p] = Float(*v)
			} else {
				nb.Vitals[p] = nil
			}
		}
		out.Beds[id] = nb
	}
	return out
}

// BedIDs returns the bed identifiers in lexical order.
func (s *Snapshot) BedIDs() []string {
	ids := make([]string, 0, len(s.Beds))
	for id := range s.Beds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Payload converts the snapshot to its JSON payload form. Absent beds and
// absent readings are omitted.
func (s *Snapshot) Payload() BedsPayload {
	out := make(BedsPayload, len(s.Beds))
	for id, b := range s.Beds {
		if !b.Present {
			continue
		}
		bp := BedPayload{Vitals: make(map[string]VitalPayload, len(b.Vitals))}
		for p, v := range b.Vitals {
			if v == nil {
				continue
			}
			bp.Vitals[p] = VitalPayload{Value: *v}
		}
		out[id] = bp
	}
	return out
}
