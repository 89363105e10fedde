package meshmodel

import "fmt"

// Aggregate recomputes a group's view from its non-switch members.
//
// power: ON if any non-switch member is ON, else OFF if any is OFF, else
// UNKNOWN.
// brightness: the maximum brightness among non-switch members that are
// ON; ties keep the first such member in MemberIDs order (declared
// insertion order, per the group's configured member list).
// temperature: the brightness-weighted mean among temperature-capable
// members that are ON; HasColorTemp is false if no member qualifies.
func (r *Registry) Aggregate(groupID int) (Aggregate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[groupID]
	if !ok {
		return Aggregate{}, fmt.Errorf("%w: id %d", ErrGroupNotFound, groupID)
	}

	var (
		agg          Aggregate
		sawOn        bool
		sawOff       bool
		bestBright   = -1
		tempWeighted float64
		tempWeight   float64
	)

	for _, memberID := range g.MemberIDs {
		d, ok := r.devices[memberID]
		if !ok || d.IsSwitch() {
			continue
		}

		switch d.State.Power {
		case PowerOn:
			sawOn = true
			if d.State.BrightnessPct > bestBright {
				bestBright = d.State.BrightnessPct
			}
		case PowerOff:
			sawOff = true
		}

		if d.Capabilities.Has(CapColorTemp) && d.State.Power == PowerOn {
			w := float64(d.State.BrightnessPct)
			if w <= 0 {
				w = 1
			}
			tempWeighted += w * float64(d.State.ColorTempK)
			tempWeight += w
		}
	}

	switch {
	case sawOn:
		agg.Power = PowerOn
	case sawOff:
		agg.Power = PowerOff
	default:
		agg.Power = PowerUnknown
	}

	if bestBright >= 0 {
		agg.BrightnessPct = bestBright
	}

	if tempWeight > 0 {
		agg.ColorTempK = int(tempWeighted / tempWeight)
		agg.HasColorTemp = true
	}

	return agg, nil
}

// IsFanOnlyGroup reports whether every member of a group is a fan-only
// device, per the MQTT bridge's rule that such a group gets no entity of its own
// (each member is already individually addressable).
func (r *Registry) IsFanOnlyGroup(groupID int) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[groupID]
	if !ok {
		return false, fmt.Errorf("%w: id %d", ErrGroupNotFound, groupID)
	}
	if len(g.MemberIDs) == 0 {
		return false, nil
	}
	for _, memberID := range g.MemberIDs {
		d, ok := r.devices[memberID]
		if !ok || !d.IsFanOnly() {
			return false, nil
		}
	}
	return true, nil
}
