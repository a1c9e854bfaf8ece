package relay

// reconcile implements SetReconciler (spec.md §4.2): a pure function over
// two sets, keyed by local_mount (the "keyed map with explicit keep/drop
// tagging" strategy from spec.md §9's Design Notes, chosen so a kept
// record's live worker handle and source slot survive the reconcile by
// identity rather than by copying mutable runtime state around).
//
// For each entry in desired, current is searched for a record sharing its
// local_mount:
//   - found, unchanged (relayHasChanged == false): the existing record is
//     kept, with desired's on_demand copied in place (never restarts it).
//   - found, changed, or not found: desired's configuration fields become a
//     new kept record; if desired carries a reserved source slot (the
//     caller may pre-reserve one before building the desired list), it
//     moves onto the new record so it isn't dropped and re-reserved.
//
// Whatever remains unmatched in current after this pass is toFree: the
// records the caller must tear down.
func reconcile(current map[string]*Record, desired []*Record) (kept map[string]*Record, toFree []*Record) {
	kept = make(map[string]*Record, len(desired))
	remaining := make(map[string]*Record, len(current))
	for k, v := range current {
		remaining[k] = v
	}

	for _, d := range desired {
		existing, found := remaining[d.LocalMount]
		if found {
			delete(remaining, d.LocalMount)
		}

		if found && !relayHasChanged(d, existing) {
			existing.OnDemand = d.OnDemand
			kept[d.LocalMount] = existing
			continue
		}

		fresh := &Record{
			LocalMount:      d.LocalMount,
			UpstreamHost:    d.UpstreamHost,
			UpstreamPort:    d.UpstreamPort,
			UpstreamMount:   d.UpstreamMount,
			Username:        d.Username,
			Password:        d.Password,
			SendICYMetadata: d.SendICYMetadata,
			OnDemand:        d.OnDemand,
			Enabled:         d.Enabled,
			FallbackMount:   d.FallbackMount,
			FallbackForce:   d.FallbackForce,
			Origin:          d.Origin,
		}
		if d.HasSlot {
			fresh.SourceSlot = d.SourceSlot
			fresh.HasSlot = true
		}
		if found {
			fresh.Generation = existing.Generation + 1
		}
		kept[d.LocalMount] = fresh
	}

	toFree = make([]*Record, 0, len(remaining))
	for _, v := range remaining {
		toFree = append(toFree, v)
	}
	return kept, toFree
}
