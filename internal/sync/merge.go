package sync

// Resolve picks which of two versions of the same record to keep: the one
// with the strictly greater timestamp, or remote on a tie. Remote represents
// the last write acknowledged across devices. Both records must share an id.
func Resolve[T any](local, remote T, timestampOf func(T) int64) T {
	if timestampOf(local) > timestampOf(remote) {
		return local
	}
	return remote
}

// Merge reconciles a local and a remote snapshot of one collection. Records
// present on one side only are kept; records present on both are resolved
// with [Resolve]. Deletions are not detected: a record missing from one side
// is treated as not yet synced, never as removed.
//
// The result holds each id once. Its order is unspecified.
func Merge[T any](local, remote []T, idOf func(T) string, timestampOf func(T) int64) []T {
	byID := make(map[string]T, len(local)+len(remote))
	order := make([]string, 0, len(local)+len(remote))

	for _, rec := range local {
		id := idOf(rec)
		if _, seen := byID[id]; !seen {
			order = append(order, id)
		}
		byID[id] = rec
	}

	for _, rec := range remote {
		id := idOf(rec)
		existing, ok := byID[id]
		if !ok {
			order = append(order, id)
			byID[id] = rec
			continue
		}
		byID[id] = Resolve(existing, rec, timestampOf)
	}

	merged := make([]T, 0, len(order))
	for _, id := range order {
		merged = append(merged, byID[id])
	}
	return merged
}
