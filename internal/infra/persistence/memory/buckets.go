package memory

// SnapshotBuckets lists the persistence buckets in a stable write order.
var SnapshotBuckets = []string{"animals", "users", "profiles", "groups", "memberships", "sequences"}

// BucketTargets maps each bucket name to the snapshot field it encodes.
// Durable backends marshal and unmarshal through these pointers.
func (s *Snapshot) BucketTargets() map[string]any {
	return map[string]any{
		"animals":     &s.Animals,
		"users":       &s.Users,
		"profiles":    &s.Profiles,
		"groups":      &s.Groups,
		"memberships": &s.Memberships,
		"sequences":   &s.Sequences,
	}
}
