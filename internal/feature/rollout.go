// Package feature implements deterministic percentage rollouts for gating
// billing behavior changes per tenant.
package feature

import "hash/fnv"

// Bucket maps a key to a stable bucket in [0, 100).
func Bucket(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % 100)
}

// InRollout reports whether key falls inside a percent rollout. The same key
// always resolves the same way for a given percentage, so tenants do not
// flap in and out of a feature between sweeps.
func InRollout(key string, percent int) bool {
	if percent <= 0 {
		return false
	}
	if percent >= 100 {
		return true
	}
	return Bucket(key) < percent
}
