//go:build !linux

package topology

// currentCPU has no portable implementation off Linux; all accesses resolve
// to the first node, which matches the single-node fallback topology.
func currentCPU() int {
	return 0
}
