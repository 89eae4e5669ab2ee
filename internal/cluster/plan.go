// Package cluster runs the bot as several processes, each owning a slice of
// the gateway shards, and lets them add up per-process counters.
package cluster

// Plan splits shards 0..total-1 into consecutive groups of at most perCluster.
func Plan(total, perCluster int) [][]int {
	if total < 1 || perCluster < 1 {
		return nil
	}
	var out [][]int
	for start := 0; start < total; start += perCluster {
		end := min(start+perCluster, total)
		shards := make([]int, 0, end-start)
		for s := start; s < end; s++ {
			shards = append(shards, s)
		}
		out = append(out, shards)
	}
	return out
}
