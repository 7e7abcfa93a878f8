package gempool

// ClusterSpawnPoints groups spawn points into SpawnGroups. Each unassigned point, in input order,
// seeds a new group as its primary point and claims every unassigned point within radius of it.
// The result depends only on the input order, so a mission always loads the same groups.
func ClusterSpawnPoints(points []SpawnPoint, radius float64) []SpawnGroup {
	assigned := make([]bool, len(points))
	var groups []SpawnGroup

	for i, seed := range points {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		group := SpawnGroup{ID: len(groups), Points: []SpawnPoint{seed}}

		for j := i + 1; j < len(points); j++ {
			if assigned[j] {
				continue
			}
			if seed.Position.Dist(points[j].Position) <= radius {
				assigned[j] = true
				group.Points = append(group.Points, points[j])
			}
		}
		groups = append(groups, group)
	}
	return groups
}
