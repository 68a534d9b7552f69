package cluster

type PriceStats struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Average float64 `json:"average"`
}

// Summary describes the nodes currently on screen.
type Summary struct {
	TotalPoints     int                `json:"totalPoints"`
	NumClusters     int                `json:"numClusters"`
	NumSinglePoints int                `json:"numSinglePoints"`
	Price           PriceStats         `json:"price"`
	Categories      map[string]float64 `json:"categories"` // percent of points per category
}

// Summarize aggregates a query result. Cluster categories come from the
// index, so it needs the index the nodes were produced by.
func (idx *Index) Summarize(nodes []Node) Summary {
	summary := Summary{Categories: make(map[string]float64)}
	if len(nodes) == 0 {
		return summary
	}

	counts := make(map[string]int)
	var priceSum float64
	for i, n := range nodes {
		if n.IsCluster() {
			summary.NumClusters++
			if c, err := idx.cluster(n.ClusterID); err == nil {
				for cat, k := range c.Categories {
					counts[cat] += k
				}
				priceSum += c.PriceSum
			}
		} else {
			summary.NumSinglePoints++
			if n.Point.Category != "" {
				counts[n.Point.Category]++
			}
			priceSum += n.Point.Price
		}
		summary.TotalPoints += n.Count

		if i == 0 || n.PriceMin < summary.Price.Min {
			summary.Price.Min = n.PriceMin
		}
		if i == 0 || n.PriceMax > summary.Price.Max {
			summary.Price.Max = n.PriceMax
		}
	}
	summary.Price.Average = priceSum / float64(summary.TotalPoints)

	for cat, k := range counts {
		summary.Categories[cat] = float64(k) / float64(summary.TotalPoints) * 100
	}
	return summary
}
