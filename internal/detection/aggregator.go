package detection

// Aggregate classifies every detection of a frame and summarizes the result.
// An empty slice yields the zero FrameSummary.
func (c *Classifier) Aggregate(detections []Detection) FrameSummary {
	var summary FrameSummary
	for _, d := range detections {
		switch c.Classify(d.ClassID, d.ClassName) {
		case Vehicle:
			summary.VehicleCount++
		case Ambulance:
			summary.AmbulancePresent = true
		}
	}
	return summary
}

// Labels returns the distinct non-Other categories present in detections,
// in first-seen order.
func (c *Classifier) Labels(detections []Detection) []string {
	seen := make(map[Category]bool)
	var labels []string
	for _, d := range detections {
		cat := c.Classify(d.ClassID, d.ClassName)
		if cat == Other || seen[cat] {
			continue
		}
		seen[cat] = true
		labels = append(labels, cat.String())
	}
	return labels
}
