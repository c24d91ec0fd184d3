package inference

import (
	"image"
	"sort"
)

// OrderRegions sorts face regions top-to-bottom, then left-to-right, so that
// face indexes are stable for a given frame.
func OrderRegions(rects []image.Rectangle) {
	sort.SliceStable(rects, func(i, j int) bool {
		if rects[i].Min.Y != rects[j].Min.Y {
			return rects[i].Min.Y < rects[j].Min.Y
		}
		return rects[i].Min.X < rects[j].Min.X
	})
}

// Confidence maps a descriptor distance to [0, 1].
func Confidence(distance float64) float64 {
	c := 1 - distance
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
