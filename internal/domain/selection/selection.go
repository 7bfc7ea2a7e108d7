// Package selection picks which catalog scenes of a site get ordered.
//
// The policy favours the freshest image and hedges with the clearest of the
// rest, so one site never pays for more than two products.
package selection

import (
	"slices"

	"github.com/okian/atlasbatch/internal/domain/model"
)

// MaxPerSite is the most images ordered for one site.
const MaxPerSite = 2

// Select returns up to MaxPerSite image ids: the most recent scene, then the
// least cloudy of the remaining ones. An id listed twice is picked once. Ties
// keep input order. scenes is not modified.
func Select(scenes []model.Scene) []string {
	if len(scenes) == 0 {
		return nil
	}

	byDate := slices.Clone(scenes)
	slices.SortStableFunc(byDate, func(a, b model.Scene) int {
		return b.AcquiredAt.Compare(a.AcquiredAt)
	})
	ids := []string{byDate[0].ImageID}

	rest := byDate[1:]
	slices.SortStableFunc(rest, func(a, b model.Scene) int {
		switch {
		case a.CloudCover < b.CloudCover:
			return -1
		case a.CloudCover > b.CloudCover:
			return 1
		default:
			return 0
		}
	})
	for _, s := range rest {
		if len(ids) == MaxPerSite {
			break
		}
		if !slices.Contains(ids, s.ImageID) {
			ids = append(ids, s.ImageID)
		}
	}
	return ids
}

// Pick returns the selected scenes themselves, in selection order.
func Pick(scenes []model.Scene) []model.Scene {
	ids := Select(scenes)
	picked := make([]model.Scene, 0, len(ids))
	for _, id := range ids {
		for _, s := range scenes {
			if s.ImageID == id {
				picked = append(picked, s)
				break
			}
		}
	}
	return picked
}
