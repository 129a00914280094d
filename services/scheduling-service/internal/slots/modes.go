package slots

import (
	"sort"
	"time"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/timeutil"
)

// Candidates within this window of the previously picked slot count as
// tightly packed for profit mode.
const packingWindow = 2 * time.Hour

// Days whose candidates span less than this get the free-time clustering bonus.
const clusterSpan = 4 * time.Hour

func selectByMode(mode model.IntentMode, candidates []Slot, svc model.Service, maxSlots int, loc *time.Location) []Slot {
	if len(candidates) == 0 {
		return nil
	}
	switch mode {
	case model.IntentProfit:
		return selectProfit(candidates, svc, maxSlots)
	case model.IntentFreeTime:
		return selectFreeTime(candidates, maxSlots, loc)
	default:
		// Balanced, plus the fallback for unknown modes.
		return selectBalanced(candidates, maxSlots)
	}
}

// selectProfit ranks by revenue density (price per occupied minute) with the
// earliest start breaking ties, then greedily keeps candidates that pack
// close to the previous pick. Dense, high-revenue days on purpose.
func selectProfit(candidates []Slot, svc model.Service, maxSlots int) []Slot {
	ranked := append([]Slot(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		di, dj := density(ranked[i], svc), density(ranked[j], svc)
		if di != dj {
			return di > dj
		}
		return ranked[i].Start.Before(ranked[j].Start)
	})

	var selected []Slot
	for _, s := range ranked {
		if len(selected) >= maxSlots {
			break
		}
		if len(selected) == 0 || packsWith(selected[len(selected)-1], s) {
			selected = append(selected, s)
		}
	}
	return selected
}

func density(s Slot, svc model.Service) float64 {
	occupied := svc.SlotSpanMin()
	if occupied < 1 {
		occupied = 1
	}
	return float64(s.PriceCents) / float64(occupied)
}

func packsWith(a, b Slot) bool {
	gap := b.Start.Sub(a.Start)
	if gap < 0 {
		gap = -gap
	}
	return gap <= packingWindow
}

// selectBalanced spreads the picks evenly across the whole candidate range
// instead of clustering at the start.
func selectBalanced(candidates []Slot, maxSlots int) []Slot {
	sorted := append([]Slot(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	if len(sorted) <= maxSlots {
		return sorted
	}
	stride := len(sorted) / maxSlots
	if stride < 1 {
		stride = 1
	}
	var selected []Slot
	for i := 0; i < len(sorted) && len(selected) < maxSlots; i += stride {
		selected = append(selected, sorted[i])
	}
	return selected
}

// selectFreeTime groups candidates by local date and consumes the
// best-scoring days first, so offered options fragment as few of the owner's
// days as possible. A day scores its slot count, plus a bonus when its
// candidates cluster within four hours.
func selectFreeTime(candidates []Slot, maxSlots int, loc *time.Location) []Slot {
	byDay := map[model.Date][]Slot{}
	var order []model.Date
	for _, s := range candidates {
		d := timeutil.LocalDate(s.Start, loc)
		if _, seen := byDay[d]; !seen {
			order = append(order, d)
		}
		byDay[d] = append(byDay[d], s)
	}

	type scoredDay struct {
		day   model.Date
		score int
	}
	scored := make([]scoredDay, 0, len(order))
	for _, d := range order {
		daySlots := byDay[d]
		sort.Slice(daySlots, func(i, j int) bool { return daySlots[i].Start.Before(daySlots[j].Start) })
		score := len(daySlots)
		if len(daySlots) > 1 {
			span := daySlots[len(daySlots)-1].Start.Sub(daySlots[0].Start)
			if span < clusterSpan {
				score += 2
			}
		}
		scored = append(scored, scoredDay{day: d, score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	var selected []Slot
	for _, sd := range scored {
		if len(selected) >= maxSlots {
			break
		}
		remaining := maxSlots - len(selected)
		daySlots := byDay[sd.day]
		if len(daySlots) > remaining {
			daySlots = daySlots[:remaining]
		}
		selected = append(selected, daySlots...)
	}

	sort.Slice(selected, func(i, j int) bool { return selected[i].Start.Before(selected[j].Start) })
	return selected
}
