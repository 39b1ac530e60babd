package selector

import (
	"github.com/deusflow/newsdigest/internal/news"
	"github.com/deusflow/newsdigest/internal/topics"
)

const (
	// DefaultTarget is the number of articles in one digest.
	DefaultTarget = 6

	// fewInterests is the interest count below which the default topic is
	// guaranteed defaultMinimum articles.
	fewInterests   = 3
	defaultMinimum = 2
)

// PlanFor builds the per-topic allocation for a profile's interests, listed in
// detection order. The default topic comes first in the returned plan.
//
//	no interests           -> default: half, general: rest
//	fewer than 3 interests -> default: 2, rest split across interests
//	otherwise              -> target split across interests
//
// Remainders go to the earliest interests; when interests outnumber the
// remaining slots only the earliest get one each.
func PlanFor(interests []string, target int, defaultTopic string) news.DistributionPlan {
	if target <= 0 {
		target = DefaultTarget
	}
	if defaultTopic == "" {
		defaultTopic = topics.DefaultTopic
	}

	seen := make(map[string]bool)
	var ints []string
	for _, i := range interests {
		t := topics.Default.Normalize(i)
		if t == "" || t == news.GeneralTopic || seen[t] {
			continue
		}
		seen[t] = true
		ints = append(ints, t)
	}

	counts := make(map[string]int)
	if len(ints) == 0 {
		d := (target + 1) / 2
		counts[defaultTopic] = d
		counts[news.GeneralTopic] = target - d
		return build(defaultTopic, []string{news.GeneralTopic}, counts)
	}

	remaining := target
	if len(ints) < fewInterests {
		reserved := defaultMinimum
		if reserved > target {
			reserved = target
		}
		counts[defaultTopic] = reserved
		remaining -= reserved
	}

	if remaining > 0 {
		if len(ints) > remaining {
			for _, t := range ints[:remaining] {
				counts[t]++
			}
		} else {
			base, extra := remaining/len(ints), remaining%len(ints)
			for idx, t := range ints {
				counts[t] += base
				if idx < extra {
					counts[t]++
				}
			}
		}
	}
	return build(defaultTopic, ints, counts)
}

func build(defaultTopic string, order []string, counts map[string]int) news.DistributionPlan {
	var plan news.DistributionPlan
	if counts[defaultTopic] > 0 {
		plan.Quotas = append(plan.Quotas, news.Quota{Topic: defaultTopic, Count: counts[defaultTopic]})
	}
	for _, t := range order {
		if t == defaultTopic || counts[t] == 0 {
			continue
		}
		plan.Quotas = append(plan.Quotas, news.Quota{Topic: t, Count: counts[t]})
	}
	return plan
}
