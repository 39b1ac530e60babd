// Package selector picks the final, topic-diverse set of articles for one
// digest.
package selector

import (
	"sort"

	"github.com/deusflow/newsdigest/internal/news"
)

// DiversityFloor is the minimum score for the one-per-topic first pass.
const DiversityFloor = 30

// Floors is the cascade tried for quota fill and backfill. The first floor
// that reaches the target wins; 0 means the whole pool is eligible.
var Floors = []int{70, 60, 50, 40, 0}

// Select returns plan.Total() articles when the pool allows it, fewer only
// when the pool is smaller. Articles are never repeated and the result is
// ordered by score.
func Select(scored []news.Article, plan news.DistributionPlan) []news.Article {
	target := plan.Total()
	if target <= 0 || len(scored) == 0 {
		return []news.Article{}
	}

	pool := make([]news.Article, len(scored))
	copy(pool, scored)
	sortByScore(pool)

	var best []news.Article
	for _, floor := range Floors {
		picked := selectWithFloor(pool, plan, target, floor)
		if len(picked) > len(best) {
			best = picked
		}
		if len(best) >= target {
			break
		}
	}

	sortByScore(best)
	return best
}

func selectWithFloor(pool []news.Article, plan news.DistributionPlan, target, floor int) []news.Article {
	taken := make([]bool, len(pool))
	hashes := make(map[string]bool)
	perTopic := make(map[string]int)
	out := make([]news.Article, 0, target)

	take := func(i int) {
		taken[i] = true
		if h := pool[i].ContentHash; h != "" {
			hashes[h] = true
		}
		perTopic[pool[i].Topic]++
		out = append(out, pool[i])
	}
	eligible := func(i, min int) bool {
		if taken[i] || pool[i].RelevanceScore < min {
			return false
		}
		h := pool[i].ContentHash
		return h == "" || !hashes[h]
	}

	// Pass 1: best article of each planned topic, in priority order.
	for _, q := range plan.Quotas {
		if len(out) >= target {
			break
		}
		if q.Count <= 0 || perTopic[q.Topic] > 0 {
			continue
		}
		for i := range pool {
			if pool[i].Topic == q.Topic && eligible(i, DiversityFloor) {
				take(i)
				break
			}
		}
	}

	// Pass 2: fill each topic up to its quota.
	for _, q := range plan.Quotas {
		for i := range pool {
			if len(out) >= target || perTopic[q.Topic] >= q.Count {
				break
			}
			if pool[i].Topic == q.Topic && eligible(i, floor) {
				take(i)
			}
		}
	}

	// Backfill: best remaining regardless of topic.
	for i := range pool {
		if len(out) >= target {
			break
		}
		if eligible(i, floor) {
			take(i)
		}
	}
	return out
}

func sortByScore(articles []news.Article) {
	sort.SliceStable(articles, func(i, j int) bool {
		if articles[i].RelevanceScore != articles[j].RelevanceScore {
			return articles[i].RelevanceScore > articles[j].RelevanceScore
		}
		return articles[i].PublishedAt.After(articles[j].PublishedAt)
	})
}
