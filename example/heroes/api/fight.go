package api

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/linerpc/linerpc"
)

// levelUpExperience is the experience that buys one level.
const levelUpExperience = 100

type monster struct {
	name       string
	experience int
	// fight duration range in seconds, inclusive
	minSeconds int
	maxSeconds int
}

var monsters = []monster{
	{name: "slime", experience: 10, minSeconds: 1, maxSeconds: 2},
	{name: "goblin", experience: 20, minSeconds: 2, maxSeconds: 3},
	{name: "minotaur", experience: 50, minSeconds: 3, maxSeconds: 5},
}

func lockedIntN(r *rand.Rand) func(int) int {
	var mu sync.Mutex
	return func(n int) int {
		mu.Lock()
		defer mu.Unlock()
		return r.IntN(n)
	}
}

func (a *App) duration(seconds int) time.Duration {
	return time.Duration(float64(seconds) * a.scale * float64(time.Second))
}

// fight returns the dungeon loop for task. It fights random monsters until
// canceled, pushing one FightingResult per fight.
func (a *App) fight(task FightingTask) linerpc.TaskFunc {
	return func(ctx context.Context, push *linerpc.Push) error {
		if a.metrics != nil {
			a.metrics.Dungeons.Inc()
			defer a.metrics.Dungeons.Dec()
		}
		hero := task.Hero
		experience := 0
		for {
			m := monsters[a.pick(len(monsters))]
			seconds := m.minSeconds + a.pick(m.maxSeconds-m.minSeconds+1)

			timer := time.NewTimer(a.duration(seconds))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}

			experience += m.experience
			rewards := fmt.Sprintf("gained %d experience", m.experience)
			if experience >= levelUpExperience {
				experience %= levelUpExperience
				level, err := a.store.Upgrade(ctx, hero.HeroName)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					return fmt.Errorf("level up %s: %w", hero.HeroName, err)
				}
				hero.Level = level
				rewards += fmt.Sprintf(", level up! now level %d", level)
			}
			if a.metrics != nil {
				a.metrics.Fights.WithLabelValues(m.name).Inc()
			}

			a.logger.Debug("fight", "hero", hero.HeroName, "monster", m.name, "task_id", push.TaskID())
			if err := push.Send(FightingResult{
				FightingNews: fmt.Sprintf("%s defeated a %s in %ds", hero.HeroName, m.name, seconds),
				Rewards:      rewards,
			}); err != nil {
				return err
			}
		}
	}
}
