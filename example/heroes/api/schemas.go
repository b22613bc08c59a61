package api

import "github.com/linerpc/linerpc/example/heroes/store"

// Domain failures are returned as results, not protocol errors, so a
// client can tell "hero missing" from a broken request.
const (
	CodeHeroExists  = -32001
	CodeHeroMissing = -32002
	// CodeRateLimited is a protocol error sent when a method is called too
	// often.
	CodeRateLimited = -32003
)

// HealthyResult is the reply of the health check.
type HealthyResult struct {
	Status string `json:"status" jsonschema:"enum=ok" jsonschema_description:"Always ok"`
}

// CreateHero is the input of hero.create.
type CreateHero struct {
	HeroName string `json:"hero_name" validate:"required,max=64" jsonschema_description:"Unique hero name"`
}

// PublicHero is a hero as shown to clients.
type PublicHero struct {
	HeroID   int64  `json:"hero_id"`
	HeroName string `json:"hero_name"`
	Level    int    `json:"level" jsonschema:"minimum=0,maximum=50"`
}

func publicHero(h store.Hero) PublicHero {
	return PublicHero{HeroID: h.ID, HeroName: h.Name, Level: h.Level}
}

// FightingTask is returned by hero.dungeon. Pushes of the fight carry
// TaskID as their id.
type FightingTask struct {
	TaskID string     `json:"task_id"`
	Hero   PublicHero `json:"hero"`
}

// FightingResult is pushed after every fight.
type FightingResult struct {
	FightingNews string `json:"fighting_news"`
	Rewards      string `json:"rewards"`
}

// AppError is a domain failure returned in place of a result.
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
