// Package api is the hero server: a health check, a hero namespace backed by
// a store, and dungeons that fight in the background and push each result
// to the client.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/linerpc/linerpc"
	"github.com/linerpc/linerpc/example/heroes/store"
)

// Options configures the hero API.
type Options struct {
	// Logger receives request and fight logs. Default: discard.
	Logger *slog.Logger
	// Metrics enables the metrics middleware when set.
	Metrics *Metrics
	// RateLimitRPS and RateLimitBurst bound calls per hero method.
	// RateLimitRPS <= 0 disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int
	// TimeScale multiplies fight durations. Default: 1
	TimeScale float64
	// Rand picks monsters and fight durations. Default: a random source.
	Rand *rand.Rand
}

// App holds the hero handlers' collaborators.
type App struct {
	store   store.Store
	logger  *slog.Logger
	metrics *Metrics
	scale   float64
	rps     float64
	burst   int
	pick    func(n int) int
}

func New(st store.Store, opts Options) *App {
	a := &App{
		store:   st,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		scale:   opts.TimeScale,
		rps:     opts.RateLimitRPS,
		burst:   opts.RateLimitBurst,
		pick:    rand.IntN,
	}
	if a.logger == nil {
		a.logger = slog.New(slog.DiscardHandler)
	}
	if a.scale <= 0 {
		a.scale = 1
	}
	if opts.Rand != nil {
		// rand.Rand is not safe for concurrent use; fights run in parallel.
		a.pick = lockedIntN(opts.Rand)
	}
	return a
}

// Server builds a linerpc server exposing the API.
func (a *App) Server(name string, sopts linerpc.ServerOptions) (*linerpc.Server, error) {
	if sopts.Logger == nil {
		sopts.Logger = a.logger
	}
	s := linerpc.NewServer(name, sopts)

	s.Use(RequestLog(a.logger))
	if a.metrics != nil {
		s.Use(Instrument(a.metrics))
	}
	if err := s.Register("healthy", "Health check", linerpc.NewMethod(a.healthy).
		Describe("Reports that the server is running.").
		Returns(linerpc.TypeOf[HealthyResult](`{"status": "ok"}`))); err != nil {
		return nil, err
	}

	heroes := a.Router()
	if a.rps > 0 {
		heroes.Use(RateLimit(a.rps, a.burst))
	}
	if err := s.Mount(heroes); err != nil {
		return nil, err
	}
	if err := linerpc.EnableTasks(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Router returns the hero namespace.
func (a *App) Router() *linerpc.Router {
	r := linerpc.NewRouter("hero", "Hero methods")
	r.MustRegister("create", "Create hero", linerpc.NewMethod(a.create,
		linerpc.StructParam[CreateHero]("hero"),
	).Describe("Creates a level 0 hero. Names are unique; a taken name returns code -32001.").
		Returns(linerpc.TypeOf[PublicHero]("The new hero, or an AppError.")))
	r.MustRegister("get", "Get hero", linerpc.NewMethod(a.get,
		linerpc.Primitive[string]("hero_name").Describe("Hero name."),
	).Describe("Looks a hero up by name. An unknown name returns code -32002.").
		Returns(linerpc.TypeOf[PublicHero]("The hero, or an AppError.")))
	r.MustRegister("list", "List heroes", linerpc.NewMethod(a.list).
		Describe("All heroes in creation order.").
		Returns(linerpc.TypeOf[[]PublicHero]("")))
	r.MustRegister("dungeon", "Enter dungeon", linerpc.NewMethod(a.dungeon,
		linerpc.Primitive[string]("hero_name").Describe("Hero name."),
		linerpc.StreamParam("stream"),
	).Describe("Starts fighting in the background. Every fight pushes a FightingResult tagged with the task id; "+
		"each 100 experience raises the hero one level.").
		Returns(linerpc.TypeOf[FightingTask]("The task id and the hero, or an AppError.")))
	r.MustRegister("stop_dungeon", "Leave dungeon", linerpc.NewMethod(a.stopDungeon,
		linerpc.Primitive[string]("task_id").Describe("Id returned by dungeon."),
	).Describe("Stops a fight and waits until it has ended. Always returns true.").
		Returns(linerpc.TypeOf[bool]("")))
	return r
}

func (a *App) healthy(ctx context.Context, _ *linerpc.Args) (any, error) {
	return HealthyResult{Status: "ok"}, nil
}

func (a *App) create(ctx context.Context, args *linerpc.Args) (any, error) {
	req, err := linerpc.Arg[*CreateHero](args, "hero")
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, linerpc.ErrInvalidParams("hero is required",
			linerpc.FieldError{Loc: []string{"hero"}, Msg: "field required", Type: "required"})
	}
	h, err := a.store.Create(ctx, req.HeroName)
	if errors.Is(err, store.ErrDuplicate) {
		return AppError{Code: CodeHeroExists, Message: fmt.Sprintf("hero %s already exists", req.HeroName)}, nil
	}
	if err != nil {
		return nil, linerpc.ErrInternal(err)
	}
	a.logger.Info("hero created", "hero", h.Name, "hero_id", h.ID)
	return publicHero(h), nil
}

func (a *App) lookup(ctx context.Context, args *linerpc.Args) (store.Hero, *AppError, error) {
	name, err := linerpc.Arg[string](args, "hero_name")
	if err != nil {
		return store.Hero{}, nil, err
	}
	h, err := a.store.Get(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return store.Hero{}, &AppError{Code: CodeHeroMissing, Message: fmt.Sprintf("hero %s does not exist", name)}, nil
	}
	if err != nil {
		return store.Hero{}, nil, linerpc.ErrInternal(err)
	}
	return h, nil, nil
}

func (a *App) get(ctx context.Context, args *linerpc.Args) (any, error) {
	h, missing, err := a.lookup(ctx, args)
	if err != nil {
		return nil, err
	}
	if missing != nil {
		return *missing, nil
	}
	return publicHero(h), nil
}

func (a *App) list(ctx context.Context, _ *linerpc.Args) (any, error) {
	heroes, err := a.store.List(ctx)
	if err != nil {
		return nil, linerpc.ErrInternal(err)
	}
	out := make([]PublicHero, 0, len(heroes))
	for _, h := range heroes {
		out = append(out, publicHero(h))
	}
	return out, nil
}

func (a *App) dungeon(ctx context.Context, args *linerpc.Args) (any, error) {
	h, missing, err := a.lookup(ctx, args)
	if err != nil {
		return nil, err
	}
	if missing != nil {
		return *missing, nil
	}

	task := FightingTask{TaskID: linerpc.NewTaskID(), Hero: publicHero(h)}
	if err := args.Stream("stream").Spawn(task.TaskID, a.fight(task)); err != nil {
		return nil, linerpc.ErrInternal(err)
	}
	a.logger.Info("dungeon entered", "hero", h.Name, "task_id", task.TaskID)
	return task, nil
}

func (a *App) stopDungeon(ctx context.Context, args *linerpc.Args) (any, error) {
	id, err := linerpc.Arg[string](args, "task_id")
	if err != nil {
		return nil, err
	}
	if linerpc.CancelTask(ctx, id) {
		a.logger.Info("dungeon left", "task_id", id)
	}
	return true, nil
}
