// Package storyboard 分批请求分镜并累积，直到达到目标数量或停滞次数用尽
package storyboard

import (
	"context"

	"storyboard-server/models"
)

const (
	DefaultBatchSize           = 10
	DefaultMaxStagnantAttempts = 5
)

// BatchSource 根据已累积的分镜返回下一批分镜
type BatchSource interface {
	RequestSceneBatch(ctx context.Context, existing []models.Scene) ([]models.Scene, error)
}

type BatchSourceFunc func(ctx context.Context, existing []models.Scene) ([]models.Scene, error)

func (f BatchSourceFunc) RequestSceneBatch(ctx context.Context, existing []models.Scene) ([]models.Scene, error) {
	return f(ctx, existing)
}

// State 累积状态机的状态
type State string

const (
	StateRequesting State = "requesting"
	StateMerging    State = "merging"
	StateStagnating State = "stagnating"
	StateComplete   State = "complete"
	StateIncomplete State = "incomplete_awaiting_resume"
)

func (s State) Terminal() bool {
	return s == StateComplete || s == StateIncomplete
}

type EventType string

const (
	EventBatchRequested EventType = "batch_requested"
	EventSceneInserted  EventType = "scene_inserted"
	EventStagnated      EventType = "stagnated"
	EventComplete       EventType = "complete"
	EventIncomplete     EventType = "incomplete"
)

// Event 累积进度事件。每个新分镜按插入顺序产生一个 SceneInserted，推送节奏由消费方决定
type Event struct {
	Type     EventType                 `json:"type"`
	Batch    int                       `json:"batch,omitempty"`
	Scene    *models.Scene             `json:"scene,omitempty"`
	Progress models.GenerationProgress `json:"progress"`
	Stagnant int                       `json:"stagnant,omitempty"`
}

type Sink func(Event)

type Result struct {
	Scenes   []models.Scene
	Target   int
	Complete bool
	// 本次运行发出的批次请求数
	Batches int
}

func (r *Result) Achieved() int {
	return len(r.Scenes)
}

type Accumulator struct {
	Source      BatchSource
	BatchSize   int
	MaxStagnant int
}

func New(src BatchSource, batchSize, maxStagnant int) *Accumulator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if maxStagnant <= 0 {
		maxStagnant = DefaultMaxStagnantAttempts
	}
	return &Accumulator{Source: src, BatchSize: batchSize, MaxStagnant: maxStagnant}
}

// Run 反复请求批次，直到 len(scenes) >= target，或连续 MaxStagnant 个批次没有新分镜。
// seed 可以是上一次运行留下的分镜，继续生成就是以这部分分镜再次 Run。
//
// source 返回错误时中止，返回的 Result 仍包含出错前已合并的分镜
func (a *Accumulator) Run(ctx context.Context, seed []models.Scene, target int, sink Sink) (*Result, error) {
	r := &run{
		acc:    a,
		target: target,
		sink:   sink,
		state:  StateRequesting,
	}
	for _, s := range seed {
		r.scenes, _ = models.MergeScene(r.scenes, s)
	}
	r.batch = len(seed)/a.BatchSize + 1

	for !r.state.Terminal() {
		if err := ctx.Err(); err != nil {
			return r.result(), err
		}
		next, err := r.step(ctx)
		if err != nil {
			return r.result(), err
		}
		r.state = next
	}

	if r.state == StateComplete {
		r.emit(Event{Type: EventComplete})
	} else {
		r.emit(Event{Type: EventIncomplete, Stagnant: r.stagnant})
	}
	return r.result(), nil
}

// Resume 以未完成的结果为起点重新进入循环
func (a *Accumulator) Resume(ctx context.Context, partial *Result, sink Sink) (*Result, error) {
	return a.Run(ctx, partial.Scenes, partial.Target, sink)
}

type run struct {
	acc      *Accumulator
	target   int
	sink     Sink
	state    State
	scenes   []models.Scene
	pending  []models.Scene
	batch    int
	batches  int
	stagnant int
}

func (r *run) step(ctx context.Context) (State, error) {
	switch r.state {
	case StateRequesting:
		if len(r.scenes) >= r.target {
			return StateComplete, nil
		}
		if r.stagnant >= r.acc.MaxStagnant {
			return StateIncomplete, nil
		}
		r.emit(Event{Type: EventBatchRequested, Batch: r.batch})
		r.batch++
		r.batches++
		got, err := r.acc.Source.RequestSceneBatch(ctx, models.CloneScenes(r.scenes))
		if err != nil {
			return r.state, err
		}
		r.pending = got
		return StateMerging, nil

	case StateMerging:
		inserted := 0
		for _, s := range r.pending {
			var ok bool
			r.scenes, ok = models.MergeScene(r.scenes, s)
			if !ok {
				continue
			}
			inserted++
			scene := s
			r.emit(Event{Type: EventSceneInserted, Scene: &scene})
		}
		r.pending = nil
		if inserted == 0 {
			return StateStagnating, nil
		}
		r.stagnant = 0
		return StateRequesting, nil

	case StateStagnating:
		r.stagnant++
		r.emit(Event{Type: EventStagnated, Stagnant: r.stagnant})
		return StateRequesting, nil
	}
	return r.state, nil
}

func (r *run) emit(ev Event) {
	if r.sink == nil {
		return
	}
	ev.Progress = models.GenerationProgress{Current: len(r.scenes), Total: r.target}
	r.sink(ev)
}

func (r *run) result() *Result {
	return &Result{
		Scenes:   models.CloneScenes(r.scenes),
		Target:   r.target,
		Complete: r.state == StateComplete,
		Batches:  r.batches,
	}
}
