package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"stage-ai-go/internal/logger"
	"stage-ai-go/internal/types"

	"github.com/gofrs/uuid/v5"
)

var (
	// ErrRunNotFound 运行ID不存在
	ErrRunNotFound = errors.New("run not found")
	// ErrRunFinished 运行已处于终态，不允许再次变更
	ErrRunFinished = errors.New("run already finished")
)

const mirrorTimeout = 2 * time.Second

// Mirror 运行快照的外部副本（例如 Redis）。写入是尽力而为的，失败只记录日志。
type Mirror interface {
	SaveRunSnapshot(ctx context.Context, run types.Run) error
	LoadRunSnapshot(ctx context.Context, id string) (types.Run, error)
}

// Archive 已结束运行的持久化副本（例如 MySQL），内存和镜像都查不到时使用
type Archive interface {
	LoadFinishedRun(ctx context.Context, id string) (types.Run, error)
}

// Stats 运行计数
type Stats struct {
	Total  int
	Active int
}

// Store 进程内的运行注册表。
// 每个运行只由创建它的后台任务写入；互斥锁只用于保护 map 本身。
type Store struct {
	mu      sync.RWMutex
	runs    map[string]*types.Run
	mirror  Mirror
	archive Archive
	newID   func() (string, error)
	now     func() time.Time
}

// Option Store 配置项
type Option func(*Store)

// WithMirror 配置快照镜像
func WithMirror(m Mirror) Option {
	return func(s *Store) {
		s.mirror = m
	}
}

// WithArchive 配置持久化副本
func WithArchive(a Archive) Option {
	return func(s *Store) {
		s.archive = a
	}
}

// WithIDGenerator 替换运行ID生成器（测试用）
func WithIDGenerator(fn func() (string, error)) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

// WithClock 替换时钟（测试用）
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		s.now = fn
	}
}

// New 创建运行注册表
func New(opts ...Option) *Store {
	s := &Store{
		runs:  make(map[string]*types.Run),
		newID: newRunID,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newRunID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("生成运行ID失败: %w", err)
	}
	return id.String(), nil
}

// Create 以 running 状态、进度0 创建新运行并返回快照
func (s *Store) Create(kind types.RunKind) (types.Run, error) {
	id, err := s.newID()
	if err != nil {
		return types.Run{}, err
	}

	run := &types.Run{
		ID:        id,
		Kind:      kind,
		Status:    types.RunStatusRunning,
		Progress:  0,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	if _, exists := s.runs[id]; exists {
		s.mu.Unlock()
		return types.Run{}, fmt.Errorf("运行ID冲突: %s", id)
	}
	s.runs[id] = run
	snapshot := clone(run)
	s.mu.Unlock()

	s.mirrorSnapshot(snapshot)
	return snapshot, nil
}

// Get 返回运行快照；未知ID返回 ErrRunNotFound
func (s *Store) Get(id string) (types.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return types.Run{}, ErrRunNotFound
	}
	return clone(run), nil
}

// Lookup 依次查本地、镜像、持久化副本（用于查询其他实例或重启前创建的运行）
func (s *Store) Lookup(ctx context.Context, id string) (types.Run, error) {
	if run, err := s.Get(id); err == nil {
		return run, nil
	}

	if s.mirror != nil {
		if run, err := s.mirror.LoadRunSnapshot(ctx, id); err == nil {
			return run, nil
		}
	}
	if s.archive != nil {
		run, err := s.archive.LoadFinishedRun(ctx, id)
		if err == nil {
			return run, nil
		}
		logger.Ctx(ctx).Debug().Err(err).Str("run_id", id).Msg("持久化副本中没有该运行")
	}
	return types.Run{}, ErrRunNotFound
}

// SetProgress 设置进度。进度单调不减，小于当前值的更新被忽略。
func (s *Store) SetProgress(id string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	snapshot, changed, err := s.mutate(id, func(run *types.Run) bool {
		if progress <= run.Progress {
			return false
		}
		run.Progress = progress
		return true
	})
	if err != nil {
		return err
	}
	if changed {
		s.mirrorSnapshot(snapshot)
	}
	return nil
}

// Succeed 将运行置为 succeeded，进度100，并保存结果
func (s *Store) Succeed(id string, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("序列化运行结果失败: %w", err)
	}

	finishedAt := s.now()
	snapshot, _, err := s.mutate(id, func(run *types.Run) bool {
		run.Status = types.RunStatusSucceeded
		run.Progress = 100
		run.Result = payload
		run.FinishedAt = &finishedAt
		return true
	})
	if err != nil {
		return err
	}
	s.mirrorSnapshot(snapshot)
	return nil
}

// Fail 将运行置为 failed，保留最后的进度
func (s *Store) Fail(id string, message string) error {
	finishedAt := s.now()
	snapshot, _, err := s.mutate(id, func(run *types.Run) bool {
		run.Status = types.RunStatusFailed
		run.Error = message
		run.FinishedAt = &finishedAt
		return true
	})
	if err != nil {
		return err
	}
	s.mirrorSnapshot(snapshot)
	return nil
}

// Stats 返回运行总数与进行中的数量
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{Total: len(s.runs)}
	for _, run := range s.runs {
		if run.Status == types.RunStatusRunning {
			stats.Active++
		}
	}
	return stats
}

func (s *Store) mutate(id string, fn func(run *types.Run) bool) (types.Run, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return types.Run{}, false, ErrRunNotFound
	}
	if run.Status.IsTerminal() {
		return types.Run{}, false, ErrRunFinished
	}

	changed := fn(run)
	return clone(run), changed, nil
}

func (s *Store) mirrorSnapshot(run types.Run) {
	if s.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	if err := s.mirror.SaveRunSnapshot(ctx, run); err != nil {
		logger.Warn().
			Err(err).
			Str("run_id", run.ID).
			Msg("同步运行快照到镜像失败")
	}
}

func clone(run *types.Run) types.Run {
	c := *run
	if run.Result != nil {
		c.Result = append(json.RawMessage(nil), run.Result...)
	}
	if run.FinishedAt != nil {
		t := *run.FinishedAt
		c.FinishedAt = &t
	}
	return c
}
