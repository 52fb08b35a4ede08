package session

import (
	"errors"
	"sync"

	"github.com/arzzra/rcs_core/pkg/logging"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var (
	// ErrPoolClosed пул остановлен
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrPoolFull очередь задач заполнена
	ErrPoolFull = errors.New("worker pool queue is full")
)

// DefaultPoolSize число воркеров по умолчанию
const DefaultPoolSize = 8

// Pool ограниченный пул воркеров для сетевых действий сессий.
// Submit никогда не блокирует вызывающего.
type Pool struct {
	tasks chan func()
	wg    sync.WaitGroup

	closeMu sync.RWMutex
	closed  bool

	running   atomic.Int32
	completed atomic.Uint64
	panics    atomic.Uint64

	logger *zap.Logger
}

// NewPool запускает size воркеров с очередью queue задач
func NewPool(size, queue int, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if queue < size {
		queue = size * 4
	}
	p := &Pool{
		tasks:  make(chan func(), queue),
		logger: logging.Named(logger, "pool"),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

func (p *Pool) run(task func()) {
	p.running.Inc()
	defer p.running.Dec()
	defer p.completed.Inc()
	defer func() {
		if r := recover(); r != nil {
			p.panics.Inc()
			p.logger.Error("task panicked", zap.Any("panic", r))
		}
	}()
	task()
}

// Submit ставит задачу в очередь
func (p *Pool) Submit(task func()) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrPoolFull
	}
}

// Close перестает принимать задачи и ждет выполнения поставленных
func (p *Pool) Close() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.closeMu.Unlock()
	p.wg.Wait()
}

// Running число выполняющихся задач
func (p *Pool) Running() int { return int(p.running.Load()) }

// Completed число завершенных задач
func (p *Pool) Completed() uint64 { return p.completed.Load() }

// Panics число задач, завершившихся паникой
func (p *Pool) Panics() uint64 { return p.panics.Load() }
