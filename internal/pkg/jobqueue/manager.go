package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const defaultHealthInterval = 5 * time.Minute

// Manager runs a queue together with its periodic health report
type Manager struct {
	queue          *Queue
	healthTicker   *time.Ticker
	healthInterval time.Duration
	stopCh         chan struct{}
	wg             sync.WaitGroup
	mu             sync.Mutex
	running        bool
}

func NewManager(q *Queue) *Manager {
	return &Manager{queue: q, healthInterval: defaultHealthInterval, stopCh: make(chan struct{})}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	m.healthTicker = time.NewTicker(m.healthInterval)
	m.wg.Add(1)
	go m.healthWorker()
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")
	if m.healthTicker != nil {
		m.healthTicker.Stop()
	}
	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	m.queue.Stop()
	log.Info("[JobQueue Manager] Stopped successfully")
}

func (m *Manager) healthWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.healthTicker.C:
			m.reportOnce(context.Background())
		}
	}
}

// reportOnce logs the queue depth and warns while dead letters are waiting.
func (m *Manager) reportOnce(ctx context.Context) {
	pending, err := m.queue.GetQueueSize(ctx)
	if err != nil {
		log.Errorf("[JobQueue Manager] Queue size: %v", err)
		return
	}
	processing, _ := m.queue.GetProcessingSize(ctx)
	dead, err := m.queue.DeadLetterCount(ctx)
	if err != nil {
		log.Errorf("[JobQueue Manager] Dead letter count: %v", err)
		return
	}

	log.Debugf("[JobQueue Manager] pending=%d processing=%d dead=%d", pending, processing, dead)
	if dead > 0 {
		log.Warnf("[JobQueue Manager] %d mails in dead letters; inspect with `thirdpath deadletters list`", dead)
	}
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
