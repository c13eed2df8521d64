package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pubwiki/wikifarm/pkg/log"
	"github.com/pubwiki/wikifarm/pkg/queue"
)

var (
	// ProvisionTotal counts finished provisioning runs by terminal status.
	ProvisionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wikifarm_provision_total",
		Help: "Finished provisioning runs by terminal status",
	}, []string{"status"})

	// PhaseSeconds observes the wall-clock duration of completed pipeline
	// phases.
	PhaseSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wikifarm_provision_phase_seconds",
		Help:    "Duration of completed provisioning phases",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"phase"})

	// QueueDepth tracks the length of the shared job queue.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wikifarm_queue_depth",
		Help: "Jobs waiting on the shared provisioning queue",
	})
)

// Sampler periodically samples queue depth into QueueDepth.
type Sampler struct {
	jobs   *queue.Jobs
	stopCh chan struct{}
}

// NewSampler creates a queue-depth sampler.
func NewSampler(jobs *queue.Jobs) *Sampler {
	return &Sampler{
		jobs:   jobs,
		stopCh: make(chan struct{}),
	}
}

// Start begins sampling every 15 seconds.
func (s *Sampler) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		s.sample()
		for {
			select {
			case <-ticker.C:
				s.sample()
			case <-s.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the sampler.
func (s *Sampler) Stop() {
	close(s.stopCh)
}

func (s *Sampler) sample() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n, err := s.jobs.Len(ctx)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("queue depth sample failed")
		return
	}
	QueueDepth.Set(float64(n))
}
