package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/familyportal/devicelink/internal/repository"
)

const sweepTimeout = 30 * time.Second

// CleanupJob periodically removes pairing codes past their lifetime. Reads
// already hide expired codes, so a late sweep only costs memory.
type CleanupJob struct {
	pairingCodeRepo repository.PairingCodeRepository
	interval        time.Duration
	now             func() time.Time
	done            chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
}

func NewCleanupJob(pairingCodeRepo repository.PairingCodeRepository, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		pairingCodeRepo: pairingCodeRepo,
		interval:        interval,
		now:             time.Now,
		done:            make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	j.wg.Add(1)
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

// Stop waits for an in-flight sweep to finish. It is safe to call twice.
func (j *CleanupJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
		j.wg.Wait()
		log.Info().Msg("cleanup job stopped")
	})
}

func (j *CleanupJob) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	now := j.now()
	j.runCleanup(ctx, "pairing codes", func(ctx context.Context) (int64, error) {
		return j.pairingCodeRepo.DeleteExpired(ctx, now)
	})
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
