package pipeline

import (
	"context"
	"sync"

	"github.com/vodloop/hlsfetch/cache"
	"github.com/vodloop/hlsfetch/config"
	"github.com/vodloop/hlsfetch/log"
	"golang.org/x/sync/errgroup"
)

// Coordinator fans the jobs file out over a bounded set of drivers. Jobs is
// the registry the sender API reads for status; it holds every job ever
// submitted this run, finished or not.
type Coordinator struct {
	cli    config.Cli
	driver Driver
	Jobs   *cache.Cache[*Job]
}

func NewCoordinator(cli config.Cli, driver Driver) *Coordinator {
	return &Coordinator{
		cli:    cli,
		driver: driver,
		Jobs:   cache.New[*Job](),
	}
}

// Run executes all jobs with at most MaxJobs drivers in flight and returns
// the per-job outcome. One job failing never cancels its siblings, so the
// group members always return nil and the real errors land in the result map.
func (c *Coordinator) Run(ctx context.Context, jobs []*Job) map[string]error {
	var mu sync.Mutex
	results := make(map[string]error, len(jobs))

	group := errgroup.Group{}
	group.SetLimit(c.cli.MaxJobs)
	for _, job := range jobs {
		job := job
		if existing := c.Jobs.Get(job.ID); existing != nil && !existing.Equal(job) {
			log.Log(job.ID, "job id resubmitted with different metadata, replacing")
		}
		c.Jobs.Store(job.ID, job)
		group.Go(func() error {
			err := c.driver.Run(ctx, job)
			mu.Lock()
			results[job.ID] = err
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()
	return results
}
