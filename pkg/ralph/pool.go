package ralph

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"ticketflow/pkg/eventlog"
)

// runParallel feeds ready tickets to n workers through a bounded FIFO. A
// ticket is in flight on at most one worker; each worker owns that
// ticket's retry state until its attempt completes.
func (s *Scheduler) runParallel(ctx context.Context, n int) (*Summary, error) {
	sum := &Summary{}
	queue := make(chan string, n)
	done := make(chan string, n)

	g, gctx := errgroup.WithContext(ctx)
	for i := range n {
		workerID := fmt.Sprintf("w%d", i+1)
		g.Go(func() error {
			for ticket := range queue {
				outcome, err := s.Dispatch(gctx, ticket, workerID)
				if err != nil {
					log.Printf("ralph: %s: %v", workerID, err)
					s.event(gctx, eventlog.TypeError, ticket, workerID, map[string]any{"error": err.Error()})
				} else if outcome.ExitCode != 0 {
					log.Printf("ralph: %s: %s exited %d", workerID, ticket, outcome.ExitCode)
				}
				done <- ticket
			}
			return nil
		})
	}

	err := s.produce(ctx, queue, done, sum)
	close(queue)
	// Every uncollected ticket is still counted in inFlight, which never
	// exceeds n, so workers cannot block on done.
	werr := g.Wait()
	if err == nil {
		err = werr
	}
	return sum, err
}

func (s *Scheduler) release(ticket string) {
	s.mu.Lock()
	delete(s.inFlight, ticket)
	s.mu.Unlock()
}

func (s *Scheduler) inFlightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// produce selects tickets and enqueues them until the iteration budget is
// spent, the backlog drains, or ctx is cancelled.
func (s *Scheduler) produce(ctx context.Context, queue chan<- string, done <-chan string, sum *Summary) error {
	for sum.Iterations < s.Config.MaxIterations {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.collect(done)

		free := cap(queue) - s.inFlightCount()
		if free <= 0 {
			if err := s.waitDone(ctx, done); err != nil {
				return err
			}
			continue
		}

		picked, err := s.selectTickets(ctx, free)
		if err != nil {
			log.Printf("ralph: %v", err)
			s.event(ctx, eventlog.TypeError, "", "", map[string]any{"error": err.Error()})
			sum.Iterations++
			if err := s.sleep(ctx, s.Config.SleepBetweenRetries, nil); err != nil {
				return err
			}
			continue
		}

		if len(picked) == 0 {
			if s.inFlightCount() > 0 {
				// Finished attempts may unblock dependent tickets.
				if err := s.waitDone(ctx, done); err != nil {
					return err
				}
				continue
			}
			sum.Iterations++
			drained, err := s.drained(ctx)
			if err != nil {
				return err
			}
			if drained {
				sum.Drained = true
				return nil
			}
			if err := s.sleep(ctx, s.Config.SleepBetweenRetries, s.Wake); err != nil {
				return err
			}
			continue
		}

		for _, ticket := range picked {
			if sum.Iterations >= s.Config.MaxIterations {
				break
			}
			s.mu.Lock()
			s.inFlight[ticket] = true
			s.mu.Unlock()
			sum.Iterations++
			sum.Dispatched++
			s.event(ctx, eventlog.TypeSelect, ticket, "", map[string]any{"iteration": sum.Iterations})
			select {
			case queue <- ticket:
			case <-ctx.Done():
				s.release(ticket)
				return ctx.Err()
			}
		}

		if err := s.sleep(ctx, s.Config.SleepBetweenTickets, nil); err != nil {
			return err
		}
	}
	return nil
}

// collect releases every ticket whose attempt has finished.
func (s *Scheduler) collect(done <-chan string) {
	for {
		select {
		case ticket := <-done:
			s.release(ticket)
		default:
			return
		}
	}
}

// waitDone blocks until one in-flight attempt finishes.
func (s *Scheduler) waitDone(ctx context.Context, done <-chan string) error {
	select {
	case ticket := <-done:
		s.release(ticket)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
