package service

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/playperu/turtlesoup/internal/sweeper"
)

// ExpiredCounts is how many entities the next sweep would remove.
type ExpiredCounts struct {
	Rooms int `json:"rooms"`
	Users int `json:"users"`
}

// RunCleanupTask performs one sweep now.
func (s *Service) RunCleanupTask(ctx context.Context) (sweeper.Result, error) {
	return s.schedule.RunNow(ctx)
}

// StartCleanupSchedule sweeps every hours hours (1..168), replacing any
// running schedule.
func (s *Service) StartCleanupSchedule(hours int) error {
	return s.schedule.Start(hours)
}

// StopCleanupSchedule reports whether a running schedule was stopped.
func (s *Service) StopCleanupSchedule() bool {
	return s.schedule.Stop()
}

func (s *Service) GetCleanupScheduleStatus() sweeper.Status {
	return s.schedule.Status()
}

// ExpiredCounts lists both categories concurrently.
func (s *Service) ExpiredCounts(ctx context.Context) (ExpiredCounts, error) {
	var out ExpiredCounts
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rooms, err := s.cleaner.FindExpiredRooms(gctx)
		out.Rooms = len(rooms)
		return err
	})
	g.Go(func() error {
		users, err := s.cleaner.FindExpiredUsers(gctx)
		out.Users = len(users)
		return err
	})
	return out, g.Wait()
}
