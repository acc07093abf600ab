// Package fanout resolves group labels to devices and delivers one message
// to every resolved device with bounded concurrency.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"push-messenger-backend/internal/model"
	"push-messenger-backend/internal/push"
)

// ErrNoTargets is returned when a broadcast names no target label at all.
var ErrNoTargets = errors.New("no target group labels")

// Resolver is the read side of the store the engine depends on.
type Resolver interface {
	GroupsByLabels(ctx context.Context, labels []string) ([]model.Group, error)
	UserIDsInGroups(ctx context.Context, groupIDs []string) ([]string, error)
	DevicesForUsers(ctx context.Context, userIDs []string) ([]model.Device, error)
}

// Request describes one broadcast.
type Request struct {
	Targets     []string
	Forbidden   []string
	Payload     []byte
	Credentials push.Credentials
}

// Result tallies the delivery attempts of one broadcast.
// SuccessCount + FailureCount always equals the number of resolved devices.
type Result struct {
	SuccessCount int `json:"successCount"`
	FailureCount int `json:"failureCount"`
}

// Total is the number of attempted deliveries.
func (r Result) Total() int { return r.SuccessCount + r.FailureCount }

// Engine runs broadcasts. It holds no per-broadcast state and is safe for concurrent use.
type Engine struct {
	resolver Resolver
	sender   push.Sender
	workers  int
	timeout  time.Duration
	logger   *zap.SugaredLogger
}

// NewEngine creates an engine. workers bounds the in-flight attempts of a
// single broadcast; timeout bounds each attempt, zero meaning no limit.
func NewEngine(resolver Resolver, sender push.Sender, workers int, timeout time.Duration, logger *zap.SugaredLogger) *Engine {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{
		resolver: resolver,
		sender:   sender,
		workers:  workers,
		timeout:  timeout,
		logger:   logger,
	}
}

// Resolve returns the devices of every user in at least one target group and
// in none of the forbidden groups. Unknown labels are ignored.
func (e *Engine) Resolve(ctx context.Context, targets, forbidden []string) ([]model.Device, error) {
	targetUsers, err := e.usersIn(ctx, targets)
	if err != nil {
		return nil, err
	}
	if len(targetUsers) == 0 {
		return []model.Device{}, nil
	}

	excluded, err := e.usersIn(ctx, forbidden)
	if err != nil {
		return nil, err
	}

	userIDs := make([]string, 0, len(targetUsers))
	for id := range targetUsers {
		if _, ok := excluded[id]; !ok {
			userIDs = append(userIDs, id)
		}
	}
	if len(userIDs) == 0 {
		return []model.Device{}, nil
	}

	devices, err := e.resolver.DevicesForUsers(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(devices))
	unique := devices[:0]
	for _, d := range devices {
		if _, ok := seen[d.ID]; ok {
			continue
		}
		seen[d.ID] = struct{}{}
		unique = append(unique, d)
	}
	return unique, nil
}

// usersIn returns the set of users belonging to any of the labelled groups.
func (e *Engine) usersIn(ctx context.Context, labels []string) (userSet, error) {
	if len(labels) == 0 {
		return userSet{}, nil
	}
	groups, err := e.resolver.GroupsByLabels(ctx, labels)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return userSet{}, nil
	}

	ids := make([]string, len(groups))
	for i, g := range groups {
		ids[i] = g.ID
	}
	userIDs, err := e.resolver.UserIDsInGroups(ctx, ids)
	if err != nil {
		return nil, err
	}

	set := make(userSet, len(userIDs))
	for _, id := range userIDs {
		set[id] = struct{}{}
	}
	return set, nil
}

type userSet map[string]struct{}

// Broadcast resolves the request and makes exactly one delivery attempt per
// device. It returns only after every attempt has settled. Delivery failures
// are counted, never returned; an error means resolution itself failed.
func (e *Engine) Broadcast(ctx context.Context, req Request) (Result, error) {
	if len(nonEmpty(req.Targets)) == 0 {
		return Result{}, ErrNoTargets
	}

	devices, err := e.Resolve(ctx, req.Targets, req.Forbidden)
	if err != nil {
		return Result{}, err
	}
	if len(devices) == 0 {
		e.logger.Infof("Broadcast to %v resolved no devices", req.Targets)
		return Result{}, nil
	}

	result := e.dispatch(ctx, devices, req.Payload, req.Credentials)
	e.logger.Infof("Broadcast to %v: %d delivered, %d failed", req.Targets, result.SuccessCount, result.FailureCount)
	return result, nil
}

// dispatch feeds devices to min(workers, len(devices)) goroutines.
func (e *Engine) dispatch(ctx context.Context, devices []model.Device, payload []byte, creds push.Credentials) Result {
	var succeeded, failed atomic.Int64

	size := e.workers
	if len(devices) < size {
		size = len(devices)
	}

	jobs := make(chan model.Device)
	var wg sync.WaitGroup
	for i := 0; i < size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for device := range jobs {
				if err := e.deliver(ctx, device, payload, creds); err != nil {
					failed.Add(1)
					e.logger.Warnf("Delivery to device %s (%s) failed: %v", device.ID, device.Platform, err)
					continue
				}
				succeeded.Add(1)
			}
		}()
	}

	for _, d := range devices {
		jobs <- d
	}
	close(jobs)
	wg.Wait()

	return Result{
		SuccessCount: int(succeeded.Load()),
		FailureCount: int(failed.Load()),
	}
}

// deliver makes one attempt on the calling worker, so the worker bound and
// the Broadcast barrier cover the send itself. A canceled parent context
// still yields an attempt per device, each failing immediately.
func (e *Engine) deliver(ctx context.Context, device model.Device, payload []byte, creds push.Credentials) (err error) {
	target, err := push.TargetFor(device)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panicked: %v", r)
		}
	}()
	return e.sender.Send(ctx, target, payload, creds)
}

func nonEmpty(labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
