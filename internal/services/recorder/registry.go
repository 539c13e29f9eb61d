package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/zanzhit/camera_dvr/internal/domain/errs"
	"github.com/zanzhit/camera_dvr/internal/domain/models"
)

// Registry owns one Controller per device and is what the host loop ticks.
type Registry struct {
	log *slog.Logger

	mu          sync.RWMutex
	controllers map[string]*Controller
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:         log,
		controllers: make(map[string]*Controller),
	}
}

func (r *Registry) Add(c *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.controllers[c.device.ID] = c
}

func (r *Registry) Get(deviceID string) (*Controller, error) {
	const op = "services.recorder.Get"

	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.controllers[deviceID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, errs.ErrDeviceNotFound)
	}

	return c, nil
}

// Controllers returns every controller ordered by device id.
func (r *Registry) Controllers() []*Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		list = append(list, c)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].device.ID < list[j].device.ID
	})

	return list
}

func (r *Registry) Status(deviceID string) (models.DeviceStatus, error) {
	c, err := r.Get(deviceID)
	if err != nil {
		return models.DeviceStatus{}, err
	}

	return c.Status(), nil
}

func (r *Registry) Recordings(ctx context.Context, deviceID string) (models.Recordings, error) {
	c, err := r.Get(deviceID)
	if err != nil {
		return models.Recordings{}, err
	}

	return c.Recordings(ctx)
}

// Tick runs one tick of the device's controller.
func (r *Registry) Tick(ctx context.Context, deviceID string) error {
	const op = "services.recorder.Registry.Tick"

	c, err := r.Get(deviceID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	c.Tick(ctx)

	return nil
}

func (r *Registry) TickAll(ctx context.Context) {
	for _, c := range r.Controllers() {
		c.Tick(ctx)
	}
}

// Run ticks every device once immediately and then on each interval until
// ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	const op = "services.recorder.Run"

	log := r.log.With(
		slog.String("op", op),
		slog.Duration("interval", interval),
	)

	log.Info("scheduler started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.TickAll(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler stopped")

			return
		case <-ticker.C:
			r.TickAll(ctx)
		}
	}
}

// Shutdown stops every recorder and waits for outstanding passes.
func (r *Registry) Shutdown(ctx context.Context) error {
	var errList []error

	for _, c := range r.Controllers() {
		if err := c.Shutdown(ctx); err != nil {
			errList = append(errList, fmt.Errorf("device %s: %w", c.device.ID, err))
		}
	}

	return errors.Join(errList...)
}
