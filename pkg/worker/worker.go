// Package worker schedules the background loops: polling delivery buckets,
// draining pending publishes, and refreshing clearance counts.
package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tonefeed/ddexd/pkg/clearance"
	"github.com/tonefeed/ddexd/pkg/config"
	"github.com/tonefeed/ddexd/pkg/poller"
	"github.com/tonefeed/ddexd/pkg/publisher"
	"github.com/tonefeed/ddexd/pkg/storage"
)

type Worker struct {
	config *config.Config
	log    logger.Logger

	store     storage.ObjectStore
	poller    *poller.Poller
	publisher *publisher.Service
	clearance *clearance.Service

	shutdown       chan struct{}
	donePolling    chan struct{}
	donePublishing chan struct{}
}

// New builds the worker. publisherService may be nil when no platform client
// is wired; the publish loop then only refreshes clearance counts.
func New(cfg *config.Config, store storage.ObjectStore, pollerService *poller.Poller, publisherService *publisher.Service, clearanceService *clearance.Service) *Worker {
	return &Worker{
		config: cfg,
		log:    logger.New(),

		store:     store,
		poller:    pollerService,
		publisher: publisherService,
		clearance: clearanceService,

		shutdown:       make(chan struct{}),
		donePolling:    make(chan struct{}),
		donePublishing: make(chan struct{}),
	}
}

func (w *Worker) Start() {
	go w.pollLoop()
	go w.publishLoop()
}

// pollLoop sweeps every configured source serially, then sleeps. The timer
// only rearms after a sweep finishes, so at most one poll per source is in
// flight.
func (w *Worker) pollLoop() {
	timer := time.NewTimer(w.config.PollInterval)

	for {
		select {
		case <-w.shutdown:
			w.donePolling <- struct{}{}
			return
		case <-timer.C:
			ctx := w.runContext("poll")
			if err := w.poller.PollAll(ctx, false); err != nil {
				logger.FromContext(ctx).Err(err).Error("poll error")
			}
			timer.Reset(w.config.PollInterval)
		}
	}
}

func (w *Worker) publishLoop() {
	timer := time.NewTimer(w.config.PublishInterval)

	for {
		select {
		case <-w.shutdown:
			w.donePublishing <- struct{}{}
			return
		case <-timer.C:
			ctx := w.runContext("publish")
			log := logger.FromContext(ctx)

			if w.config.ReportsBucket != "" {
				if err := w.clearance.SweepReports(ctx, w.store, w.config.ReportsBucket); err != nil {
					log.Err(err).Error("clearance report sweep error")
				}
			} else if err := w.clearance.UpdateCounts(ctx); err != nil {
				log.Err(err).Error("clearance count error")
			}
			if w.publisher != nil {
				if err := w.publisher.Drain(ctx); err != nil {
					log.Err(err).Error("publish drain error")
				}
			}
			timer.Reset(w.config.PublishInterval)
		}
	}
}

func (w *Worker) runContext(kind string) context.Context {
	log := w.log.ID(uuid.NewString()).Root(logger.Data{"loop": kind})
	return log.WithContext(context.Background())
}

func (w *Worker) Shutdown() {
	close(w.shutdown)

	<-w.donePolling
	<-w.donePublishing
}
