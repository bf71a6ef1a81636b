package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/signals"
	"github.com/tonefeed/ddexd/pkg/acknowledgements"
	"github.com/tonefeed/ddexd/pkg/clearance"
	"github.com/tonefeed/ddexd/pkg/config"
	"github.com/tonefeed/ddexd/pkg/cursors"
	"github.com/tonefeed/ddexd/pkg/database"
	"github.com/tonefeed/ddexd/pkg/ddex"
	"github.com/tonefeed/ddexd/pkg/migrations"
	"github.com/tonefeed/ddexd/pkg/poller"
	"github.com/tonefeed/ddexd/pkg/releases"
	"github.com/tonefeed/ddexd/pkg/server"
	"github.com/tonefeed/ddexd/pkg/sources"
	"github.com/tonefeed/ddexd/pkg/storage"
	"github.com/tonefeed/ddexd/pkg/users"
	"github.com/tonefeed/ddexd/pkg/version"
	"github.com/tonefeed/ddexd/pkg/worker"
	"github.com/tonefeed/ddexd/pkg/xmls"
)

func main() {
	ctx := context.Background()
	log := logger.New()

	log.Info("starting ddexd", logger.Data{"version": version.Version})

	cfg, err := config.New()
	if err != nil {
		log.Err(err).Fatal("config error")
	}

	if err := os.MkdirAll(cfg.StorageRootPath, 0o755); err != nil {
		log.Err(err).Fatal("storage root error")
	}

	db, err := database.New(cfg)
	if err != nil {
		log.Err(err).Fatal("database error")
	}

	group, err := migrations.BringUpToDate(ctx, db)
	if err != nil {
		log.Err(err).Fatal("migrations error")
	}
	if group.ID == 0 {
		log.Info("no new migrations to run")
	} else {
		log.Info("migrated to new group", logger.Data{"group_id": group.ID, "migration_names": group.Migrations.String()})
	}

	registry, err := sources.Load(cfg.SourcesFilePath)
	if err != nil {
		log.Err(err).Fatal("sources error")
	}
	log.Info("sources loaded", logger.Data{"count": len(registry.All())})

	store := storage.NewFSStore(cfg.StorageRootPath)
	parser := ddex.NewParser(registry, users.NewService(db))
	acks := acknowledgements.NewService(acknowledgements.NewHTTPTransmitter(), cfg.DDEXPartyID, cfg.DDEXPartyName)

	pollerService := poller.New(
		store,
		registry,
		parser,
		releases.NewService(db),
		xmls.NewService(db),
		cursors.NewService(db),
		acks,
	)

	// The platform client ships separately; until one is wired the publish
	// loop only refreshes clearance counts.
	wrkr := worker.New(cfg, store, pollerService, nil, clearance.NewService(db))

	srv, err := server.New(cfg, db, store)
	if err != nil {
		log.Err(err).Fatal("server error")
	}

	graceful := signals.Setup()

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort)
		lc := net.ListenConfig{}
		listener, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			log.Err(err).Fatal("failed to bind port")
		}

		log.Info("server started", logger.Data{"port": listener.Addr().(*net.TCPAddr).Port})

		err = srv.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Err(err).Fatal("server stopped")
		}
		log.Info("server stopped")
	}()

	wrkr.Start()
	log.Info("worker started")

	<-graceful
	log.Info("starting graceful shutdown")

	err = srv.Shutdown(ctx)
	if err != nil {
		log.Err(err).Error("server shutdown error")
	}
	log.Info("server shutdown")

	wrkr.Shutdown()
	log.Info("worker shutdown")

	err = db.Close()
	if err != nil {
		log.Err(err).Error("database close error")
	}
	log.Info("database closed")
}
