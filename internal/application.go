package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/inaworld/inaworld-backend/internal/config"
	"github.com/inaworld/inaworld-backend/internal/lock"
	"github.com/inaworld/inaworld-backend/internal/pubsub"
	"github.com/inaworld/inaworld-backend/internal/repository"
	"github.com/inaworld/inaworld-backend/internal/repository/storage"
	"github.com/inaworld/inaworld-backend/internal/usecase"
	"github.com/inaworld/inaworld-backend/transport/rest"
)

var ErrAddrNotFound = errors.New("redis address string is empty")

// RunApp - runs the application.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	redisAddrString := conf.Redis.GetRedisAddr()
	if redisAddrString == "" {
		return ErrAddrNotFound
	}

	redisStorage, err := storage.New(ctx, redisAddrString)
	if err != nil {
		return fmt.Errorf("could not connect to redis storage: %w", err)
	}

	defer func() {
		if err = redisStorage.Close(); err != nil {
			log.Error("could not close redis storage", "error", err)
		}
	}()

	roomRepo := repository.NewRoomRepository(redisStorage.Connection, conf.Game.GetRoomTTL())
	storyRepo := repository.NewStoryRepository(redisStorage.Connection, conf.Game.GetStoryTTL())
	passphraseRepo := repository.NewPassphraseRepository(redisStorage.Connection, conf.Game.GetPassphraseTTL())

	roomManager := usecase.NewRoomManager(
		logger,
		roomRepo,
		storyRepo,
		passphraseRepo,
		lock.New(redisStorage.Connection),
		pubsub.New(redisStorage.Connection),
		conf.Game.GetPollTimeout(),
		conf.Game.GetLockLease(),
	)

	restServer := rest.New(logger, roomManager, conf.Game.GetPollTimeout())

	httpErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "port", conf.HTTPPort)
		if httpErr := restServer.Start(ctx, conf.HTTPPort); httpErr != nil {
			log.Error("HTTP server error", "error", httpErr)
			httpErrCh <- httpErr
		}
	}()

	select {
	case err = <-httpErrCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
		log.Info("Application context canceled, shutting down")
		return nil
	}
}
