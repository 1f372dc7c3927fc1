package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexjbarnes/pychat-sync/internal/chat"
	"github.com/alexjbarnes/pychat-sync/internal/config"
	"github.com/alexjbarnes/pychat-sync/internal/console"
	apperrors "github.com/alexjbarnes/pychat-sync/internal/errors"
	"github.com/alexjbarnes/pychat-sync/internal/logging"
	"github.com/alexjbarnes/pychat-sync/internal/models"
	"github.com/alexjbarnes/pychat-sync/internal/notify"
	"github.com/alexjbarnes/pychat-sync/internal/outbox"
	"github.com/alexjbarnes/pychat-sync/internal/state"
	"github.com/alexjbarnes/pychat-sync/internal/store"
	"github.com/alexjbarnes/pychat-sync/pychat"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		envFile     string
		roomID      int64
		showVersion bool
	)

	flags := pflag.NewFlagSet("pychat-sync", pflag.ContinueOnError)
	flags.StringVar(&envFile, "env-file", "", "load configuration from this file instead of .env")
	flags.Int64Var(&roomID, "room", 0, "room to open (overrides PYCHAT_ROOM_ID)")
	flags.BoolVar(&showVersion, "version", false, "print version and exit")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}

		return err
	}

	if showVersion {
		fmt.Println("pychat-sync", Version)
		return nil
	}

	var envFiles []string
	if envFile != "" {
		envFiles = append(envFiles, envFile)
	}

	cfg, err := config.Load(envFiles...)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if roomID > 0 {
		cfg.RoomID = roomID
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("pychat-sync starting",
		slog.String("version", Version),
		slog.String("host", cfg.Host),
		slog.Bool("outbox", cfg.OutboxDir != ""),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appState, err := openState(cfg)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	return runChat(ctx, cfg, appState, logger)
}

func openState(cfg *config.Config) (*state.State, error) {
	if cfg.StatePath != "" {
		return state.LoadAt(cfg.StatePath)
	}

	return state.Load()
}

// runChat connects to the server and runs the event loop, the console
// and the outbox watcher until one of them fails or ctx is cancelled.
func runChat(ctx context.Context, cfg *config.Config, appState *state.State, logger *slog.Logger) error {
	if err := cfg.ResolveSessionID(appState.SessionID()); err != nil {
		return err
	}

	if err := appState.SetSessionID(cfg.SessionID); err != nil {
		logger.Warn("failed to cache session", slog.String("error", err.Error()))
	}

	last, err := appState.GetConnection(cfg.Host)
	if err != nil {
		return fmt.Errorf("reading connection state: %w", err)
	}

	cfg.ResolveRoomID(last.ActiveRoomID)

	if err := appState.InitHostBuckets(cfg.Host); err != nil {
		return fmt.Errorf("initializing host buckets: %w", err)
	}

	st := store.New(logging.Component(logger, "store"))
	st.SetActiveRoom(cfg.RoomID)

	registry := chat.NewRegistry(logging.Component(logger, "registry"))
	reconciler := chat.NewReconciler(st, registry, cfg.DefaultIcon, logging.Component(logger, "reconciler"))
	interp := notify.New(os.Stdout, st, logging.Component(logger, "notify"))

	// remember persists the connection and room so the next run can
	// restore both. Called from the event loop goroutine.
	remember := func(wsID string) {
		conn := state.Connection{
			WsID:         wsID,
			UserID:       st.UserInfo().UserID,
			ActiveRoomID: st.ActiveRoomID(),
		}
		if err := appState.SetConnection(cfg.Host, conn); err != nil {
			logger.Warn("failed to save connection state", slog.String("error", err.Error()))
		}
	}

	client := pychat.NewClient(pychat.Config{
		Host:      cfg.Host,
		SessionID: cfg.SessionID,
		WsID:      last.WsID,
		Insecure:  cfg.Insecure,
		Session:   st,
		Events:    reconciler,
		OnEffects: interp.Execute,
		OnConnect: remember,
	}, logging.Component(logger, "client"))
	defer client.Close()

	// gctx is cancelled once g.Wait returns, which releases upload
	// callbacks still waiting on the stopped event loop.
	g, gctx := errgroup.WithContext(ctx)

	uploader := pychat.NewUploader(gctx, nil, cfg.Host, cfg.SessionID, cfg.Insecure, client, logging.Component(logger, "upload"))
	defer uploader.Wait()

	orchestrator := chat.NewOrchestrator(registry, st, uploader, logging.Component(logger, "orchestrator"))
	sender := chat.NewSender(st, registry, orchestrator, client, logging.Component(logger, "sender"))
	origins := chat.NewOriginSource()

	var watcher *outbox.Watcher
	if cfg.OutboxDir != "" {
		submitter := &outboxSubmitter{client: client, sender: sender, store: st, origins: origins}
		watcher = outbox.NewWatcher(cfg.OutboxDir, cfg.Host, appState, submitter, logging.Component(logger, "outbox"))

		// Set before the event loop starts; the registry is loop-owned.
		registry.OnResolve(watcher.Confirm)
	}

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to chat server: %w", err)
	}

	g.Go(func() error {
		return client.Listen(gctx)
	})

	con := console.New(console.Config{
		Loop:         client,
		Sender:       sender,
		Store:        st,
		History:      client,
		Origins:      origins,
		HistoryCount: cfg.HistoryCount,
		OnRoomChange: func(roomID int64) {
			interp.Seen(roomID)
			remember(client.WsID())
		},
		Out: os.Stdout,
	}, logging.Component(logger, "console"))

	g.Go(func() error {
		if err := con.Run(gctx, os.Stdin); err != nil {
			return err
		}

		logger.Info("input closed, shutting down")

		return errStdinClosed
	})

	if watcher != nil {
		g.Go(func() error {
			return watcher.Watch(gctx)
		})
	}

	err = g.Wait()

	// The event loop has stopped, so the registry is safe to touch here.
	// Undelivered outbox files stay pending in the ledger and are sent
	// again on the next run.
	if n := registry.Flush(); n > 0 {
		logger.Warn("dropping unsent operations", slog.Int("count", n))
	}

	if errors.Is(err, errStdinClosed) || errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// errStdinClosed stops the errgroup when the console reaches EOF.
var errStdinClosed = errors.New("stdin closed")

// outboxSubmitter sends outbox files to the active room through the
// event loop.
type outboxSubmitter struct {
	client  *pychat.Client
	sender  *chat.Sender
	store   *store.Store
	origins *chat.OriginSource
}

func (s *outboxSubmitter) Connected() bool {
	return s.client.Connected()
}

func (s *outboxSubmitter) Submit(ctx context.Context, file models.UploadFile, record func(outbox.Receipt) error) error {
	var err error

	doErr := s.client.Do(ctx, func() {
		roomID := s.store.ActiveRoomID()
		if _, ok := s.store.Room(roomID); !ok {
			err = fmt.Errorf("%w: active room %d", apperrors.ErrRoomNotFound, roomID)
			return
		}

		receipt := outbox.Receipt{RoomID: roomID, OriginID: s.origins.Next()}
		if err = record(receipt); err != nil {
			err = fmt.Errorf("recording outbox file: %w", err)
			return
		}

		s.sender.SendMessage("", roomID, []models.UploadFile{file}, receipt.OriginID, time.Now())
	})
	if doErr != nil {
		return doErr
	}

	return err
}
