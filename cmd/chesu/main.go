package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/samueldurantes/chesu-client/internal/api"
	"github.com/samueldurantes/chesu-client/internal/archive"
	"github.com/samueldurantes/chesu-client/internal/authstore"
	"github.com/samueldurantes/chesu-client/internal/board"
	"github.com/samueldurantes/chesu-client/internal/channel"
	appcfg "github.com/samueldurantes/chesu-client/internal/config"
	"github.com/samueldurantes/chesu-client/internal/domain"
	"github.com/samueldurantes/chesu-client/internal/gamesync"
	"github.com/samueldurantes/chesu-client/internal/obslog"
	"github.com/samueldurantes/chesu-client/internal/render"
)

func main() {
	var (
		gameFlag     = flag.String("game", "", "join an existing game by id")
		createFlag   = flag.Bool("create", false, "create a new game and wait for an opponent")
		pairFlag     = flag.Bool("pair", false, "ask the server for a quick pairing")
		resumeFlag   = flag.Bool("resume", false, "reattach to the last game this profile played")
		registerFlag = flag.Bool("register", false, "register a new account before logging in")
		invoiceFlag  = flag.Int("invoice", 0, "create a deposit invoice for the given amount and exit")
		checkFlag    = flag.Bool("invoice-check", false, "show the pending deposit invoice and exit")
		withdrawFlag = flag.String("withdraw", "", "pay out to the given lightning invoice and exit")
	)
	flag.Parse()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := api.NewClient(cfg.BaseURL)

	// Stored sessions are optional; without redis every run logs in.
	var store *authstore.Store
	if cfg.RedisURL != "" {
		store, err = authstore.Open(ctx, cfg.RedisURL)
		if err != nil {
			obslog.L().Warn("auth_store_unavailable", zap.Error(err))
			store = nil
		} else {
			defer store.Close()
		}
	}

	viewer, err := authenticate(ctx, cfg, client, store, *registerFlag)
	if err != nil {
		log.Fatalf("login error: %v", err)
	}
	obslog.L().Info("logged_in",
		zap.String("player_id", viewer.ID.String()),
		zap.String("username", viewer.Username))

	if *invoiceFlag > 0 {
		runInvoice(ctx, client, *invoiceFlag)
		return
	}
	if *checkFlag {
		runInvoiceCheck(ctx, client)
		return
	}
	if *withdrawFlag != "" {
		runWithdraw(ctx, client, *withdrawFlag)
		return
	}

	gameID, err := resolveGame(ctx, cfg, client, store, *gameFlag, *createFlag, *pairFlag, *resumeFlag)
	if err != nil {
		log.Fatalf("game error: %v", err)
	}
	if store != nil {
		_ = store.SaveLastGame(ctx, cfg.Profile, gameID)
	}

	var transport channel.Transport
	switch cfg.Transport {
	case "poll":
		transport = channel.NewPoller(gameID, client.GameDetail, client.PlayMoveHTTP, cfg.PollInterval)
	default:
		transport = channel.NewWebSocket(cfg.WSURL+"/game/"+gameID.String(), gameID)
	}

	syncer := gamesync.New(gameID, *viewer, client.GameDetail, transport)
	renderer := render.NewRenderer()
	terminal := make(chan struct{}, 1)
	syncer.OnChange(func(v gamesync.View) {
		printView(v)
		writeBoardImage(renderer, cfg.BoardImagePath, v)
		signalTerminal(terminal, v)
	})

	if err := syncer.Start(ctx); err != nil {
		log.Fatalf("sync error: %v", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = syncer.Close(closeCtx)
	}()

	var repo *archive.Repository
	if cfg.DatabaseURL != "" {
		repo, err = archive.NewRepository(cfg.DatabaseURL)
		if err != nil {
			obslog.L().Warn("archive_unavailable", zap.Error(err))
			repo = nil
		} else {
			defer repo.Close()
		}
	}

	fmt.Printf("attached to game %s as %s\n", gameID, viewer.Username)
	fmt.Println("type a move in algebraic notation, or /quit to leave")
	runInputLoop(ctx, syncer, os.Stdin, terminal, func() {
		archiveResult(ctx, client, repo, store, cfg.Profile, gameID)
	})
}

func authenticate(ctx context.Context, cfg *appcfg.AppConfig, client *api.Client, store *authstore.Store, register bool) (*domain.Player, error) {
	if store != nil && !register {
		cred, err := store.ResumeOrNil(ctx, cfg.Profile, func(ctx context.Context, token string) (*domain.Player, error) {
			client.SetToken(token)
			return client.Me(ctx)
		})
		if err == nil && cred != nil {
			client.SetToken(cred.Token)
			return &domain.Player{ID: cred.PlayerID, Username: cred.Username}, nil
		}
	}

	var (
		viewer *domain.Player
		err    error
	)
	if register {
		username, _, _ := strings.Cut(cfg.Email, "@")
		viewer, err = client.Register(ctx, username, cfg.Email, cfg.Password)
	} else {
		viewer, err = client.Login(ctx, cfg.Email, cfg.Password)
	}
	if err != nil {
		return nil, err
	}

	if store != nil {
		_ = store.SaveCredentials(ctx, cfg.Profile, &authstore.Credentials{
			Token:    client.Token(),
			PlayerID: viewer.ID,
			Username: viewer.Username,
		})
	}
	return viewer, nil
}

func resolveGame(ctx context.Context, cfg *appcfg.AppConfig, client *api.Client, store *authstore.Store, gameFlag string, create, pair, resume bool) (uuid.UUID, error) {
	switch {
	case gameFlag != "":
		id, err := uuid.Parse(gameFlag)
		if err != nil {
			return uuid.Nil, fmt.Errorf("bad game id %q: %v", gameFlag, err)
		}
		if _, err := client.JoinGame(ctx, id); err != nil {
			return uuid.Nil, err
		}
		return id, nil
	case create:
		return client.CreateGame(ctx)
	case pair:
		return client.QuickPairing(ctx)
	case resume && store != nil:
		id, err := store.LastGame(ctx, cfg.Profile)
		if err != nil {
			return uuid.Nil, err
		}
		if id == uuid.Nil {
			return uuid.Nil, fmt.Errorf("no previous game for profile %q", cfg.Profile)
		}
		return id, nil
	}
	return uuid.Nil, fmt.Errorf("pick one of -game, -create, -pair or -resume")
}

// gameSession is the slice of the synchronizer the input loop needs.
type gameSession interface {
	View() gamesync.View
	AttemptMove(ctx context.Context, san string) error
}

// signalTerminal nudges the terminal channel when the game is decided.
// Non-blocking so the change callback never stalls on a full channel.
func signalTerminal(terminal chan<- struct{}, v gamesync.View) {
	if v.Phase != gamesync.PhaseTerminal {
		return
	}
	select {
	case terminal <- struct{}{}:
	default:
	}
}

// runInputLoop services user input and the terminal-state signal.
// onTerminal fires as soon as the game is decided, whether or not the
// user ever types another line.
func runInputLoop(ctx context.Context, session gameSession, in io.Reader, terminal <-chan struct{}, onTerminal func()) {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	handled := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-terminal:
			if !handled {
				handled = true
				onTerminal()
			}
		case line, ok := <-lines:
			if !ok {
				return
			}
			switch {
			case line == "":
			case line == "/quit" || line == "/q":
				return
			case line == "/fen":
				fmt.Println(session.View().FEN)
			case line == "/moves":
				fmt.Println(strings.Join(session.View().MoveLog, " "))
			default:
				if err := session.AttemptMove(ctx, line); err != nil {
					fmt.Printf("rejected: %v\n", err)
				}
			}
		}
	}
}

func archiveResult(ctx context.Context, client *api.Client, repo *archive.Repository, store *authstore.Store, profile string, gameID uuid.UUID) {
	if store != nil {
		_ = store.ClearLastGame(ctx, profile)
	}
	// Settlement may have changed the account; refresh the server-side
	// identity so a stored session does not go stale.
	if _, err := client.Me(ctx); err != nil {
		obslog.L().Debug("identity_refresh_failed", zap.Error(err))
	}
	if repo == nil {
		return
	}
	session, err := client.GameDetail(ctx, gameID)
	if err != nil {
		obslog.L().Warn("archive_fetch_failed", zap.Error(err))
		return
	}
	if err := repo.SaveResult(ctx, session, time.Now()); err != nil {
		obslog.L().Warn("archive_save_failed", zap.Error(err))
		return
	}
	obslog.L().Info("game_archived", zap.String("game_id", gameID.String()))
}

func printView(v gamesync.View) {
	switch v.Phase {
	case gamesync.PhaseInitializing:
		fmt.Println("syncing...")
		return
	case gamesync.PhaseTerminal:
		fmt.Printf("game over: %s\n", v.Lifecycle)
		return
	}

	fmt.Printf("[%s] vs %s | %s to move", v.Lifecycle, v.OpponentName, v.SideToMove)
	if v.CanMove {
		fmt.Print(" (your turn)")
	}
	if v.OpponentGone {
		fmt.Print(" | opponent disconnected")
	}
	if v.ChannelClosed {
		fmt.Print(" | connection lost, restart to re-sync")
	}
	if v.Corrupt {
		fmt.Print(" | board frozen: inconsistent move history")
	}
	fmt.Println()
	if n := len(v.MoveLog); n > 0 {
		fmt.Printf("last move: %s (%d plies)\n", v.MoveLog[n-1], n)
	}
}

func writeBoardImage(renderer *render.Renderer, path string, v gamesync.View) {
	if path == "" {
		return
	}
	pos, err := board.Reconstruct(v.MoveLog)
	if err != nil {
		return
	}
	raw, err := renderer.RenderPNG(pos, v.Orientation)
	if err != nil {
		obslog.L().Warn("board_render_failed", zap.Error(err))
		return
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		obslog.L().Warn("board_write_failed", zap.String("path", path), zap.Error(err))
	}
}

func runInvoice(ctx context.Context, client *api.Client, amount int) {
	inv, err := client.CreateInvoice(ctx, amount)
	if err != nil {
		log.Fatalf("invoice error: %v", err)
	}
	fmt.Printf("pay this invoice to fund your account:\n%s\n", inv)
}

func runInvoiceCheck(ctx context.Context, client *api.Client) {
	inv, err := client.CheckInvoice(ctx)
	if err != nil {
		log.Fatalf("invoice check error: %v", err)
	}
	if inv == "" {
		fmt.Println("no pending invoice")
		return
	}
	fmt.Println(inv)
}

func runWithdraw(ctx context.Context, client *api.Client, invoice string) {
	if err := client.Withdraw(ctx, invoice); err != nil {
		log.Fatalf("withdraw error: %v", err)
	}
	fmt.Println("withdrawal submitted")
}
