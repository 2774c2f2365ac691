// Command staticchild is an example supervised child: a static file server
// that announces ready once listening and announces its exit on SIGTERM or
// SIGINT.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/tessro/tinymon/internal/ipc"
	"github.com/tessro/tinymon/internal/logging"
)

var (
	addr string
	root string
)

var rootCmd = &cobra.Command{
	Use:          "staticchild [args...]",
	Short:        "Serve static files under tinymon",
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logging.New(cmd.ErrOrStderr(), logging.ParseLevel(os.Getenv("LOG_LEVEL")))
		dir, err := filepath.Abs(root)
		if err != nil {
			return err
		}
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		peer, err := ipc.Connect()
		if err != nil {
			return err
		}

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, unix.SIGTERM, unix.SIGINT)
		defer signal.Stop(sigs)

		return serve(cmd.Context(), log, ln, dir, args, sigs, peer)
	},
}

// serve runs the file server on ln until ctx is done or a signal arrives
// on sigs. The exit announced to peer carries 128+signo for a signal and 0
// otherwise.
func serve(ctx context.Context, log *slog.Logger, ln net.Listener, dir string, args []string, sigs <-chan os.Signal, peer *ipc.Peer) error {
	cwd, _ := os.Getwd()
	log.Info("launch staticchild", logging.KindKey, logging.KindAction,
		"cwd", cwd, "args", len(args))
	for i, a := range args {
		log.Debug(fmt.Sprintf("  %d: %s", i, a))
	}

	fs := http.FileServer(http.Dir(dir))
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Info("request "+r.URL.Path, logging.KindKey, logging.KindEvent)
			fs.ServeHTTP(w, r)
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	log.Info(fmt.Sprintf("listening on http://%s/ serving %s", ln.Addr(), dir), logging.KindKey, logging.KindEvent)
	if err := peer.AnnounceReady(); err != nil {
		log.Warn("announce ready failed", logging.KindKey, logging.KindError, "error", err)
	}

	code := 0
	select {
	case err := <-errCh:
		return err
	case sig := <-sigs:
		code = exitCode(sig)
		log.Info("received "+sig.String(), logging.KindKey, logging.KindEvent)
	case <-ctx.Done():
	}

	log.Info("shutting down", logging.KindKey, logging.KindAction)
	if err := peer.AnnounceExit(code); err != nil {
		log.Warn("announce exit failed", logging.KindKey, logging.KindError, "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// exitCode follows the shell convention for death by signal.
func exitCode(sig os.Signal) int {
	if s, ok := sig.(unix.Signal); ok {
		return 128 + int(s)
	}
	return 1
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", "localhost:3000", "listen address")
	rootCmd.Flags().StringVar(&root, "root", "public", "directory to serve")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
