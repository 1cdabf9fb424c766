package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ManouchehrRasoulli/fsmonitor/internal"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/client"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/event"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/filehandler"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/filter"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/logger"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/monitor"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/protocol"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/server"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/user"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// absPaths resolves command line paths against the working directory and
// falls back to the configured ones.
func absPaths(args []string, configured []string) ([]string, error) {
	if len(args) == 0 {
		return configured, nil
	}
	paths := make([]string, 0, len(args))
	for _, arg := range args {
		p, err := filepath.Abs(arg)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func newWatcher(cfg *pkg.Config, lg *log.Logger) (*internal.Watcher, error) {
	options := []internal.Option{
		internal.WithJournalSize(cfg.Journal.Size),
		internal.WithRetention(cfg.Journal.Retain),
		internal.WithBatchSize(cfg.Journal.BatchSize),
	}
	if lg != nil {
		options = append(options, internal.WithLogger(lg))
	}
	return internal.NewWatcher(options...)
}

func newMonitor(cfg *pkg.Config, w *internal.Watcher, lg *log.Logger) *monitor.Monitor {
	options := []monitor.Option{monitor.WithTeardownTimeout(cfg.TeardownTimeout)}
	if lg != nil {
		options = append(options, monitor.WithLogger(lg))
	}
	return monitor.New(w, nil, options...)
}

func newFilter(cfg *pkg.Config) (*filter.Filter, error) {
	return filter.New(append(append([]string(nil), filter.DefaultPatterns...), cfg.Ignore...)...)
}

func watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [paths...]",
		Short: "Print changes below the given paths until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			paths, err := absPaths(args, cfg.Paths)
			if err != nil {
				return err
			}
			cfg.Paths = paths
			if err := cfg.Validate(); err != nil {
				return err
			}
			if len(paths) == 0 {
				return errors.New("no paths to watch")
			}

			lg, clg := newLoggers(cfg)
			ignore, err := newFilter(cfg)
			if err != nil {
				return err
			}

			w, err := newWatcher(cfg, engineLogger(lg))
			if err != nil {
				return err
			}
			defer w.Close()

			m := newMonitor(cfg, w, engineLogger(lg))
			defer m.Close()
			m.SetDelegate(monitor.DelegateFunc(func(e event.FileEvent) {
				if !ignore.Ignored(e.Path) {
					clg.Printe(e)
				}
			}))

			ctx, stop := signalContext(cmd)
			defer stop()

			for _, p := range paths {
				if err := m.Attach(p); err != nil {
					clg.Printcf(logger.ColorRed, "watch error : attach %s: %v", p, err)
					continue
				}
				clg.Printcf(logger.ColorGreen, "watch : attached %s", p)
			}

			<-ctx.Done()

			var errs error
			for _, p := range m.Paths() {
				for i := m.Count(p); i > 0; i-- {
					errs = errors.Join(errs, m.Detach(p))
				}
			}
			clg.Printcf(logger.ColorBlue, "watch : stopped")
			return errs
		},
	}
}

func serveCommand() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Share path notifications with remote clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Server.Address = address
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			lg, clg := newLoggers(cfg)
			ignore, err := newFilter(cfg)
			if err != nil {
				return err
			}

			var um *user.UserManager
			if cfg.Server.PwFile != "" {
				um = &user.UserManager{PwFile: cfg.Server.PwFile}
				if err := um.Init(); err != nil {
					return fmt.Errorf("user manager: %w", err)
				}
			}

			w, err := newWatcher(cfg, engineLogger(lg))
			if err != nil {
				return err
			}
			defer w.Close()

			m := newMonitor(cfg, w, engineLogger(lg))
			defer m.Close()

			handler := filehandler.NewHandler(filehandler.WithLogger(lg), filehandler.WithFilter(ignore))
			options := []server.Option{
				server.WithLogger(lg),
				server.WithFileHandler(handler),
				server.WithFilter(ignore),
				server.WithQueueLength(cfg.Server.QueueLength),
			}
			if um != nil {
				options = append(options, server.WithUserManager(um))
			}
			if cfg.Server.TLS.Cert != "" {
				options = append(options, server.WithTLS(&server.ServerTLS{Cert: cfg.Server.TLS.Cert, Key: cfg.Server.TLS.Key}))
			}
			srv := server.NewServer(cfg.Server.Address, m, options...)
			m.SetDelegate(monitor.Fanout(handler, srv))

			// configured paths are held by the server itself for its lifetime
			for _, p := range cfg.Paths {
				if err := m.Attach(p); err != nil {
					clg.Printcf(logger.ColorRed, "server error : attach %s: %v", p, err)
					continue
				}
				if err := handler.Track(p); err != nil {
					clg.Printcf(logger.ColorRed, "server error : inventory of %s: %v", p, err)
				}
			}

			if err := srv.Listen(); err != nil {
				return err
			}
			clg.Printcf(logger.ColorGreen, "server : listening on %s", srv.Addr())

			ctx, stop := signalContext(cmd)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				err := srv.Run()
				if errors.Is(err, server.ErrServerClosed) {
					return nil
				}
				return err
			})
			g.Go(func() error {
				<-ctx.Done()
				return srv.Close()
			})

			err = g.Wait()
			clg.Printcf(logger.ColorBlue, "server : stopped")
			return err
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "listen address, overrides server.address")
	return cmd
}

func tailCommand() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "tail [paths...]",
		Short: "Print notifications a server sends for the given paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Client.Address = address
			}
			// paths name the server's file system, so they are taken as given
			paths := args
			if len(paths) == 0 {
				paths = cfg.Paths
			}
			if len(paths) == 0 {
				return errors.New("no paths to tail")
			}

			lg, clg := newLoggers(cfg)

			options := []client.Option{
				client.WithCredential(cfg.Client.Username, cfg.Client.Password),
			}
			if l := engineLogger(lg); l != nil {
				options = append(options, client.WithLogger(l))
			}
			if cfg.Client.TLS {
				host, _, err := net.SplitHostPort(cfg.Client.Address)
				if err != nil {
					return err
				}
				options = append(options, client.WithTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}))
			}

			c := client.NewClient(cfg.Client.Address, options...)
			if err := c.Dial(); err != nil {
				return err
			}
			clg.Printcf(logger.ColorGreen, "tail : joined %s, session %s", cfg.Client.Address, c.Session())

			ctx, stop := signalContext(cmd)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				// a broken connection also ends pending subscribes
				defer c.Exit()
				return c.Run(func(p protocol.ChangeNotifyPayload) {
					clg.Printe(p.Event())
				})
			})
			g.Go(func() error {
				for _, p := range paths {
					count, err := c.Subscribe(p)
					if err != nil {
						clg.Printcf(logger.ColorRed, "tail error : subscribe %s: %v", p, err)
						continue
					}
					clg.Printcf(logger.ColorGreen, "tail : subscribed %s (%d)", p, count)
				}
				<-ctx.Done()
				return c.Exit()
			})

			return g.Wait()
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "server address, overrides client.address")
	return cmd
}

func userCommand() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage the server password file",
	}

	manager := func(cmd *cobra.Command) (*user.UserManager, error) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		if cfg.Server.PwFile == "" {
			return nil, errors.New("server.pw_file is not configured")
		}
		um := &user.UserManager{PwFile: cfg.Server.PwFile}
		return um, um.Init()
	}

	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			um, err := manager(cmd)
			if err != nil {
				return err
			}
			if password == "" {
				password, err = readPassword(cmd, args[0])
				if err != nil {
					return err
				}
			}
			if err := um.CreateUser(&user.Credential{Username: args[0], Password: password}); err != nil {
				return err
			}
			cmd.Printf("user %s created\n", args[0])
			return nil
		},
	}
	add.Flags().StringVarP(&password, "password", "p", "", "password, asked on stdin when empty")

	del := &cobra.Command{
		Use:   "delete <username>",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			um, err := manager(cmd)
			if err != nil {
				return err
			}
			if err := um.DeleteUser(args[0]); err != nil {
				return err
			}
			cmd.Printf("user %s deleted\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(add, del)
	return cmd
}

func readPassword(cmd *cobra.Command, username string) (string, error) {
	r := bufio.NewReader(cmd.InOrStdin())

	cmd.Printf("Password for %s: ", username)
	password, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}

	cmd.Printf("Confirm password for %s: ", username)
	confirm, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}

	password = strings.TrimRight(password, "\r\n")
	if password != strings.TrimRight(confirm, "\r\n") {
		return "", errors.New("password does not match")
	}
	return password, nil
}
