package cli

import (
	"context"
	"net"
	"net/url"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"DMProject/logger"
	"DMProject/service/devserver"
	"DMProject/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type ServeOptions struct {
	*RootOptions
	Addr     string
	WithNATS bool
}

// NewServeCommand runs the in-memory backend, optionally with a local NATS
// server for the view bridge.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the in-memory development backend",
		Long: `Run an in-memory backend speaking the REST and socket contract.

Seeded residents: u-asha, u-bilal, u-chen (society greenpark), u-dana (lakeside).

Example:
  dmctl serve --addr :8080 --with-nats`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&opts.WithNATS, "with-nats", false, "also run an embedded NATS server at the configured URL")
	return cmd
}

func runServe(parent context.Context, opts *ServeOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := opts.cfg
	addr := opts.Addr
	if addr == "" {
		addr = cfg.DevServer.Addr
	}
	log := logger.Named(nil, "serve")
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := devserver.New(devserver.Options{
		JWTSecret:  cfg.DevServer.JWTSecret,
		TokenTTL:   cfg.DevServer.TokenTTL,
		APIPrefix:  cfg.APIPrefix,
		SocketPath: cfg.SocketPath,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx, addr) })
	if opts.WithNATS {
		ns, err := embeddedNATS(cfg.NATS.URL)
		if err != nil {
			return err
		}
		g.Go(func() error {
			go ns.Start()
			if !ns.ReadyForConnections(5 * time.Second) {
				return errs.ErrRequestFailed.WrapMsg("nats server not ready")
			}
			log.Info("nats listening", zap.String("url", ns.ClientURL()))
			<-ctx.Done()
			ns.Shutdown()
			ns.WaitForShutdown()
			return nil
		})
	}
	return g.Wait()
}

func embeddedNATS(rawURL string) (*server.Server, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errs.ErrInvalidArgument.Because(err, "nats url", "url", rawURL)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return nil, errs.ErrInvalidArgument.Because(err, "nats url", "url", rawURL)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, errs.ErrInvalidArgument.Because(err, "nats port", "url", rawURL)
	}
	return server.NewServer(&server.Options{Host: host, Port: port, NoSigs: true, NoLog: true})
}
