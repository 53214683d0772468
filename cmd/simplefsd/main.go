// Command simplefsd serves the simulated filesystem image over a TCP
// socket, one goroutine per accepted connection.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"simplefsd/internal/dispatch"
	"simplefsd/internal/engine"
	"simplefsd/internal/logging"
	"simplefsd/internal/session"
)

// Config holds daemon settings that can be overridden with
// SIMPLEFSD_-prefixed environment variables, layered under whatever
// the CLI flags set explicitly.
type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":6503"`
	ImagePath  string `envconfig:"IMAGE_PATH" default:"simplefs.img"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
}

func main() {
	var cfg Config
	if err := envconfig.Process("simplefsd", &cfg); err != nil {
		fmt.Fprintln(os.Stderr, "simplefsd: config:", err)
		os.Exit(1)
	}

	app := &cli.App{
		Name:  "simplefsd",
		Usage: "serve a simulated filesystem image over the network",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "image", Value: cfg.ImagePath, Usage: "path to the image file"},
			&cli.StringFlag{Name: "listen", Value: cfg.ListenAddr, Usage: "address to listen on"},
			&cli.StringFlag{Name: "log-level", Value: cfg.LogLevel, Usage: "logrus level"},
		},
		Commands: []*cli.Command{
			{
				Name:  "format",
				Usage: "create a fresh image at --image, overwriting any existing one",
				Action: func(c *cli.Context) error {
					return runFormat(c.String("image"), c.String("log-level"))
				},
			},
			{
				Name:  "serve",
				Usage: "open --image and accept connections on --listen",
				Action: func(c *cli.Context) error {
					return runServe(c.String("image"), c.String("listen"), c.String("log-level"))
				},
			},
		},
		Action: func(c *cli.Context) error {
			return runServe(c.String("image"), c.String("listen"), c.String("log-level"))
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "simplefsd:", err)
		os.Exit(1)
	}
}

func runFormat(imagePath, logLevel string) error {
	log, err := logging.New(logLevel)
	if err != nil {
		return err
	}
	e, err := engine.Format(imagePath, logrus.NewEntry(log))
	if err != nil {
		return err
	}
	defer e.Close()
	log.WithField("image", imagePath).Info("image formatted")
	return nil
}

func runServe(imagePath, listenAddr, logLevel string) error {
	log, err := logging.New(logLevel)
	if err != nil {
		return err
	}
	entry := logrus.NewEntry(log)

	e, err := engine.Open(imagePath, entry)
	if err != nil {
		return fmt.Errorf("open image (did you run \"simplefsd format\" first?): %w", err)
	}
	defer e.Close()

	d := &dispatch.Dispatcher{
		Engine:   e,
		Sessions: session.NewRegistry(e.RootID()),
		Log:      entry,
	}

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()
	log.WithField("addr", listenAddr).Info("simplefsd listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.WithError(err).Error("accept failed")
			continue
		}
		connLog := entry.WithField("remote", conn.RemoteAddr().String())
		connLog.Info("connection accepted")
		go func() {
			defer conn.Close()
			(&dispatch.Dispatcher{Engine: d.Engine, Sessions: d.Sessions, Log: connLog}).Serve(conn)
			connLog.Info("connection closed")
		}()
	}
}
