package cmd

import (
	"os"
	"path"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/wan13323312/cloud-drive/internal"
	"github.com/wan13323312/cloud-drive/pkg/chunkstore"
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"debug", "v"},
			Usage:   "enable debug log",
		},
		&cli.BoolFlag{
			Name:  "trace",
			Usage: "enable trace log",
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "show warning and errors only",
		},
		&cli.StringFlag{
			Name:  "logdir",
			Usage: "write logs to a rotating file under this directory instead of stderr",
		},
		&cli.BoolFlag{
			Name:  "no-color",
			Usage: "disable colors",
		},
	}
}

// storeFlags configure the chunk store a command operates on.
func storeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "meta-addr",
			Value: "127.0.0.1:6379/1",
			Usage: "the address of the metadata storage",
		},
		&cli.IntFlag{
			Name:  "meta-retries",
			Value: 3,
			Usage: "max retries for metadata operations",
		},
		&cli.IntFlag{
			Name:  "chunk-size",
			Value: chunkstore.DefaultChunkSize,
			Usage: "fixed chunk size in bytes; pinned on first use",
		},
		&cli.StringFlag{
			Name:  "compression",
			Value: chunkstore.DefaultCompression,
			Usage: "compress chunk payloads with the specified algorithm: none/gzip/zlib/snappy",
		},
		&cli.StringFlag{
			Name:  "backend",
			Value: chunkstore.BackendPOSIX,
			Usage: "chunk payload backend ('posix' or 's3')",
		},
		&cli.StringFlag{
			Name:  "chunk-dir",
			Value: "/var/lib/cloud-drive/chunks",
			Usage: "root directory for the posix backend",
		},
		&cli.StringFlag{
			Name:  "s3-endpoint",
			Value: "127.0.0.1:9000",
			Usage: "S3 endpoint for the s3 backend",
		},
		&cli.StringFlag{
			Name:  "s3-bucket",
			Value: "cloud-drive-chunks",
			Usage: "S3 bucket for the s3 backend",
		},
		&cli.BoolFlag{
			Name:  "s3-ssl",
			Usage: "use TLS for the s3 backend",
		},
		&cli.BoolFlag{
			Name:  "force",
			Usage: "overwrite a mismatched persisted store format",
		},
	}
}

func expandFlags(groups ...[]cli.Flag) []cli.Flag {
	var flags []cli.Flag
	for _, g := range groups {
		flags = append(flags, g...)
	}
	return flags
}

// setupLogger applies the global logging flags. Called at the top of every
// command action.
func setupLogger(c *cli.Context) {
	if c.Bool("trace") {
		internal.SetLogLevel(logrus.TraceLevel)
	} else if c.Bool("verbose") {
		internal.SetLogLevel(logrus.DebugLevel)
	} else if c.Bool("quiet") {
		internal.SetLogLevel(logrus.WarnLevel)
	} else {
		internal.SetLogLevel(logrus.InfoLevel)
	}
	if c.Bool("no-color") || !isatty.IsTerminal(os.Stderr.Fd()) {
		internal.DisableLogColor()
	}
	if logDir := c.String("logdir"); logDir != "" {
		internal.SetOutFile(path.Join(logDir, "cloud-drive.log"))
	}
}

// setupStore builds the chunk store from command flags. S3 credentials come
// from the environment, matching how the backends are deployed.
func setupStore(c *cli.Context) (*chunkstore.ChunkStore, error) {
	setupLogger(c)

	mds, err := chunkstore.NewRedisMDS("redis", c.String("meta-addr"), c.Int("meta-retries"))
	if err != nil {
		return nil, err
	}

	conf := chunkstore.NewConfig()
	conf.ChunkSize = c.Int("chunk-size")
	conf.Compression = c.String("compression")
	conf.Backend = c.String("backend")
	conf.ChunkDir = c.String("chunk-dir")
	conf.S3Endpoint = c.String("s3-endpoint")
	conf.S3AccessKey = os.Getenv("S3_ACCESS_KEY")
	conf.S3SecretKey = os.Getenv("S3_SECRET_KEY")
	conf.S3Bucket = c.String("s3-bucket")
	conf.S3UseSSL = c.Bool("s3-ssl")
	conf.Force = c.Bool("force")
	// Commands are short-lived; the gc command starts the worker itself.
	conf.NoBGJob = true

	store, err := chunkstore.New(mds, conf)
	if err != nil {
		mds.Shutdown()
		return nil, err
	}
	return store, nil
}
