package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
)

func cmdStats() *cli.Command {
	return &cli.Command{
		Name:     "stats",
		Category: "ADMIN",
		Usage:    "Show store-wide chunk and dedup statistics",
		Flags:    expandFlags(storeFlags()),
		Action: func(c *cli.Context) error {
			store, err := setupStore(c)
			if err != nil {
				return err
			}
			defer store.Shutdown()

			stats, err := store.GetStorageStats(c.Context)
			if err != nil {
				return err
			}
			fmt.Printf("chunks:             %d\n", stats.ChunkCount)
			fmt.Printf("total references:   %d\n", stats.TotalRefs)
			fmt.Printf("files:              %d\n", stats.FileCount)
			fmt.Printf("logical bytes:      %d\n", stats.TotalSize)
			fmt.Printf("bytes at rest:      %d\n", stats.CompressedSize)
			fmt.Printf("compression ratio:  %.3f\n", stats.CompressionRatio)
			fmt.Printf("avg chunks/file:    %.1f\n", stats.AvgChunksPerFile)
			fmt.Printf("dedup factor:       %.2f\n", stats.DedupFactor)
			return nil
		},
	}
}

func cmdGC() *cli.Command {
	return &cli.Command{
		Name:     "gc",
		Category: "ADMIN",
		Usage:    "Remove orphaned chunk payloads left by crashes",
		Flags: expandFlags(storeFlags(), []cli.Flag{
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "keep running, collecting on this interval, until interrupted",
			},
		}),
		Action: func(c *cli.Context) error {
			store, err := setupStore(c)
			if err != nil {
				return err
			}
			defer store.Shutdown()

			interval := c.Duration("interval")
			if interval <= 0 {
				removed, err := store.CleanupOrphanedChunks(c.Context)
				if err != nil {
					return err
				}
				fmt.Printf("orphaned chunks removed: %d\n", removed)
				return nil
			}

			store.StartGC(interval)
			logger.Infof("GC daemon running every %s, press Ctrl+C to stop", interval.Round(time.Second))
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit
			logger.Info("Shutting down GC daemon")
			return nil
		},
	}
}
