package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func cmdPut() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Category:  "FILE",
		Usage:     "Store a local file into the chunk store",
		ArgsUsage: "PATH",
		Flags:     expandFlags(storeFlags()),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("usage: put PATH")
			}
			store, err := setupStore(c)
			if err != nil {
				return err
			}
			defer store.Shutdown()

			f, err := os.Open(c.Args().Get(0))
			if err != nil {
				return err
			}
			defer f.Close()

			res, err := store.StoreFileStream(c.Context, f)
			if err != nil {
				return err
			}
			fmt.Printf("file hash:   %s\n", res.FileHash)
			fmt.Printf("total size:  %d\n", res.TotalSize)
			fmt.Printf("chunks:      %d (%d new)\n", res.ChunkCount, res.NewChunks)
			return nil
		},
	}
}

func cmdGet() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Category:  "FILE",
		Usage:     "Read a file from the chunk store and write it locally",
		ArgsUsage: "FILE-HASH PATH",
		Flags:     expandFlags(storeFlags()),
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("usage: get FILE-HASH PATH")
			}
			store, err := setupStore(c)
			if err != nil {
				return err
			}
			defer store.Shutdown()

			data, err := store.ReadFile(c.Context, c.Args().Get(0))
			if err != nil {
				return err
			}
			return os.WriteFile(c.Args().Get(1), data, 0644)
		},
	}
}

func cmdRemove() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Category:  "FILE",
		Usage:     "Delete a file and release its chunk references",
		ArgsUsage: "FILE-HASH",
		Flags:     expandFlags(storeFlags()),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("usage: rm FILE-HASH")
			}
			store, err := setupStore(c)
			if err != nil {
				return err
			}
			defer store.Shutdown()

			res, err := store.DeleteFile(c.Context, c.Args().Get(0))
			if err != nil {
				return err
			}
			fmt.Printf("chunks reaped:     %d\n", res.DeletedChunks)
			fmt.Printf("still referenced:  %d\n", res.RemainingChunks)
			return nil
		},
	}
}

func cmdInfo() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Category:  "FILE",
		Usage:     "Describe a stored file without reading its bytes",
		ArgsUsage: "FILE-HASH",
		Flags:     expandFlags(storeFlags()),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("usage: info FILE-HASH")
			}
			store, err := setupStore(c)
			if err != nil {
				return err
			}
			defer store.Shutdown()

			info, err := store.GetFileInfo(c.Context, c.Args().Get(0))
			if err != nil {
				return err
			}
			fmt.Printf("file hash:   %s\n", info.FileHash)
			fmt.Printf("total size:  %d\n", info.TotalSize)
			fmt.Printf("chunks:      %d\n", info.ChunkCount)
			for _, mp := range info.Chunks {
				fmt.Printf("  [%d] %s offset=%d size=%d\n", mp.ChunkIndex, mp.ChunkHash, mp.ChunkOffset, mp.ChunkSize)
			}
			return nil
		},
	}
}

func cmdExists() *cli.Command {
	return &cli.Command{
		Name:      "exists",
		Category:  "FILE",
		Usage:     "Check whether a file with this content hash is stored",
		ArgsUsage: "FILE-HASH",
		Flags:     expandFlags(storeFlags()),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("usage: exists FILE-HASH")
			}
			store, err := setupStore(c)
			if err != nil {
				return err
			}
			defer store.Shutdown()

			exists, err := store.FileExists(c.Context, c.Args().Get(0))
			if err != nil {
				return err
			}
			fmt.Println(exists)
			return nil
		},
	}
}
