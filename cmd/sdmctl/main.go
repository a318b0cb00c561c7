// Copyright 2020 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// sdmctl is a small operator CLI over a snapshot root: listing what's on
// disk, destroying a snapshot by epoch id, forcing a recovery of the
// latest MPT database from a checkpoint, and sweeping orphaned temp
// directories. It never makes consensus-side decisions (no merging,
// no full sync) -- those are library operations, not ops-console ones.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/urfave/cli.v1"

	"github.com/cfxstorage/snapshotdb/epoch"
	"github.com/cfxstorage/snapshotdb/storage/snapshotdb"
)

var rootFlag = cli.StringFlag{
	Name:  "root",
	Usage: "snapshot root directory",
	Value: "./snapshots",
}

func main() {
	app := cli.NewApp()
	app.Name = "sdmctl"
	app.Usage = "inspect and administer a snapshot database manager's on-disk state"
	app.Flags = []cli.Flag{rootFlag}
	app.Commands = []cli.Command{
		listCommand,
		destroyCommand,
		recoverLatestMPTCommand,
		gcCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func openManager(ctx *cli.Context) (*snapshotdb.Manager, error) {
	cfg := snapshotdb.Config{SnapshotRoot: ctx.GlobalString(rootFlag.Name)}
	return snapshotdb.New(cfg, snapshotdb.NewLevelDBFactory())
}

var listCommand = cli.Command{
	Name:  "list",
	Usage: "list every snapshot directory under the root, with its decoded epoch id",
	Action: func(ctx *cli.Context) error {
		root := ctx.GlobalString(rootFlag.Name)
		entries, err := os.ReadDir(root)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			name := e.Name()
			if snapshotdb.IsTempSnapshotDBPath(name) {
				fmt.Printf("%-70s (temp, orphaned)\n", name)
				continue
			}
			id, err := snapshotdb.ParseSnapshotDBName(name)
			if err != nil {
				fmt.Printf("%-70s (unrecognized)\n", name)
				continue
			}
			fmt.Printf("%-70s %s\n", name, id)
		}
		return nil
	},
}

var destroyCommand = cli.Command{
	Name:      "destroy",
	Usage:     "remove a snapshot by epoch id (hex)",
	ArgsUsage: "<epoch-hex>",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.NewExitError("expected exactly one argument: the epoch id in hex", 2)
		}
		id, err := epoch.FromHex(ctx.Args().Get(0))
		if err != nil {
			return err
		}
		m, err := openManager(ctx)
		if err != nil {
			return err
		}
		if err := m.DestroySnapshot(id); err != nil {
			return err
		}
		fmt.Println("removal scheduled for", id)
		return nil
	},
}

var recoverLatestMPTCommand = cli.Command{
	Name:      "recover-latest-mpt",
	Usage:     "rebuild the writable latest MPT database from a checkpointed epoch",
	ArgsUsage: "<checkpoint-epoch-hex>",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.NewExitError("expected exactly one argument: the checkpoint epoch id in hex", 2)
		}
		id, err := epoch.FromHex(ctx.Args().Get(0))
		if err != nil {
			return err
		}
		m, err := openManager(ctx)
		if err != nil {
			return err
		}
		if err := m.RecoverLatestMPTSnapshot(id); err != nil {
			return err
		}
		fmt.Println("recovered latest mpt snapshot from", id)
		return nil
	},
}

var gcCommand = cli.Command{
	Name:  "gc",
	Usage: "sweep and remove orphaned temp directories left by a crashed merge or full sync",
	Action: func(ctx *cli.Context) error {
		m, err := openManager(ctx)
		if err != nil {
			return err
		}
		return m.CollectOrphans()
	},
}

func init() {
	cli.AppHelpTemplate = cli.AppHelpTemplate + fmt.Sprintf("\nDefault root: %s\n", filepath.Join(".", "snapshots"))
}
