// Command zodin is the offline companion CLI: it inspects PIT files and
// firmware packages without a device attached. Device flashing goes
// through the flasher package with a platform-supplied USB transport.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/Llucs/ZodinLinux/config"
	"github.com/Llucs/ZodinLinux/firmware"
	"github.com/Llucs/ZodinLinux/pit"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Usage = usage
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "zodin: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Log.Level)

	args := flag.Args()
	if len(args) < 2 {
		usage()
		os.Exit(2)
	}

	switch args[0] {
	case "pit":
		err = printPit(args[1])
	case "list":
		err = listPackage(args[1])
	case "verify":
		err = verifyPackage(args[1])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Error().Err(err).Msg(args[0] + " failed")
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: zodin [-config file] <command> <path>

commands:
  pit <file>       print a decoded partition table
  list <package>   list the images in a firmware package
  verify <package> verify a package against its detached checksum
`)
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(lvl).
		With().Timestamp().Logger()
}

func printPit(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	table, err := pit.Decode(data)
	if err != nil {
		return err
	}

	fmt.Printf("%d partitions\n", len(table.Entries))
	for _, e := range table.Entries {
		size := uint64(e.BlockSize) * uint64(e.BlockCount)
		fmt.Printf("%4d  %-24s %-24s %s\n",
			e.Identifier, e.PartitionName, e.FlashFilename, humanize.IBytes(size))
	}
	return nil
}

func listPackage(path string) error {
	pkg, err := firmware.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = pkg.Close() }()

	for {
		img, err := pkg.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("%-40s %s\n", img.Name, humanize.IBytes(uint64(img.Size)))
	}
}

func verifyPackage(path string) error {
	if err := firmware.Verify(path); err != nil {
		return err
	}
	fmt.Printf("%s: OK\n", path)
	return nil
}
