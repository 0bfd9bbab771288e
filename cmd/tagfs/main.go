package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Idloj/atfs/internal/app/tagfs"
)

var progName = filepath.Base(os.Args[0])

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(1)
	}
	root := flag.Arg(0)
	if err := tagfs.Mount(root); err != nil {
		log.Fatal().Err(err).Msg("tagfs exited")
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage of %s:\n", progName)
	fmt.Fprintf(os.Stderr, "  %s <root>\n", progName)
	flag.PrintDefaults()
}
