package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Idloj/atfs/internal/app/indexer"
)

var progName = filepath.Base(os.Args[0])

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(1)
	}

	var wg sync.WaitGroup
	wg.Add(flag.NArg())
	for _, root := range flag.Args() {
		root := root
		go func() {
			defer wg.Done()
			if err := indexer.IndexPath(root); err != nil {
				log.Error().Err(err).Str("root", root).Msg("could not index backing root")
			}
		}()
	}
	wg.Wait()
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage of %s:\n", progName)
	fmt.Fprintf(os.Stderr, "  %s <root> [root ...]\n", progName)
	flag.PrintDefaults()
}
