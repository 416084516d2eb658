package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/deemkeen/stegodon-federate/internal/app"
	"github.com/deemkeen/stegodon-federate/internal/config"
	"github.com/deemkeen/stegodon-federate/internal/util"
)

func main() {
	versionFlag := flag.Bool("v", false, "Print version information")
	flag.Parse()

	if *versionFlag {
		fmt.Println(util.GetNameAndVersion())
		os.Exit(0)
	}

	cfg := config.Load()
	util.SetupLogging(cfg.WithJournald)

	log.Println(util.GetNameAndVersion())
	log.Println("configuration:")
	log.Println(util.PrettyPrint(cfg))

	if cfg.WithPprof {
		go func() {
			log.Println("pprof server listening on localhost:6060")
			if err := http.ListenAndServe("localhost:6060", nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	application := app.New(cfg)
	if err := application.Initialize(); err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}
	if err := application.Start(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}
