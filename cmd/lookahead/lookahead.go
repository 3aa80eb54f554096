package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/lookahead/server"
)

func main() {
	parser := argparse.NewParser("lookahead", "Find the objects ahead of you in a photo, and read them out loud")
	hotReloadWWW := parser.Flag("", "hot", &argparse.Options{Help: "Hot reload www instead of embedding into binary", Default: false})
	configFilePath := parser.String("c", "config", &argparse.Options{Help: "Config file path", Default: "lookahead.json"})
	listen := parser.String("l", "listen", &argparse.Options{Help: "Listen address, overriding the config file (eg :3000)"})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	cfg, err := server.LoadConfig(*configFilePath)
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *hotReloadWWW {
		cfg.HotReloadWWW = true
	}

	s, err := server.NewServerFromConfig(cfg)
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
	s.ListenForKillSignals()
	if err := s.ListenHTTP(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
}
