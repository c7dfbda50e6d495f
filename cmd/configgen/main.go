package main

import (
	"flag"
	"log"

	"github.com/danmuck/blkio/internal/config"
)

var defaultPaths = map[string]string{
	"target": "cmd/blkserve/config.toml",
	"client": "cmd/blkctl/config.toml",
}

func main() {
	kind := flag.String("kind", "target", "config kind: target|client")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	defaultPath, ok := defaultPaths[*kind]
	if !ok {
		log.Fatalf("unknown kind: %s", *kind)
	}

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath
		}
		var err error
		switch *kind {
		case "target":
			_, err = config.LoadTargetConfig(path)
		case "client":
			_, err = config.LoadClientFile(path)
		}
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
