package main

import (
	"flag"
	"log"

	"github.com/danmuck/relaychat/internal/config"
)

func defaultPath(kind string) string {
	switch kind {
	case "hub":
		return "cmd/hubctl/config.toml"
	case "spoke":
		return "cmd/spokectl/config.toml"
	default:
		log.Fatalf("unknown kind: %s", kind)
		return ""
	}
}

func main() {
	kind := flag.String("kind", "hub", "config kind: hub|spoke")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		switch *kind {
		case "hub":
			if _, err := config.LoadHubConfig(path); err != nil {
				log.Fatal(err)
			}
		case "spoke":
			if _, err := config.LoadSpokeConfig(path); err != nil {
				log.Fatal(err)
			}
		default:
			log.Fatalf("unknown kind: %s", *kind)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
