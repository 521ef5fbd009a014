package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/PeteGashek/karaf"
	"github.com/PeteGashek/karaf/catalog"
	"github.com/PeteGashek/karaf/logging"
	"github.com/PeteGashek/karaf/resolver"
	"github.com/PeteGashek/karaf/runtime"
	"github.com/PeteGashek/karaf/state"
)

func main() {
	var (
		repos     string
		install   string
		uninstall string
		statePath string
		list      bool
		verbose   bool
		develLog  bool
	)
	flag.StringVar(&repos, "repos", "", "comma-separated repository document paths to load")
	flag.StringVar(&install, "install", "", "comma-separated feature ids (name[/version]) to install")
	flag.StringVar(&uninstall, "uninstall", "", "feature id (name[/version]) to uninstall")
	flag.StringVar(&statePath, "state", "karaf-state.yaml", "path to the persisted engine state file")
	flag.BoolVar(&list, "list", false, "list installed features and exit")
	flag.BoolVar(&verbose, "verbose", false, "mirror deployment progress to stdout")
	flag.BoolVar(&develLog, "devel-log", false, "use development (console) logging instead of production (JSON)")
	flag.Parse()

	logger := logging.New(develLog)

	cat := catalog.New(catalog.YAMLLoader{})
	for _, uri := range splitNonEmpty(repos) {
		if err := addRepository(cat, uri); err != nil {
			log.Fatalf("karafd: %v", err)
		}
	}

	host := runtime.NewFake()
	store := state.NewFileStore(statePath)
	res := resolver.NewDefaultResolver(cat)

	engine, err := karaf.New(cat, res, host, store,
		karaf.WithLogger(logger),
		karaf.WithStreamProviders(syntheticStreamProviders(cat)),
	)
	if err != nil {
		log.Fatalf("karafd: %v", err)
	}

	ctx := context.Background()
	opts := []karaf.Option{}
	if verbose {
		opts = append(opts, karaf.Verbose())
	}

	switch {
	case list:
		printInstalled(engine)
	case install != "":
		if err := engine.Install(ctx, splitNonEmpty(install), opts...); err != nil {
			log.Fatalf("karafd: install: %v", err)
		}
		printInstalled(engine)
	case uninstall != "":
		if err := engine.Uninstall(ctx, uninstall, opts...); err != nil {
			log.Fatalf("karafd: uninstall: %v", err)
		}
		printInstalled(engine)
	default:
		fmt.Println("karafd: no operation requested; pass -install, -uninstall, or -list")
		flag.Usage()
	}
}

func addRepository(cat *catalog.Catalog, uri string) error {
	_, err := cat.AddRepository(uri)
	return err
}

// syntheticStreamProvider serves a bundle's own "symbolicName version"
// identity as its content, standing in for the real artifact download
// backend (out of scope; see SPEC_FULL.md §1) in karafd's
// no-external-runtime demo mode.
type syntheticStreamProvider string

func (p syntheticStreamProvider) Open() (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(string(p))), nil
}

// syntheticStreamProviders builds a content provider for every bundle
// location reachable from the catalog's currently loaded repositories.
func syntheticStreamProviders(cat *catalog.Catalog) map[string]resolver.StreamProvider {
	providers := map[string]resolver.StreamProvider{}
	for _, byVersion := range cat.Features() {
		for _, f := range byVersion {
			for _, b := range f.Bundles {
				providers[b.Location] = syntheticStreamProvider(bundleIdentity(b.Location))
			}
			for _, c := range f.Conditionals {
				for _, b := range c.Bundles {
					providers[b.Location] = syntheticStreamProvider(bundleIdentity(b.Location))
				}
			}
		}
	}
	return providers
}

// bundleIdentity derives a "symbolicName version" manifest line (the
// tiny fixture format runtime.Fake reads) from a "mvn:group/artifact/version"
// coordinate, or falls back to the raw location for any other scheme.
func bundleIdentity(location string) string {
	if !strings.HasPrefix(location, "mvn:") {
		return location + " 0.0.0"
	}
	parts := strings.Split(strings.TrimPrefix(location, "mvn:"), "/")
	if len(parts) < 3 {
		return location + " 0.0.0"
	}
	return fmt.Sprintf("%s.%s %s", parts[0], parts[1], parts[2])
}

func printInstalled(engine *karaf.Engine) {
	for _, id := range engine.List() {
		fmt.Println(id.String())
	}
}

func splitNonEmpty(csv string) []string {
	if csv == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
