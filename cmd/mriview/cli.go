package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mriview/viewer/internal/api"
	"github.com/mriview/viewer/internal/config"
	"github.com/mriview/viewer/internal/export"
	"github.com/mriview/viewer/pkg/core"
)

const usage = `usage: mriview [-config dir] [-server url] <command> [args]

commands:
  serve                          run the viewer (default)
  healthcheck                    check that a viewer is reachable
  series                         list the series catalog
  annotations [series...]        print the annotation document
  import <file>                  upload an annotation document
  export [-format png|pdf] <series...>
                                 burn annotations into image copies`

func runCLI(args []string) error {
	client := api.New(baseURL())

	switch strings.ToLower(args[0]) {
	case "healthcheck":
		if err := client.Healthcheck(); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil

	case "series":
		list, err := client.Series()
		if err != nil {
			return err
		}
		for _, s := range list {
			fmt.Printf("%s\t%d images\t%s\n", s.ID, len(s.Images), s.Description)
		}
		return nil

	case "annotations":
		doc, err := client.Annotations(args[1:]...)
		if err != nil {
			return err
		}
		return printJSON(doc)

	case "import":
		if len(args) < 2 {
			return fmt.Errorf("no annotation file provided\n%s", usage)
		}
		doc, err := readDocument(args[1])
		if err != nil {
			return err
		}
		n, err := client.Import(doc)
		if err != nil {
			return err
		}
		fmt.Printf("imported %d annotation sets\n", n)
		return nil

	case "export":
		req, err := exportRequest(args[1:])
		if err != nil {
			return err
		}
		res, err := client.Export(req)
		if err != nil {
			return err
		}
		for _, f := range res.Files {
			fmt.Println(f)
		}
		for _, s := range res.Skipped {
			fmt.Fprintf(os.Stderr, "skipped %s\n", s)
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func baseURL() string {
	if *serverURL != "" {
		return *serverURL
	}
	return "http://" + config.GetServerConfig().Address
}

// exportRequest parses "[-format f] series...". The format falls back to
// export.format from the config.
func exportRequest(args []string) (export.Request, error) {
	req := export.Request{Format: config.GetExportConfig().Format}
	for i := 0; i < len(args); i++ {
		if args[i] == "-format" || args[i] == "--format" {
			if i+1 >= len(args) {
				return req, fmt.Errorf("-format needs a value")
			}
			i++
			req.Format = args[i]
			continue
		}
		req.Series = append(req.Series, args[i])
	}
	if _, err := export.ParseFormat(req.Format); err != nil {
		return req, err
	}
	if len(req.Series) == 0 {
		return req, fmt.Errorf("no series provided\n%s", usage)
	}
	return req, nil
}

func readDocument(path string) (core.Document, error) {
	var doc core.Document
	f, err := os.Open(path)
	if err != nil {
		return doc, fmt.Errorf("failed to open annotation file: %w", err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return doc, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return doc, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
