package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"gopkg.in/yaml.v3"
)

// Output formats for --output
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

var outputFormats = []string{outputText, outputJSON, outputYAML}

func validateOutputFormat() error {
	if !slices.Contains(outputFormats, outputFormat) {
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", outputFormat)
	}
	return nil
}

// printStructured writes v in the JSON or YAML output format and reports
// whether it did. Text output is left to the caller.
func printStructured(out io.Writer, v any) (bool, error) {
	switch outputFormat {
	case outputJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case outputYAML:
		return true, writeYAML(out, v)
	}
	return false, nil
}

// writeYAML goes through the JSON encoding so keys keep the API's names
// and order.
func writeYAML(out io.Writer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	blockStyle(&doc)

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return err
	}
	return enc.Close()
}

// blockStyle drops the flow and quoting styles JSON input decodes with.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
