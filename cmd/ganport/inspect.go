package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/ganport/internal/edge"
	"github.com/samcharles93/ganport/internal/savedmodel"
)

func inspectCmd() *cli.Command {
	var (
		showTensors bool
		asJSON      bool
	)

	return &cli.Command{
		Name:      "inspect",
		Usage:     "Show the signatures and tensors of an interchange or edge artifact",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "tensors", Aliases: []string{"t"}, Usage: "list variables or constants", Destination: &showTensors},
			&cli.BoolFlag{Name: "json", Usage: "print the artifact metadata as JSON", Destination: &asJSON},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("inspect: expected <path>, got %d arguments", cmd.Args().Len())
			}
			path := cmd.Args().First()
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("inspect: %w", err)
			}

			w := cmd.Root().Writer
			if w == nil {
				w = os.Stdout
			}
			if info.IsDir() {
				a, err := savedmodel.Load(path)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(w, a.Meta)
				}
				writeArtifact(w, a, showTensors)
				return nil
			}
			m, err := edge.Open(path)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(w, m.Meta)
			}
			writeEdgeModel(w, m, showTensors)
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func writeArtifact(w io.Writer, a *savedmodel.Artifact, showTensors bool) {
	renderSection(w, "Interchange artifact", [][]string{
		{"", "path", a.Dir},
		{"", "id", a.Meta.ID},
		{"", "producer", a.Meta.Producer},
		{"", "network", a.Meta.Network},
		{"", "build func", a.Meta.BuildFunc},
		{"", "backend", a.Meta.Backend},
		{"", "nodes", strconv.Itoa(a.Meta.Graph.Len())},
		{"", "variables", strconv.Itoa(len(a.Variables))},
	})

	var rows [][]string
	for _, key := range a.SignatureKeys() {
		sig, _ := a.Signature(key)
		for _, k := range sig.InputKeys() {
			t := sig.Inputs[k]
			rows = append(rows, []string{key, "in", k, t.Name, string(t.DType), t.Shape.String()})
		}
		for _, k := range sig.OutputKeys() {
			t := sig.Outputs[k]
			rows = append(rows, []string{key, "out", k, t.Name, string(t.DType), t.Shape.String()})
		}
	}
	renderTable(w, []string{"SIGNATURE", "DIR", "KEY", "TENSOR", "DTYPE", "SHAPE"}, rows)

	if !showTensors {
		return
	}
	_, _ = fmt.Fprintln(w)
	rows = rows[:0]
	for _, v := range a.Meta.Graph.Variables() {
		t := a.Variables[v.Name]
		rows = append(rows, []string{v.Name, string(t.DType), t.Shape.String(), strconv.Itoa(len(t.Data))})
	}
	renderTable(w, []string{"VARIABLE", "DTYPE", "SHAPE", "BYTES"}, rows)
}

func writeEdgeModel(w io.Writer, m *edge.Model, showTensors bool) {
	renderSection(w, "Edge artifact", [][]string{
		{"", "path", m.Path},
		{"", "producer", m.Meta.Producer},
		{"", "source", m.Meta.Source},
		{"", "source id", m.Meta.SourceID},
		{"", "network", m.Meta.Network},
		{"", "signature", m.Meta.Signature.String() + " (" + m.Meta.SignatureKey + ")"},
		{"", "nodes", strconv.Itoa(m.Graph.Len())},
		{"", "constants", strconv.Itoa(len(m.Constants))},
	})

	var rows [][]string
	for _, s := range m.Meta.Inputs {
		rows = append(rows, []string{"in", s.Key, s.Name, string(s.DType), s.Shape.String(), s.ShapeSignature.String()})
	}
	for _, s := range m.Meta.Outputs {
		rows = append(rows, []string{"out", s.Key, s.Name, string(s.DType), s.Shape.String(), s.ShapeSignature.String()})
	}
	renderTable(w, []string{"DIR", "KEY", "TENSOR", "DTYPE", "SHAPE", "SIGNATURE"}, rows)

	if !showTensors {
		return
	}
	_, _ = fmt.Fprintln(w)
	rows = rows[:0]
	for _, name := range m.ConstantNames() {
		t := m.Constants[name]
		rows = append(rows, []string{name, string(t.DType), t.Shape.String(), strconv.Itoa(len(t.Data))})
	}
	renderTable(w, []string{"CONSTANT", "DTYPE", "SHAPE", "BYTES"}, rows)
}
