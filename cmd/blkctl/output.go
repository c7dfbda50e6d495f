package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/danmuck/blkio/internal/iio"
	"github.com/danmuck/blkio/internal/kvset"
	"gopkg.in/yaml.v3"
)

// readResult is printed by the read command.
type readResult struct {
	Device string `json:"device" yaml:"device"`
	Offset uint64 `json:"offset" yaml:"offset"`
	Size   int    `json:"size" yaml:"size"`
	Data   []byte `json:"data" yaml:"data"`
}

// propertyRow is one entry of a structured reply printed without json mode.
type propertyRow struct {
	Key   string `json:"key" yaml:"key"`
	Kind  string `json:"kind" yaml:"kind"`
	Value string `json:"value" yaml:"value"`
}

type writeResult struct {
	Device string `json:"device" yaml:"device"`
	Offset uint64 `json:"offset" yaml:"offset"`
	Bytes  uint64 `json:"bytes" yaml:"bytes"`
}

// handlesResult is printed by the handles command.
type handlesResult struct {
	URI      string           `json:"uri" yaml:"uri"`
	JSONMode bool             `json:"json_mode" yaml:"json_mode"`
	Channels []iio.HandleInfo `json:"channels" yaml:"channels"`
	Devices  []iio.HandleInfo `json:"devices" yaml:"devices"`
}

func writeOutput(w io.Writer, format string, data any) error {
	switch strings.ToLower(format) {
	case "json":
		b, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("format json: %w", err)
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	case "yaml":
		b, err := yaml.Marshal(data)
		if err != nil {
			return fmt.Errorf("format yaml: %w", err)
		}
		_, err = w.Write(b)
		return err
	case "", "text":
		return writeText(w, data)
	default:
		return fmt.Errorf("unknown output format %q (expected text, json or yaml)", format)
	}
}

func writeText(w io.Writer, data any) error {
	var err error
	switch v := data.(type) {
	case readResult:
		_, err = fmt.Fprintf(w, "%s @%d (%d bytes)\n%s", v.Device, v.Offset, v.Size, hex.Dump(v.Data))
	case writeResult:
		_, err = fmt.Fprintf(w, "%s @%d: wrote %d bytes\n", v.Device, v.Offset, v.Bytes)
	case handlesResult:
		if _, err = fmt.Fprintf(w, "%s (json mode %t)\n", v.URI, v.JSONMode); err != nil {
			return err
		}
		for _, h := range v.Channels {
			if _, err = fmt.Fprintf(w, "channel %d %s\n", h.Handle, h.Host); err != nil {
				return err
			}
		}
		for _, h := range v.Devices {
			if _, err = fmt.Fprintf(w, "device  %d %s %s\n", h.Handle, h.Host, h.Device); err != nil {
				return err
			}
		}
	case []propertyRow:
		for _, row := range v {
			if _, err = fmt.Fprintf(w, "%s (%s) = %s\n", row.Key, row.Kind, row.Value); err != nil {
				return err
			}
		}
	case string:
		_, err = fmt.Fprintln(w, v)
	default:
		_, err = fmt.Fprintf(w, "%v\n", v)
	}
	return err
}

// controlOutput prepares a JSON control reply for the chosen format. yaml
// re-encodes the document since JSON is valid YAML input.
func controlOutput(format, text string) (any, error) {
	switch strings.ToLower(format) {
	case "yaml":
		var node yaml.Node
		if err := yaml.Unmarshal([]byte(text), &node); err != nil {
			return nil, fmt.Errorf("convert reply to yaml: %w", err)
		}
		blockStyle(&node)
		return &node, nil
	case "json":
		return json.RawMessage(text), nil
	default:
		return text, nil
	}
}

func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, child := range n.Content {
		blockStyle(child)
	}
}

func setRows(s *kvset.Set) []propertyRow {
	props := s.Properties()
	rows := make([]propertyRow, 0, len(props))
	for _, p := range props {
		rows = append(rows, propertyRow{Key: p.Key, Kind: p.Value.Kind.String(), Value: valueText(p.Value)})
	}
	return rows
}

func valueText(v kvset.Value) string {
	switch v.Kind {
	case kvset.KindString:
		return v.Str
	case kvset.KindInt:
		return strconv.FormatInt(v.Int, 10)
	case kvset.KindUint:
		return strconv.FormatUint(v.Uint, 10)
	case kvset.KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case kvset.KindBool:
		return strconv.FormatBool(v.Bool)
	case kvset.KindBytes:
		return hex.EncodeToString(v.Bytes)
	case kvset.KindSet:
		text, err := kvset.RenderJSON(v.Set)
		if err != nil {
			return err.Error()
		}
		return text
	case kvset.KindList:
		items := make([]string, len(v.List))
		for i, item := range v.List {
			items[i] = valueText(item)
		}
		return "[" + strings.Join(items, " ") + "]"
	default:
		return "null"
	}
}
