package model

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadClassNames reads the class table that goes with a model.
//
// YAML files (.yaml, .yml) may hold a top-level list, or a "names" key with
// either a list or an index to name map as written by Ultralytics data.yaml.
// Any other file is read as one name per line.
func LoadClassNames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var names []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		names, err = parseYAMLNames(data)
	default:
		names = parseTextNames(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("parse %s: no class names", path)
	}
	return names, nil
}

func parseTextNames(data []byte) []string {
	var names []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	return names
}

func parseYAMLNames(data []byte) ([]string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("empty document")
	}

	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		return namesFromNode(root)
	case yaml.MappingNode:
		for i := 0; i+1 < len(root.Content); i += 2 {
			if root.Content[i].Value == "names" {
				return namesFromNode(root.Content[i+1])
			}
		}
		return nil, fmt.Errorf("no names key")
	default:
		return nil, fmt.Errorf("unexpected yaml node kind %d", root.Kind)
	}
}

func namesFromNode(n *yaml.Node) ([]string, error) {
	switch n.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := n.Decode(&names); err != nil {
			return nil, err
		}
		return names, nil
	case yaml.MappingNode:
		var byIndex map[int]string
		if err := n.Decode(&byIndex); err != nil {
			return nil, err
		}
		idx := make([]int, 0, len(byIndex))
		for i := range byIndex {
			idx = append(idx, i)
		}
		sort.Ints(idx)
		names := make([]string, len(idx))
		for pos, i := range idx {
			if i != pos {
				return nil, fmt.Errorf("class indices must be 0..%d, missing %d", len(idx)-1, pos)
			}
			names[pos] = byIndex[i]
		}
		return names, nil
	default:
		return nil, fmt.Errorf("names must be a list or a map")
	}
}

// labelFor maps a class index to its name, falling back to "class_<id>".
func labelFor(names []string, id int) string {
	if id >= 0 && id < len(names) && names[id] != "" {
		return names[id]
	}
	return "class_" + strconv.Itoa(id)
}
