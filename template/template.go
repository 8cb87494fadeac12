// Package template represents a parsed application description template
// (an ADT): the typed nodes and policies a submission carries through its
// lifecycle. Parsing is limited to what routing needs - node/policy names,
// concrete type strings, and raw properties. Semantic validation of the
// topology belongs to the adaptors.
package template

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Node is one node template from the topology, identified by a concrete
// type string such as "tosca.nodes.MiCADO.Container.Application.Docker".
type Node struct {
	Name       string         `json:"name" yaml:"name"`
	Type       string         `json:"type" yaml:"type"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Policy is one policy from the topology, e.g. a scaling policy attached to
// a set of target nodes.
type Policy struct {
	Name       string         `json:"name" yaml:"name"`
	Type       string         `json:"type" yaml:"type"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
	Targets    []string       `json:"targets,omitempty" yaml:"targets,omitempty"`
}

// Template is the parsed topology of one application.
type Template struct {
	Name     string
	Nodes    []Node
	Policies []Policy
}

// Entities returns the total number of nodes and policies.
func (t *Template) Entities() int {
	return len(t.Nodes) + len(t.Policies)
}

// adtDocument mirrors the subset of the ADT YAML layout the submitter reads.
type adtDocument struct {
	Metadata struct {
		TemplateName string `yaml:"template_name"`
	} `yaml:"metadata"`
	TopologyTemplate struct {
		NodeTemplates map[string]struct {
			Type       string         `yaml:"type"`
			Properties map[string]any `yaml:"properties"`
		} `yaml:"node_templates"`
		Policies []map[string]struct {
			Type       string         `yaml:"type"`
			Properties map[string]any `yaml:"properties"`
			Targets    []string       `yaml:"targets"`
		} `yaml:"policies"`
	} `yaml:"topology_template"`
}

// Parse decodes an ADT document from YAML.
// Every node and policy must carry a type string; entities without one are a
// parse error since the submitter cannot route them.
func Parse(data []byte) (*Template, error) {
	var doc adtDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding template: %w", err)
	}

	tpl := &Template{Name: doc.Metadata.TemplateName}

	for name, node := range doc.TopologyTemplate.NodeTemplates {
		if node.Type == "" {
			return nil, fmt.Errorf("node %q has no type", name)
		}
		tpl.Nodes = append(tpl.Nodes, Node{
			Name:       name,
			Type:       node.Type,
			Properties: node.Properties,
		})
	}

	// Node templates decode from a YAML mapping; sort so repeated parses of
	// the same document produce identical artifacts downstream.
	sort.Slice(tpl.Nodes, func(i, j int) bool { return tpl.Nodes[i].Name < tpl.Nodes[j].Name })

	for _, entry := range doc.TopologyTemplate.Policies {
		for name, policy := range entry {
			if policy.Type == "" {
				return nil, fmt.Errorf("policy %q has no type", name)
			}
			tpl.Policies = append(tpl.Policies, Policy{
				Name:       name,
				Type:       policy.Type,
				Properties: policy.Properties,
				Targets:    policy.Targets,
			})
		}
	}

	return tpl, nil
}

// Load reads and parses an ADT document from a file.
func Load(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template %s: %w", path, err)
	}
	return Parse(data)
}
