package construct

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

type Output struct {
	Name        string
	Description string
	Value       any
}

type templateResource struct {
	Type           string     `yaml:"Type"`
	DependsOn      []string   `yaml:"DependsOn,omitempty"`
	DeletionPolicy string     `yaml:"DeletionPolicy,omitempty"`
	Properties     Properties `yaml:"Properties,omitempty"`
}

type templateOutput struct {
	Description string `yaml:"Description,omitempty"`
	Value       any    `yaml:"Value"`
}

// Template renders the graph as a CloudFormation template. Resources are emitted in creation order with
// DependsOn set to their direct dependencies. Outputs keep the order given.
func (g *Graph) Template(description string, outputs []Output) ([]byte, error) {
	order, err := g.CreationOrder()
	if err != nil {
		return nil, err
	}

	resources := mapping()
	for _, id := range order {
		r, err := g.Resource(id)
		if err != nil {
			return nil, err
		}
		deps, err := g.DirectDependencies(id)
		if err != nil {
			return nil, err
		}
		body := templateResource{
			Type:           id.Type,
			DeletionPolicy: r.DeletionPolicy,
			Properties:     r.Properties,
		}
		for _, dep := range deps {
			body.DependsOn = append(body.DependsOn, dep.Name)
		}
		if err := appendPair(resources, id.Name, body); err != nil {
			return nil, fmt.Errorf("could not render %s: %w", id, err)
		}
	}

	outs := mapping()
	for _, o := range outputs {
		if err := appendPair(outs, o.Name, templateOutput{Description: o.Description, Value: o.Value}); err != nil {
			return nil, fmt.Errorf("could not render output %s: %w", o.Name, err)
		}
	}

	doc := mapping()
	if err := appendPair(doc, "AWSTemplateFormatVersion", "2010-09-09"); err != nil {
		return nil, err
	}
	if description != "" {
		if err := appendPair(doc, "Description", description); err != nil {
			return nil, err
		}
	}
	doc.Content = append(doc.Content, scalar("Resources"), resources)
	if len(outs.Content) > 0 {
		doc.Content = append(doc.Content, scalar("Outputs"), outs)
	}

	buf := new(bytes.Buffer)
	enc := yaml.NewEncoder(buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func mapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func scalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func appendPair(m *yaml.Node, key string, value any) error {
	var n yaml.Node
	if err := n.Encode(value); err != nil {
		return err
	}
	m.Content = append(m.Content, scalar(key), &n)
	return nil
}
