// Package deploy creates the resources a blueprint describes, in dependency
// order, and keeps saved project files in step with live state.
package deploy

import (
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pockitect/pockitect/pkg/engine"
)

// Blueprint is the deployable description of one project.
type Blueprint struct {
	Project   ProjectSpec             `yaml:"project" validate:"required"`
	Resources map[string]ResourceSpec `yaml:"resources" validate:"dive"`
}

// ProjectSpec names the project and its home region.
type ProjectSpec struct {
	Name   string `yaml:"name" validate:"required"`
	Region string `yaml:"region"`
}

// ResourceSpec is one named resource of a blueprint.
type ResourceSpec struct {
	Type       string         `yaml:"type" validate:"required"`
	Properties map[string]any `yaml:"properties"`
	DependsOn  []string       `yaml:"depends_on"`
}

// String returns a property or "".
func (r ResourceSpec) String(key string) string {
	if v, ok := r.Properties[key].(string); ok {
		return v
	}
	return ""
}

// implicitParents lists, for a creatable type, the types that must exist
// before it.
var implicitParents = map[engine.ResourceType][]engine.ResourceType{
	engine.TypeSubnet:        {engine.TypeVPC},
	engine.TypeSecurityGroup: {engine.TypeVPC, engine.TypeSubnet},
	engine.TypeInstance:      {engine.TypeSubnet, engine.TypeSecurityGroup},
}

var validate = validator.New()

// LoadBlueprint reads and validates a blueprint file.
func LoadBlueprint(path string) (*Blueprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}
	return ParseBlueprint(data)
}

// ParseBlueprint decodes and validates a blueprint document.
func ParseBlueprint(data []byte) (*Blueprint, error) {
	var bp Blueprint
	if err := yaml.Unmarshal(data, &bp); err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	if err := bp.Validate(); err != nil {
		return nil, err
	}
	return &bp, nil
}

// Validate checks the document shape, that every type can be created and
// that every depends_on names another resource.
func (b *Blueprint) Validate() error {
	if err := validate.Struct(b); err != nil {
		return fmt.Errorf("invalid blueprint: %w", err)
	}
	for _, name := range b.names() {
		spec := b.Resources[name]
		t, err := engine.ParseResourceType(spec.Type)
		if err != nil {
			return fmt.Errorf("resource %s: %w", name, err)
		}
		if !t.Capabilities().Creatable {
			return fmt.Errorf("resource %s: type %s cannot be deployed", name, t)
		}
		for _, dep := range spec.DependsOn {
			if _, ok := b.Resources[dep]; !ok {
				return fmt.Errorf("resource %s depends on unknown resource %q", name, dep)
			}
		}
	}
	return nil
}

func (b *Blueprint) names() []string {
	names := make([]string, 0, len(b.Resources))
	for name := range b.Resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Order returns the resource names grouped into creation layers: every
// resource comes after the resources it depends on, explicitly or through
// the implicit vpc, subnet, security group, instance chain.
func (b *Blueprint) Order() ([][]string, error) {
	graph := engine.NewDependencyGraph()
	refs := make(map[string]engine.ResourceRef, len(b.Resources))
	byType := make(map[engine.ResourceType][]engine.ResourceRef)

	for _, name := range b.names() {
		spec := b.Resources[name]
		ref := engine.ResourceRef{ID: name, Type: engine.ResourceType(spec.Type), Region: b.Project.Region}
		refs[name] = ref
		byType[ref.Type] = append(byType[ref.Type], ref)
		graph.AddNode(ref)
	}

	for _, name := range b.names() {
		child := refs[name]
		for _, dep := range b.Resources[name].DependsOn {
			if err := graph.AddEdge(refs[dep], child); err != nil {
				return nil, err
			}
		}
		for _, pt := range implicitParents[child.Type] {
			for _, parent := range byType[pt] {
				if err := graph.AddEdge(parent, child); err != nil {
					return nil, err
				}
			}
		}
	}

	if cycle := graph.FindCycle(); cycle != nil {
		return nil, engine.NewPermanentError("blueprint has a dependency cycle: "+engine.FormatCycle(cycle), nil).
			WithCode(engine.ErrCodeValidation)
	}

	layers := graph.Layers()
	out := make([][]string, 0, len(layers))
	for _, layer := range layers {
		names := make([]string, 0, len(layer))
		for _, ref := range layer {
			names = append(names, ref.ID)
		}
		out = append(out, names)
	}
	return out, nil
}
