package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/pockitect/pockitect/pkg/cloud"
)

// ErrProjectNotFound is returned when no saved project file exists.
var ErrProjectNotFound = errors.New("project not found")

var slugPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// StatusSource reads live status for the sections a project file tracks.
type StatusSource interface {
	DescribeInstance(ctx context.Context, region, id string) (*cloud.Instance, error)
	DescribeDBInstance(ctx context.Context, region, id string) (*cloud.DBInstance, error)
}

// ProjectPath returns the file a project slug is saved in.
func ProjectPath(dir, slug string) (string, error) {
	if !slugPattern.MatchString(slug) {
		return "", fmt.Errorf("invalid project name %q", slug)
	}
	return filepath.Join(dir, slug+".yaml"), nil
}

// Refresh updates the compute and database status recorded in a saved
// project file. The file is rewritten only when a status changed; key
// order and comments are kept. Describe failures leave the section as is.
func Refresh(ctx context.Context, src StatusSource, dir, slug, defaultRegion string) (bool, error) {
	path, err := ProjectPath(dir, slug)
	if err != nil {
		return false, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, fmt.Errorf("%w: %s", ErrProjectNotFound, slug)
	}
	if err != nil {
		return false, err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return false, fmt.Errorf("failed to parse project %s: %w", slug, err)
	}
	if len(doc.Content) == 0 {
		return false, nil
	}
	root := doc.Content[0]

	region := scalar(lookup(root, "project", "region"))
	if region == "" {
		region = defaultRegion
	}

	updated := false
	if compute := lookup(root, "compute"); compute != nil {
		if id := scalar(lookup(compute, "instance_id")); id != "" {
			if inst, err := src.DescribeInstance(ctx, region, id); err == nil {
				if scalar(lookup(compute, "status")) != inst.State {
					setScalar(compute, "status", inst.State)
					setScalar(compute, "public_ip", inst.PublicIP)
					setScalar(compute, "private_ip", inst.PrivateIP)
					updated = true
				}
			}
		}
	}

	if db := lookup(root, "data", "db"); db != nil {
		id := scalar(lookup(db, "identifier"))
		status := scalar(lookup(db, "status"))
		if id != "" && status != "" && status != "skipped" {
			if inst, err := src.DescribeDBInstance(ctx, region, id); err == nil && inst.Status != status {
				setScalar(db, "status", inst.Status)
				setScalar(db, "endpoint", inst.Endpoint)
				updated = true
			}
		}
	}

	if !updated {
		return false, nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return false, fmt.Errorf("failed to encode project %s: %w", slug, err)
	}
	if err := enc.Close(); err != nil {
		return false, err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return false, fmt.Errorf("failed to write project %s: %w", slug, err)
	}
	return true, nil
}

// lookup follows a path of mapping keys.
func lookup(n *yaml.Node, keys ...string) *yaml.Node {
	for _, key := range keys {
		if n == nil || n.Kind != yaml.MappingNode {
			return nil
		}
		var next *yaml.Node
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == key {
				next = n.Content[i+1]
				break
			}
		}
		n = next
	}
	return n
}

func scalar(n *yaml.Node) string {
	if n == nil || n.Kind != yaml.ScalarNode || n.Tag == "!!null" {
		return ""
	}
	return n.Value
}

func setScalar(m *yaml.Node, key, value string) {
	v := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
	if value == "" {
		v = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = v
			return
		}
	}
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, v)
}
