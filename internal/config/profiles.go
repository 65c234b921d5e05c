package config

// profiles.go loads named CSV dialect profiles from an HCL file:
//
//	profile "excel" {
//	  separator       = ";"
//	  line_terminator = "CRLF"
//	  enclosure       = "\""
//	  encoding        = "UTF-16"
//	}
//
// Values use the same string forms as the CSV_* environment variables.

import (
	"fmt"
	"os"
	"sort"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// Profile is a named dialect. Empty fields fall back to the dialect defaults.
type Profile struct {
	Name           string `hcl:"name,label" json:"name"`
	Description    string `hcl:"description,optional" json:"description,omitempty"`
	Separator      string `hcl:"separator,optional" json:"separator,omitempty"`
	LineTerminator string `hcl:"line_terminator,optional" json:"lineTerminator,omitempty"`
	Enclosure      string `hcl:"enclosure,optional" json:"enclosure,omitempty"`
	Escape         string `hcl:"escape,optional" json:"escape,omitempty"`
	NullKeyword    string `hcl:"null_keyword,optional" json:"nullKeyword,omitempty"`
	Encoding       string `hcl:"encoding,optional" json:"encoding,omitempty"`
	HeaderOnTop    *bool  `hcl:"header_on_top,optional" json:"headerOnTop,omitempty"`
}

type profilesFile struct {
	Profiles []Profile `hcl:"profile,block"`
}

// Profiles is a set of dialect profiles keyed by name.
type Profiles map[string]Profile

// Get returns the named profile.
func (p Profiles) Get(name string) (Profile, bool) {
	prof, ok := p[name]
	return prof, ok
}

// List returns the profiles sorted by name.
func (p Profiles) List() []Profile {
	out := make([]Profile, 0, len(p))
	for _, prof := range p {
		out = append(out, prof)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LoadProfiles reads dialect profiles from the given HCL file.
// An empty path yields an empty set.
func LoadProfiles(path string) (Profiles, error) {
	if path == "" {
		return Profiles{}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles file: %w", err)
	}
	return ParseProfiles(content, path)
}

// ParseProfiles decodes profile blocks from HCL source. filename is used in
// diagnostics only.
func ParseProfiles(content []byte, filename string) (Profiles, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(content, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse profiles file: %s", diags.Error())
	}

	var decoded profilesFile
	diags = gohcl.DecodeBody(file.Body, nil, &decoded)
	if diags.HasErrors() {
		return nil, fmt.Errorf("decode profiles: %s", diags.Error())
	}

	profiles := make(Profiles, len(decoded.Profiles))
	for _, prof := range decoded.Profiles {
		if _, dup := profiles[prof.Name]; dup {
			return nil, fmt.Errorf("duplicate profile %q in %s", prof.Name, filename)
		}
		profiles[prof.Name] = prof
	}
	return profiles, nil
}

// ExportProfiles writes profiles to path in HCL format, sorted by name.
func ExportProfiles(path string, profiles Profiles) error {
	f := hclwrite.NewEmptyFile()
	root := f.Body()

	for i, prof := range profiles.List() {
		if i > 0 {
			root.AppendNewline()
		}
		body := root.AppendNewBlock("profile", []string{prof.Name}).Body()
		setString(body, "description", prof.Description)
		setString(body, "separator", prof.Separator)
		setString(body, "line_terminator", prof.LineTerminator)
		setString(body, "enclosure", prof.Enclosure)
		setString(body, "escape", prof.Escape)
		setString(body, "null_keyword", prof.NullKeyword)
		setString(body, "encoding", prof.Encoding)
		if prof.HeaderOnTop != nil {
			body.SetAttributeValue("header_on_top", cty.BoolVal(*prof.HeaderOnTop))
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create profiles file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(f.Bytes()); err != nil {
		return fmt.Errorf("write profiles file: %w", err)
	}
	return nil
}

func setString(body *hclwrite.Body, name, value string) {
	if value != "" {
		body.SetAttributeValue(name, cty.StringVal(value))
	}
}
