// Package messages holds the user-facing text catalog.
//
// The catalog ships embedded (default.yaml). An optional YAML file overrides
// individual entries; keys it leaves out keep their default text.
package messages

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Catalog is the set of texts sent to users.
type Catalog struct {
	Welcome       string `yaml:"welcome"`
	WelcomeButton string `yaml:"welcome_button"`
	Prompt        string `yaml:"prompt"`
	Checking      string `yaml:"checking"`
	Granted       string `yaml:"granted"`
	GrantedButton string `yaml:"granted_button"`
	MyCode        string `yaml:"my_code"`
	NoCode        string `yaml:"no_code"`
	NotFound      string `yaml:"not_found"`
	Malformed     string `yaml:"malformed"`
	Failed        string `yaml:"failed"`
	Unavailable   string `yaml:"unavailable"`
	Cancelled     string `yaml:"cancelled"`
	Guidance      string `yaml:"guidance"`
	Throttled     string `yaml:"throttled"`
	Help          string `yaml:"help"`
}

// Vars are placeholder values for Render.
type Vars struct {
	Name     string
	URL      string
	Code     string
	Password string
	Support  string
	Email    string
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c := &Catalog{}
	if err := yaml.Unmarshal(defaultYAML, c); err != nil {
		panic(fmt.Sprintf("messages: embedded catalog: %v", err))
	}
	return c
}

// Load returns the default catalog overlaid with the entries in path. An
// empty path returns the defaults.
func Load(path string) (*Catalog, error) {
	c := Default()
	if strings.TrimSpace(path) == "" {
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read messages file: %w", err)
	}
	return c, Overlay(c, raw)
}

// Overlay decodes raw YAML into c. Keys absent from raw are untouched;
// unknown keys are rejected so typos surface at startup.
func Overlay(c *Catalog, raw []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse messages: %w", err)
	}
	return nil
}

// Render substitutes the {name}, {url}, {code}, {password}, {support} and
// {email} placeholders in text.
func Render(text string, v Vars) string {
	return strings.NewReplacer(
		"{name}", v.Name,
		"{url}", v.URL,
		"{code}", v.Code,
		"{password}", v.Password,
		"{support}", v.Support,
		"{email}", v.Email,
	).Replace(text)
}
