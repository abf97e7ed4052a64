package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DatasourceDefinition is one switchable datasource from the catalog file.
// Either URL (JDBC-style or native DSN) or the discrete host fields are set.
type DatasourceDefinition struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	URL         string            `yaml:"url"`
	Dialect     string            `yaml:"dialect"`
	Host        string            `yaml:"host"`
	Port        int               `yaml:"port"`
	User        string            `yaml:"user"`
	Password    string            `yaml:"password"`
	Database    string            `yaml:"database"`
	SSLMode     string            `yaml:"ssl_mode"`
	MaxConns    int32             `yaml:"max_conns"`
	MinConns    int32             `yaml:"min_conns"`
	Params      map[string]string `yaml:"params"`
}

// Catalog is the set of datasources the engine can bind.
type Catalog struct {
	Datasources []DatasourceDefinition `yaml:"datasources"`

	byName map[string]DatasourceDefinition
}

// LoadCatalog reads the datasource catalog. ${VAR} references in url and
// password are expanded from the environment so secrets stay out of the file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read datasource catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes catalog YAML.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse datasource catalog: %w", err)
	}

	c.byName = make(map[string]DatasourceDefinition, len(c.Datasources))
	for i := range c.Datasources {
		def := &c.Datasources[i]
		def.Name = strings.TrimSpace(def.Name)
		if def.Name == "" {
			return nil, fmt.Errorf("datasource at index %d has no name", i)
		}
		if _, dup := c.byName[def.Name]; dup {
			return nil, fmt.Errorf("duplicate datasource name %q", def.Name)
		}
		if def.URL == "" && def.Host == "" {
			return nil, fmt.Errorf("datasource %q needs either url or host", def.Name)
		}
		def.URL = os.ExpandEnv(def.URL)
		def.Password = os.ExpandEnv(def.Password)
		c.byName[def.Name] = *def
	}

	return &c, nil
}

// PasswordDecrypter opens "enc:"-prefixed catalog passwords.
type PasswordDecrypter interface {
	Open(value string) (string, error)
}

// DecryptPasswords replaces encrypted passwords with their plaintext.
// Entries stored in plaintext are left alone.
func (c *Catalog) DecryptPasswords(dec PasswordDecrypter) error {
	for i := range c.Datasources {
		def := &c.Datasources[i]
		pw, err := dec.Open(def.Password)
		if err != nil {
			return fmt.Errorf("datasource %q: %w", def.Name, err)
		}
		def.Password = pw
		c.byName[def.Name] = *def
	}
	return nil
}

// Lookup returns the definition registered under name.
func (c *Catalog) Lookup(name string) (DatasourceDefinition, bool) {
	def, ok := c.byName[name]
	return def, ok
}

// Names returns the catalog entry names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
