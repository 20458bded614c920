package catalog

import (
	"embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed tables/*.yaml
var tablesFS embed.FS

type tableFile struct {
	Tables []TableSpec `yaml:"tables"`
}

// Load читает встроенные YAML-файлы каталога и валидирует результат.
// Каталог статичен: он компилируется в бинарник, никаких внешних путей.
func Load() (*Catalog, error) {
	entries, err := tablesFS.ReadDir("tables")
	if err != nil {
		return nil, err
	}
	// стабильно: по имени файла, внутри файла — по порядку объявления
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var specs []TableSpec
	seen := map[string]string{} // table -> file
	for _, fn := range names {
		data, err := tablesFS.ReadFile("tables/" + fn)
		if err != nil {
			return nil, err
		}
		var tf tableFile
		if err := yaml.Unmarshal(data, &tf); err != nil {
			return nil, fmt.Errorf("parse %s: %w", fn, err)
		}
		for _, t := range tf.Tables {
			if t.Name == "" {
				return nil, fmt.Errorf("%s: table without a name", fn)
			}
			if prev, dup := seen[t.Name]; dup {
				return nil, fmt.Errorf("duplicate table %q (%s and %s)", t.Name, prev, fn)
			}
			seen[t.Name] = fn
			specs = append(specs, t)
		}
	}

	c := &Catalog{specs: specs, byName: make(map[string]*TableSpec, len(specs))}
	for i := range c.specs {
		c.byName[c.specs[i].Name] = &c.specs[i]
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}
