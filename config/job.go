package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/razeghi71/feedflow/ast"
	"github.com/razeghi71/feedflow/etlerr"
)

// Job is a pipeline definition read from a YAML file:
//
//	name: products
//	source:
//	  type: xml
//	  path: feed.xml
//	  node_selector: products/product
//	stages:
//	  - with:
//	      GROUPING_KEY: path(node, "merchant_product_id")
//	      PRICE: path(node, "price")
//	  - filter: PRICE > 0
//	    label: positive price
//	  - dedup: [GROUPING_KEY]
//	  - join:
//	      source: {path: existing_products.csv}
//	      on: {GROUPING_KEY: GROUPING_KEY}
//	  - drop: [node]
//	sink:
//	  path: products_output.csv
//	  header: true
//	  overwrite: true
//
// Relative paths are resolved against the directory of the job file.
type Job struct {
	Name    string     `yaml:"name"`
	Source  SourceSpec `yaml:"source"`
	Stages  []Stage    `yaml:"stages"`
	Sink    *SinkSpec  `yaml:"sink"`
	Workers int        `yaml:"workers"`

	dir string
}

// SourceSpec describes where a table comes from. Type is file (the
// default; format by extension), xml, records or sql.
type SourceSpec struct {
	Type         string           `yaml:"type"`
	Path         string           `yaml:"path"`
	NodeSelector string           `yaml:"node_selector"`
	Column       string           `yaml:"column"`
	Records      []map[string]any `yaml:"records"`
	Database     string           `yaml:"database"` // name under databases in the app config
	Driver       string           `yaml:"driver"`
	DSN          string           `yaml:"dsn"`
	Query        string           `yaml:"query"`
}

func (s SourceSpec) kind() string {
	if s.Type == "" {
		return "file"
	}
	return strings.ToLower(s.Type)
}

// SinkSpec describes the output file. The format follows the extension.
type SinkSpec struct {
	Path      string `yaml:"path"`
	Header    bool   `yaml:"header"`
	Overwrite bool   `yaml:"overwrite"`
	Delimiter string `yaml:"delimiter"`
}

// Entry is one derived column: a name and an expression source.
type Entry struct {
	Column string
	Expr   string
}

// Entries keeps the order in which columns are written in the file.
type Entries []Entry

// UnmarshalYAML reads a mapping of column to expression in document order.
func (e *Entries) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping of column: expression", node.Line)
	}
	out := make(Entries, 0, len(node.Content)/2)
	seen := make(map[string]bool)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: expression for %q must be a string", v.Line, k.Value)
		}
		if seen[k.Value] {
			return fmt.Errorf("line %d: column %q defined twice", k.Line, k.Value)
		}
		seen[k.Value] = true
		out = append(out, Entry{Column: k.Value, Expr: v.Value})
	}
	*e = out
	return nil
}

// JoinSpec describes a left join against a reference table.
type JoinSpec struct {
	Source SourceSpec
	On     []ast.JoinKey
	Prefix string
}

// Stage is one pipeline step. Kind is the key that introduced it.
type Stage struct {
	Kind    string
	Line    int
	Entries Entries        // with, aggregate
	Expr    string         // filter
	Label   string         // filter
	Columns []string       // dedup, drop, select, sort, aggregate by
	Renames []ast.RenamePair
	N       int  // head
	Desc    bool // sort
	Join    *JoinSpec
	Query   string // pipe fragment, e.g. "filter { PRICE > 0 } | head 5"
}

var stageKinds = map[string]bool{
	"with": true, "filter": true, "dedup": true, "drop": true, "rename": true,
	"select": true, "head": true, "sort": true, "aggregate": true, "join": true,
	"query": true,
}

// modifiers may appear next to the stage key.
var stageModifiers = map[string]string{
	"label": "filter",
	"desc":  "sort",
}

// UnmarshalYAML decodes a single-key stage mapping plus its modifiers.
func (s *Stage) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: a stage must be a mapping such as {filter: ...}", node.Line)
	}
	s.Line = node.Line

	var body *yaml.Node
	mods := map[string]*yaml.Node{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		switch {
		case stageKinds[k.Value]:
			if body != nil {
				return fmt.Errorf("line %d: stage has both %q and %q", k.Line, s.Kind, k.Value)
			}
			s.Kind, body = k.Value, v
		case stageModifiers[k.Value] != "":
			mods[k.Value] = v
		default:
			return fmt.Errorf("line %d: unknown stage key %q", k.Line, k.Value)
		}
	}
	if body == nil {
		return fmt.Errorf("line %d: stage has no kind", node.Line)
	}
	for name := range mods {
		if stageModifiers[name] != s.Kind {
			return fmt.Errorf("line %d: %q does not apply to %s stages", node.Line, name, s.Kind)
		}
	}

	switch s.Kind {
	case "with":
		return body.Decode(&s.Entries)
	case "filter":
		if label, ok := mods["label"]; ok {
			s.Label = label.Value
		}
		return body.Decode(&s.Expr)
	case "query":
		return body.Decode(&s.Query)
	case "dedup", "drop", "select":
		cols, err := columnList(body)
		s.Columns = cols
		return err
	case "sort":
		if desc, ok := mods["desc"]; ok {
			if err := desc.Decode(&s.Desc); err != nil {
				return err
			}
		}
		cols, err := columnList(body)
		s.Columns = cols
		return err
	case "head":
		return body.Decode(&s.N)
	case "rename":
		var pairs Entries
		if err := body.Decode(&pairs); err != nil {
			return err
		}
		for _, p := range pairs {
			s.Renames = append(s.Renames, ast.RenamePair{Old: p.Column, New: p.Expr})
		}
		return nil
	case "aggregate":
		var agg struct {
			By      yaml.Node `yaml:"by"`
			Entries Entries   `yaml:"entries"`
		}
		if err := body.Decode(&agg); err != nil {
			return err
		}
		s.Entries = agg.Entries
		if agg.By.Kind != 0 {
			cols, err := columnList(&agg.By)
			if err != nil {
				return err
			}
			s.Columns = cols
		}
		return nil
	case "join":
		return s.decodeJoin(body)
	}
	return nil
}

func (s *Stage) decodeJoin(body *yaml.Node) error {
	var raw struct {
		Source SourceSpec `yaml:"source"`
		On     yaml.Node  `yaml:"on"`
		Prefix string     `yaml:"prefix"`
	}
	if err := body.Decode(&raw); err != nil {
		return err
	}
	j := &JoinSpec{Source: raw.Source, Prefix: raw.Prefix}

	switch raw.On.Kind {
	case yaml.MappingNode:
		var pairs Entries
		if err := raw.On.Decode(&pairs); err != nil {
			return err
		}
		for _, p := range pairs {
			j.On = append(j.On, ast.JoinKey{Left: p.Column, Right: p.Expr})
		}
	case yaml.SequenceNode, yaml.ScalarNode:
		cols, err := columnList(&raw.On)
		if err != nil {
			return err
		}
		for _, c := range cols {
			left, right, ok := strings.Cut(c, "=")
			if !ok {
				right = left
			}
			j.On = append(j.On, ast.JoinKey{Left: strings.TrimSpace(left), Right: strings.TrimSpace(right)})
		}
	}
	s.Join = j
	return nil
}

// columnList accepts a single name, a sequence, or an empty value.
func columnList(node *yaml.Node) ([]string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" || node.Value == "" {
			return nil, nil
		}
		return []string{node.Value}, nil
	case yaml.SequenceNode:
		var cols []string
		if err := node.Decode(&cols); err != nil {
			return nil, err
		}
		return cols, nil
	default:
		return nil, fmt.Errorf("line %d: expected a column name or a list of names", node.Line)
	}
}

// LoadJob reads and decodes a job file. It does not validate expressions;
// call Validate or Build for that.
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}
	job, err := ParseJob(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	job.dir = filepath.Dir(path)
	if job.Name == "" {
		job.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return job, nil
}

// ParseJob decodes a job document. Relative paths resolve against the
// working directory.
func ParseJob(data []byte) (*Job, error) {
	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("%w: %v", etlerr.ErrConfiguration, err)
	}
	return &job, nil
}

// Path resolves p against the job file directory.
func (j *Job) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || j.dir == "" {
		return p
	}
	return filepath.Join(j.dir, p)
}

func stagePath(i int, kind string) string {
	return "stages[" + strconv.Itoa(i) + "]." + kind
}
