package config

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/razeghi71/feedflow/ast"
	"github.com/razeghi71/feedflow/etlerr"
	"github.com/razeghi71/feedflow/loader"
	"github.com/razeghi71/feedflow/logging"
	"github.com/razeghi71/feedflow/refdb"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "feedflow.yaml", "log:\n  level: info\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "stderr", cfg.Log.Output)
	assert.Equal(t, "none", cfg.Metrics.Backend)
	assert.Equal(t, 1, cfg.Engine.Workers)
	assert.Equal(t, "joined_", cfg.Engine.JoinPrefix)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "feedflow.yaml", `
log:
  level: debug
  format: json
engine:
  workers: 2
databases:
  Catalog:
    driver: sqlite
    dsn: catalog.db
`)
	t.Setenv("FEEDFLOW_ENGINE_WORKERS", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 3, cfg.Engine.Workers)
	require.Contains(t, cfg.Databases, "catalog")
	assert.Equal(t, "sqlite", cfg.Databases["catalog"].Driver)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, false},
		{"no workers", func(c *Config) { c.Engine.Workers = 0 }, false},
		{"prometheus without url", func(c *Config) { c.Metrics.Backend = "prometheus" }, false},
		{"datadog without addr", func(c *Config) { c.Metrics.Backend = "datadog" }, false},
		{"unknown backend", func(c *Config) { c.Metrics.Backend = "graphite" }, false},
		{"prometheus", func(c *Config) {
			c.Metrics.Backend = "prometheus"
			c.Metrics.PushgatewayURL = "http://localhost:9091"
		}, true},
		{"unknown driver", func(c *Config) {
			c.Databases = map[string]Database{"crm": {Driver: "oracle", DSN: "x"}}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestUnknownDriverIsConfigurationError(t *testing.T) {
	cfg := Default()
	cfg.Databases = map[string]Database{"crm": {Driver: "oracle", DSN: "x"}}
	require.ErrorIs(t, cfg.Validate(), etlerr.ErrConfiguration)
}

func TestMetricsNewBackend(t *testing.T) {
	b, err := MetricsConfig{Backend: "none"}.NewBackend()
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = MetricsConfig{Backend: "prometheus", PushgatewayURL: "http://localhost:9091", Job: "feeds"}.NewBackend()
	require.NoError(t, err)
	assert.NotNil(t, b)

	_, err = MetricsConfig{Backend: "prometheus"}.NewBackend()
	require.Error(t, err)
}

func TestParseJobKeepsEntryOrder(t *testing.T) {
	job, err := ParseJob([]byte(`
name: demo
source:
  type: records
  records:
    - {SKU: a}
stages:
  - with:
      Z: upper(SKU)
      A: lower(Z)
      M: concat(A, Z)
  - filter: Z != ""
    label: has z
  - sort: [Z, A]
    desc: true
  - rename: {Z: ZED}
  - aggregate:
      by: A
      entries:
        N: count()
  - head: 3
`))
	require.NoError(t, err)
	require.Len(t, job.Stages, 6)

	with := job.Stages[0]
	assert.Equal(t, "with", with.Kind)
	require.Len(t, with.Entries, 3)
	assert.Equal(t, []string{"Z", "A", "M"}, []string{with.Entries[0].Column, with.Entries[1].Column, with.Entries[2].Column})

	assert.Equal(t, "has z", job.Stages[1].Label)
	assert.Equal(t, `Z != ""`, job.Stages[1].Expr)
	assert.True(t, job.Stages[2].Desc)
	assert.Equal(t, []string{"Z", "A"}, job.Stages[2].Columns)
	assert.Equal(t, []ast.RenamePair{{Old: "Z", New: "ZED"}}, job.Stages[3].Renames)
	assert.Equal(t, []string{"A"}, job.Stages[4].Columns)
	assert.Equal(t, "N", job.Stages[4].Entries[0].Column)
	assert.Equal(t, 3, job.Stages[5].N)
}

func TestParseJobJoinForms(t *testing.T) {
	job, err := ParseJob([]byte(`
stages:
  - join:
      source: {path: a.csv}
      on: {SKU: EXTERNAL_ID}
  - join:
      source: {path: b.csv}
      on: [GROUPING_KEY, "SKU = ID"]
      prefix: ref_
  - join:
      source: {path: c.csv}
      on: KEY
`))
	require.NoError(t, err)
	require.Len(t, job.Stages, 3)
	assert.Equal(t, []ast.JoinKey{{Left: "SKU", Right: "EXTERNAL_ID"}}, job.Stages[0].Join.On)
	assert.Equal(t, []ast.JoinKey{{Left: "GROUPING_KEY", Right: "GROUPING_KEY"}, {Left: "SKU", Right: "ID"}}, job.Stages[1].Join.On)
	assert.Equal(t, "ref_", job.Stages[1].Join.Prefix)
	assert.Equal(t, "b.csv", job.Stages[1].Join.Source.Path)
	assert.Equal(t, []ast.JoinKey{{Left: "KEY", Right: "KEY"}}, job.Stages[2].Join.On)
}

func TestParseJobErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"two kinds", "stages:\n  - {drop: a, select: b}\n"},
		{"unknown key", "stages:\n  - {explode: a}\n"},
		{"label on drop", "stages:\n  - {drop: a, label: x}\n"},
		{"no kind", "stages:\n  - {label: x}\n"},
		{"duplicate entry", "stages:\n  - with:\n      A: '1'\n      A: '2'\n"},
		{"scalar stage", "stages:\n  - drop\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJob([]byte(tt.doc))
			require.ErrorIs(t, err, etlerr.ErrConfiguration)
		})
	}
}

func TestJobValidate(t *testing.T) {
	job, err := ParseJob([]byte(`
source:
  type: xml
  path: feed.xml
stages:
  - with:
      PRICE: path(node, "price")
      BAD: frobnicate(PRICE)
  - filter: sum(PRICE) > 0
  - select: []
  - join:
      source: {path: ref.csv}
sink:
  path: out.json
`))
	require.NoError(t, err)

	issues := job.Validate()
	require.True(t, HasErrors(issues))

	paths := map[string]bool{}
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			paths[iss.Path] = true
		}
	}
	assert.True(t, paths["source.node_selector"])
	assert.True(t, paths["stages[0].with.BAD"])
	assert.True(t, paths["stages[1].filter"])
	assert.True(t, paths["stages[2].select"])
	assert.True(t, paths["stages[3].join.on"])
	assert.True(t, paths["sink.path"])
}

func TestBuildRejectsInvalidJob(t *testing.T) {
	job, err := ParseJob([]byte("source: {type: ftp}\n"))
	require.NoError(t, err)
	_, err = job.Build(nil, logging.Nop())
	require.ErrorIs(t, err, etlerr.ErrConfiguration)
}

func TestBuildRecordsToCSV(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.csv")
	job, err := ParseJob([]byte(`
name: records
source:
  type: records
  records:
    - {SKU: b, PRICE: "3"}
    - {SKU: a, PRICE: "0"}
    - {SKU: c, PRICE: "7"}
stages:
  - query: filter { PRICE > 0 } | sorta SKU
  - with:
      SKU: upper(SKU)
  - select: [SKU, PRICE]
sink:
  path: ` + out + `
  header: true
  delimiter: ";"
`))
	require.NoError(t, err)

	p, err := job.Build(nil, logging.Nop())
	require.NoError(t, err)
	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowsWritten)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "SKU;PRICE\nB;3\nC;7\n", string(data))
}

func TestBuildSQLSource(t *testing.T) {
	dir := t.TempDir()
	db, err := refdb.Open("sqlite", filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE products (id INTEGER, grouping_key TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO products VALUES (10, 'P1'), (11, 'P2')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	jobPath := writeFile(t, dir, "ids.yaml", `
source:
  type: records
  records:
    - {GROUPING_KEY: P2}
    - {GROUPING_KEY: P7}
stages:
  - join:
      source:
        type: sql
        database: Catalog
        query: SELECT id AS ID, grouping_key AS GROUPING_KEY FROM products
      on: [GROUPING_KEY]
  - with:
      ID: when(joined_ID == "", "NULL", joined_ID)
  - drop: [joined_ID, joined_GROUPING_KEY]
`)
	job, err := LoadJob(jobPath)
	require.NoError(t, err)
	assert.Equal(t, "ids", job.Name)

	app := Default()
	app.Databases = map[string]Database{"catalog": {Driver: "sqlite", DSN: "catalog.db"}}
	p, err := job.Build(app, logging.Nop())
	require.NoError(t, err)
	res, err := p.Run(context.Background())
	require.NoError(t, err)

	out := res.Table
	assert.Equal(t, []string{"GROUPING_KEY", "ID"}, out.Columns)
	assert.Equal(t, "11", out.Get(0, "ID").Text())
	assert.Equal(t, "NULL", out.Get(1, "ID").Text())
}

func TestBuildUnknownDatabase(t *testing.T) {
	job, err := ParseJob([]byte(`
source:
  type: sql
  database: warehouse
  query: SELECT 1
`))
	require.NoError(t, err)
	_, err = job.Build(Default(), logging.Nop())
	require.ErrorIs(t, err, etlerr.ErrConfiguration)
}

// runExample runs a job from examples/products, redirecting its sink.
func runExample(t *testing.T, name string) (string, [][]string) {
	t.Helper()
	job, err := LoadJob(filepath.Join("..", "examples", "products", name))
	require.NoError(t, err)
	require.False(t, HasErrors(job.Validate()))

	out := filepath.Join(t.TempDir(), "out.csv")
	job.Sink.Path = out
	p, err := job.Build(nil, logging.Nop())
	require.NoError(t, err)
	_, err = p.Run(context.Background())
	require.NoError(t, err)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return out, rows
}

func TestExampleProducts(t *testing.T) {
	out, _ := runExample(t, "products.yaml")
	got, err := loader.Load(out)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"EXTERNAL_ID", "GROUP_ID", "NAME", "IMAGE_URL", "PRICE", "CURRENCY", "URL",
		"BRAND", "DESCRIPTION", "SHOP_ID", "FEED_ID", "GROUPING_KEY", "ID",
	}, got.Columns)
	require.Equal(t, 2, got.Len())
	assert.Equal(t, "P1", got.Get(0, "GROUPING_KEY").Text())
	assert.Equal(t, "10", got.Get(0, "ID").Text())
	assert.Equal(t, "P5", got.Get(1, "GROUPING_KEY").Text())
	assert.Equal(t, "NULL", got.Get(1, "ID").Text())
	assert.Equal(t, "9.50", got.Get(1, "PRICE").Text())
}

func TestExampleProductVariants(t *testing.T) {
	_, rows := runExample(t, "product_variants.yaml")
	require.Len(t, rows, 3)

	// EXTERNAL_ID first, then PRODUCT_ID and ID at the end.
	type variant struct{ external, product, id string }
	var got []variant
	for _, r := range rows {
		got = append(got, variant{r[0], r[len(r)-2], r[len(r)-1]})
	}
	assert.Equal(t, []variant{
		{"V1", "10", "500"},
		{"V2", "10", "NULL"},
		{"V6", "12", "NULL"},
	}, got)
}

func TestExampleProductsStats(t *testing.T) {
	job, err := LoadJob(filepath.Join("..", "examples", "products", "products.yaml"))
	require.NoError(t, err)
	job.Sink = nil
	p, err := job.Build(nil, logging.Nop())
	require.NoError(t, err)
	res, err := p.Run(context.Background())
	require.NoError(t, err)

	dropped := map[string]int{}
	for _, st := range res.Stages {
		if st.Label != "" {
			dropped[st.Label] = st.Dropped()
		}
	}
	assert.Equal(t, 6, res.RowsRead)
	assert.Equal(t, map[string]int{
		"missing external id": 0,
		"missing name":        1,
		"missing url":         0,
		"missing image":       0,
		"out of stock":        1,
		"no price":            1,
	}, dropped)
}
