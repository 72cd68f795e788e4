package loader

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	goavro "github.com/linkedin/goavro/v2"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/razeghi71/feedflow/etlerr"
	"github.com/razeghi71/feedflow/table"
	"github.com/razeghi71/feedflow/xmlnode"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCSVKeepsNonCanonicalNumbersAsText(t *testing.T) {
	path := writeFile(t, "refs.csv", "ID, SKU ,PRICE,FLAG\n007,A-1,1.50,true\n12,B-2,2.5,\n")

	tbl, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ID", "SKU", "PRICE", "FLAG"}, tbl.Columns)
	require.Equal(t, 2, tbl.Len())

	assert.Equal(t, table.StrVal("007"), tbl.Get(0, "ID"))
	assert.Equal(t, table.StrVal("1.50"), tbl.Get(0, "PRICE"))
	assert.Equal(t, table.BoolVal(true), tbl.Get(0, "FLAG"))
	assert.Equal(t, table.IntVal(12), tbl.Get(1, "ID"))
	assert.Equal(t, table.FloatVal(2.5), tbl.Get(1, "PRICE"))
	assert.Equal(t, table.StrVal(""), tbl.Get(1, "FLAG"))
}

func TestLoadCSVKeepsCellText(t *testing.T) {
	path := writeFile(t, "cells.csv", "ID,FLAG,NAME,NOTE\nNULL,TRUE,, x \nnull,false,0,0.0\n")

	tbl, err := Load(path)
	require.NoError(t, err)
	tests := []struct {
		row  int
		col  string
		want table.Value
	}{
		{0, "ID", table.StrVal("NULL")},
		{0, "FLAG", table.StrVal("TRUE")},
		{0, "NAME", table.StrVal("")},
		{0, "NOTE", table.StrVal(" x ")},
		{1, "ID", table.StrVal("null")},
		{1, "FLAG", table.BoolVal(false)},
		{1, "NAME", table.IntVal(0)},
		{1, "NOTE", table.StrVal("0.0")},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tbl.Get(tt.row, tt.col), "row %d column %s", tt.row, tt.col)
	}
}

func TestLoadCSVShortRowsPadded(t *testing.T) {
	path := writeFile(t, "short.csv", "a,b,c\n1\n")
	tbl, err := Load(path)
	require.NoError(t, err)
	assert.True(t, tbl.Get(0, "c").IsNull())
}

func TestLoadJSONDeterministicSchema(t *testing.T) {
	path := writeFile(t, "rows.json", `[{"b": 1, "a": "x", "tags": ["s", "m"]}, {"c": 2.5, "a": null}]`)

	tbl, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "tags", "c"}, tbl.Columns)
	assert.Equal(t, table.IntVal(1), tbl.Get(0, "b"))
	assert.Equal(t, "s,m", tbl.Get(0, "tags").Text())
	assert.Equal(t, table.TypeList, tbl.Get(0, "tags").Type)
	assert.True(t, tbl.Get(1, "a").IsNull())
	assert.Equal(t, table.FloatVal(2.5), tbl.Get(1, "c"))
}

func TestLoadJSONL(t *testing.T) {
	path := writeFile(t, "rows.jsonl", "{\"id\": \"1\"}\n\n{\"id\": \"2\", \"x\": true}\n")
	tbl, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())
	assert.True(t, tbl.Get(0, "x").IsNull())

	bad := writeFile(t, "bad.jsonl", "{\"id\": 1}\n{oops\n")
	_, err = Load(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestLoadUnsupportedExtension(t *testing.T) {
	_, err := Load("feed.xlsx")
	require.ErrorIs(t, err, etlerr.ErrConfiguration)
}

func TestLoadAvro(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.avro")
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W: f,
		Schema: `{"type": "record", "name": "row", "fields": [
			{"name": "sku", "type": "string"},
			{"name": "qty", "type": "long"},
			{"name": "note", "type": ["null", "string"], "default": null}
		]}`,
	})
	require.NoError(t, err)
	require.NoError(t, w.Append([]map[string]any{
		{"sku": "A-1", "qty": int64(3), "note": goavro.Union("string", "fragile")},
		{"sku": "B-2", "qty": int64(0), "note": nil},
	}))
	require.NoError(t, f.Close())

	tbl, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"sku", "qty", "note"}, tbl.Columns)
	assert.Equal(t, table.IntVal(3), tbl.Get(0, "qty"))
	assert.Equal(t, table.StrVal("fragile"), tbl.Get(0, "note"))
	assert.True(t, tbl.Get(1, "note").IsNull())
}

type parquetRow struct {
	SKU   string  `parquet:"sku"`
	Qty   int64   `parquet:"qty"`
	Price float64 `parquet:"price"`
}

func TestLoadParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := parquet.NewGenericWriter[parquetRow](f)
	_, err = w.Write([]parquetRow{{"A-1", 3, 9.5}, {"B-2", 1, 4}})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	tbl, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"sku", "qty", "price"}, tbl.Columns)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, "A-1", tbl.Get(0, "sku").Text())
	assert.Equal(t, "3", tbl.Get(0, "qty").Text())
	assert.Equal(t, "4", tbl.Get(1, "price").Text())
}

func TestRecordsSource(t *testing.T) {
	src := Records{
		{"ID": "1", "EXTERNAL_ID": "A-S"},
		{"ID": "2", "EXTERNAL_ID": "B-M", "STATUS": "new"},
	}
	tbl, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"EXTERNAL_ID", "ID", "STATUS"}, tbl.Columns)
	assert.True(t, tbl.Get(0, "STATUS").IsNull())

	empty, err := Records(nil).Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
	assert.Empty(t, empty.Columns)
}

const feed = `<?xml version="1.0" encoding="UTF-8"?>
<products>
	<product id="1"><merchant_product_id>A-S</merchant_product_id></product>
	<product id="2"><merchant_product_id>B-M</merchant_product_id></product>
	<meta><product id="ignored"/></meta>
</products>`

func TestXMLNodesSelector(t *testing.T) {
	src := XMLNodes{NodeSelector: "products/product"}
	tbl, err := src.Decode(context.Background(), strings.NewReader(feed))
	require.NoError(t, err)
	assert.Equal(t, []string{"node"}, tbl.Columns)
	require.Equal(t, 2, tbl.Len())

	node := tbl.Get(1, "node")
	require.Equal(t, table.TypeNode, node.Type)
	id, ok := node.Node.Find(xmlnode.MustCompilePath("merchant_product_id"))
	require.True(t, ok)
	assert.Equal(t, "B-M", id)
}

func TestXMLNodesAnyDepthSelector(t *testing.T) {
	src := XMLNodes{NodeSelector: "//product", Column: "item"}
	tbl, err := src.Decode(context.Background(), strings.NewReader(feed))
	require.NoError(t, err)
	assert.Equal(t, []string{"item"}, tbl.Columns)
	assert.Equal(t, 3, tbl.Len())
}

func TestXMLNodesSelectorAnchoredAtRoot(t *testing.T) {
	nested := "<catalog><products><product><sku>A</sku></product></products></catalog>"
	tests := []struct {
		selector string
		want     int
	}{
		{"products/product", 0},
		{"product", 0},
		{"catalog/products/product", 1},
		{"/catalog/products/product/", 1},
		{"//products/product", 1},
	}
	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			tbl, err := XMLNodes{NodeSelector: tt.selector}.Decode(context.Background(), strings.NewReader(nested))
			require.NoError(t, err)
			assert.Equal(t, tt.want, tbl.Len())
		})
	}
}

func TestXMLNodesLatin1(t *testing.T) {
	body := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>\n<products><product><title>Crème</title></product></products>"
	encoded, err := charmap.ISO8859_1.NewEncoder().String(body)
	require.NoError(t, err)
	path := writeFile(t, "feed.xml", encoded)

	tbl, err := XMLNodes{Path: path, NodeSelector: "products/product"}.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())
	title, _ := tbl.Get(0, "node").Node.Find(xmlnode.MustCompilePath("title"))
	assert.Equal(t, "Crème", title)
}

func TestXMLNodesErrors(t *testing.T) {
	_, err := XMLNodes{NodeSelector: " / "}.Decode(context.Background(), strings.NewReader(feed))
	require.ErrorIs(t, err, etlerr.ErrConfiguration)

	_, err = XMLNodes{NodeSelector: "products/product"}.Decode(context.Background(), strings.NewReader("<products><product>"))
	require.Error(t, err)

	_, err = XMLNodes{Path: filepath.Join(t.TempDir(), "missing.xml"), NodeSelector: "a"}.Read(context.Background())
	require.Error(t, err)
}
