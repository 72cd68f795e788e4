// gen writes fixtures for manual and load testing: a synthetic product
// feed in the shape of examples/products/feed.xml, and Parquet and Avro
// copies of the reference CSV files.
//
//	go run ./testdata/gen -n 50000 -out testdata
package main

import (
	"context"
	"encoding/xml"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/razeghi71/feedflow/loader"
	"github.com/razeghi71/feedflow/sink"
)

type product struct {
	XMLName     xml.Name `xml:"product"`
	ID          string   `xml:"merchant_product_id"`
	ParentID    string   `xml:"parent_product_id"`
	GTIN        string   `xml:"product_GTIN"`
	Name        string   `xml:"product_name"`
	ImageURL    string   `xml:"merchant_image_url"`
	Price       string   `xml:"search_price"`
	Currency    string   `xml:"currency"`
	Size        string   `xml:"size"`
	URL         string   `xml:"merchant_deep_link"`
	Colour      string   `xml:"colour"`
	InStock     string   `xml:"in_stock"`
	Brand       string   `xml:"brand_name"`
	Description string   `xml:"description"`
}

var (
	sizes   = []string{"XS", "S", "M", "L", "XL"}
	colours = []string{"Blue", "Red", "Black", "Coquelicot"}
	stock   = []string{"Y", "1", "Yes", "N"}
)

func main() {
	n := flag.Int("n", 1000, "number of feed rows")
	out := flag.String("out", "testdata", "output directory")
	refs := flag.String("refs", "examples/products", "directory with reference CSV files to convert")
	flag.Parse()

	if err := os.MkdirAll(*out, 0o755); err != nil {
		log.Fatal(err)
	}
	if err := writeFeed(filepath.Join(*out, "feed.xml"), *n); err != nil {
		log.Fatal(err)
	}
	if err := convertRefs(*refs, *out); err != nil {
		log.Fatal(err)
	}
}

// writeFeed emits n variants, five per parent product. Every 7th row has
// a zero price and every 4th colour is one the shop does not sell.
func writeFeed(path string, n int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteString(xml.Header + "<products>\n"); err != nil {
		return err
	}
	enc := xml.NewEncoder(f)
	enc.Indent("  ", "  ")
	for i := 0; i < n; i++ {
		parent := i / len(sizes)
		price := fmt.Sprintf("%d.99", 10+parent%90)
		if i%7 == 6 {
			price = "0"
		}
		p := product{
			ID:          fmt.Sprintf("V%d", i),
			ParentID:    fmt.Sprintf("P%d", parent),
			GTIN:        fmt.Sprintf("400%010d", i),
			Name:        fmt.Sprintf("Product %d", parent),
			ImageURL:    fmt.Sprintf("https://shop.example/img/v%d.jpg", i),
			Price:       price,
			Currency:    "EUR",
			Size:        sizes[i%len(sizes)],
			URL:         fmt.Sprintf("https://shop.example/p/v%d", i),
			Colour:      colours[i%len(colours)],
			InStock:     stock[i%len(stock)],
			Brand:       "Northwind",
			Description: "Generated product",
		}
		if err := enc.Encode(p); err != nil {
			return err
		}
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	_, err = f.WriteString("\n</products>\n")
	return err
}

// convertRefs writes .parquet and .avro copies of every CSV in dir.
func convertRefs(dir, out string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return err
	}
	ctx := context.Background()
	for _, m := range matches {
		if strings.HasSuffix(m, "_output.csv") {
			continue
		}
		t, err := loader.Load(m)
		if err != nil {
			return err
		}
		base := strings.TrimSuffix(filepath.Base(m), ".csv")
		for _, w := range []sink.Writer{
			sink.Parquet{Path: filepath.Join(out, base+".parquet"), Overwrite: true},
			sink.Avro{Path: filepath.Join(out, base+".avro"), Overwrite: true},
		} {
			if err := w.Write(ctx, t); err != nil {
				return err
			}
		}
		log.Printf("converted %s (%d rows)", m, t.Len())
	}
	return nil
}
